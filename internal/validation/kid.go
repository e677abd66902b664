package validation

import (
	"github.com/joseph-ayodele/kid-extractor/internal/entity"
)

// KID builds the typed document from the fields that passed the schema pass.
func (f *Fields) KID() entity.KID {
	var k entity.KID
	k.Product.Name, _ = f.String("product.name")
	k.Product.ISIN, _ = f.String("product.isin")
	k.Product.Currency, _ = f.String("product.currency")
	k.Document.Type, _ = f.String("document.type")
	k.Risk.Level, _ = f.Int("risk.level")
	if w, ok := f.Strings("risk.warnings"); ok {
		k.Risk.Warnings = append([]string(nil), w...)
	}
	k.Dates.Issue, _ = f.Date("dates.issue")
	k.Dates.Redemption, _ = f.Date("dates.redemption")
	k.Dates.RedemptionValuation, _ = f.Date("dates.redemption_valuation")

	for _, s := range f.Scenarios() {
		out := entity.ScenarioOutcome{Name: string(s)}
		out.Initial, _ = f.Decimal(ScenarioPath(s, "initial"))
		out.Final, _ = f.Decimal(ScenarioPath(s, "final"))
		out.PercentageChange, _ = f.Decimal(ScenarioPath(s, "percentage_change"))
		k.Performance.Scenarios = append(k.Performance.Scenarios, out)
	}

	k.Performance.Costs.Total = f.costPair("performance.costs.total")
	k.Performance.Costs.ImpactOnReturn = f.costPair("performance.costs.impact_on_return")
	return k
}

func (f *Fields) costPair(prefix string) entity.CostPair {
	var p entity.CostPair
	p.OneOff, _ = f.Decimal(prefix + ".one_off")
	if d, ok := f.Decimal(prefix + ".ongoing"); ok {
		p.Ongoing = &d
	}
	return p
}
