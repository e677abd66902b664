package render

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/kid-extractor/constants"
	"github.com/joseph-ayodele/kid-extractor/internal/entity"
	"github.com/joseph-ayodele/kid-extractor/internal/validation"
)

var scenarioLabels = map[constants.Scenario]string{
	constants.Favorable:   "Favorable",
	constants.Moderate:    "Intermédiaire",
	constants.Unfavorable: "Défavorable",
	constants.Stress:      "Tensions",
}

// Text writes a French plain-text summary of doc. The output depends only on
// its inputs; result may be nil.
func Text(doc entity.KID, result *validation.Result) string {
	var b strings.Builder

	b.WriteString("Résumé du document d'informations clés\n\n")

	b.WriteString("Produit\n")
	line(&b, "Nom", doc.Product.Name)
	line(&b, "Type", doc.Document.Type)
	line(&b, "ISIN", doc.Product.ISIN)
	line(&b, "Devise", doc.Product.Currency)

	b.WriteString("\nRisque\n")
	if doc.Risk.Level > 0 {
		line(&b, "Niveau", fmt.Sprintf("%d sur 7", doc.Risk.Level))
	}
	for _, w := range doc.Risk.Warnings {
		fmt.Fprintf(&b, "- Avertissement : %s\n", w)
	}

	b.WriteString("\nDates clés\n")
	line(&b, "Émission", formatDate(doc.Dates.Issue))
	line(&b, "Remboursement", formatDate(doc.Dates.Redemption))
	line(&b, "Valorisation du remboursement", formatDate(doc.Dates.RedemptionValuation))

	b.WriteString("\nScénarios de performance\n")
	for _, name := range constants.Scenarios() {
		s, ok := doc.Scenario(string(name))
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s : %s %s investis, %s %s à l'échéance (%s)\n",
			scenarioLabels[name],
			s.Initial.String(), doc.Product.Currency,
			s.Final.String(), doc.Product.Currency,
			formatPercent(s.PercentageChange),
		)
	}

	b.WriteString("\nCoûts\n")
	costLine(&b, "Coûts totaux", doc.Performance.Costs.Total, doc.Product.Currency)
	costLine(&b, "Incidence sur le rendement", doc.Performance.Costs.ImpactOnReturn, "%")

	if result != nil {
		fmt.Fprintf(&b, "\nQualité de l'extraction : %.2f\n", result.Score)
		for _, f := range result.Feedback {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

func line(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- %s : %s\n", label, value)
}

func costLine(b *strings.Builder, label string, p entity.CostPair, unit string) {
	text := "ponctuels " + withUnit(p.OneOff, unit)
	if p.Ongoing != nil {
		text += ", récurrents " + withUnit(*p.Ongoing, unit)
	}
	line(b, label, text)
}

func withUnit(d decimal.Decimal, unit string) string {
	s := d.String()
	if unit == "" {
		return s
	}
	return s + " " + unit
}
