package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// KID is the typed view of an extracted Key Information Document.
// Zero values mean the field was absent or malformed in the record.
type KID struct {
	Product     Product     `json:"product"`
	Document    Document    `json:"document"`
	Risk        Risk        `json:"risk"`
	Dates       Dates       `json:"dates"`
	Performance Performance `json:"performance"`
}

type Product struct {
	Name     string `json:"name"`
	ISIN     string `json:"isin"`
	Currency string `json:"currency"`
}

type Document struct {
	Type string `json:"type"`
}

type Risk struct {
	Level    int      `json:"level"`
	Warnings []string `json:"warnings"`
}

type Dates struct {
	Issue               time.Time `json:"issue"`
	Redemption          time.Time `json:"redemption"`
	RedemptionValuation time.Time `json:"redemption_valuation"`
}

type Performance struct {
	Scenarios []ScenarioOutcome `json:"scenarios"`
	Costs     Costs             `json:"costs"`
}

// ScenarioOutcome is one performance scenario, Name being canonical
// (favorable, moderate, unfavorable, stress).
type ScenarioOutcome struct {
	Name             string          `json:"name"`
	Initial          decimal.Decimal `json:"initial"`
	Final            decimal.Decimal `json:"final"`
	PercentageChange decimal.Decimal `json:"percentage_change"`
}

type Costs struct {
	Total          CostPair `json:"total"`
	ImpactOnReturn CostPair `json:"impact_on_return"`
}

// CostPair holds one-off and, when disclosed, ongoing costs.
type CostPair struct {
	OneOff  decimal.Decimal  `json:"one_off"`
	Ongoing *decimal.Decimal `json:"ongoing,omitempty"`
}

// Scenario returns the named scenario, if extracted.
func (k KID) Scenario(name string) (ScenarioOutcome, bool) {
	for _, s := range k.Performance.Scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return ScenarioOutcome{}, false
}
