// Package render turns an accepted KID into its XML and plain-text forms.
package render

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/kid-extractor/constants"
	"github.com/joseph-ayodele/kid-extractor/internal/entity"
	"github.com/joseph-ayodele/kid-extractor/internal/validation"
)

const dateLayout = "02/01/2006"

type keyInformation struct {
	XMLName     xml.Name       `xml:"key-information"`
	Product     xmlProduct     `xml:"product"`
	Risk        xmlRisk        `xml:"risk"`
	Dates       xmlDates       `xml:"dates"`
	Performance xmlPerformance `xml:"performance"`
	Costs       xmlCosts       `xml:"costs"`
}

type xmlProduct struct {
	Name     string `xml:"name,attr"`
	Type     string `xml:"type,attr"`
	ISIN     string `xml:"isin,attr"`
	Currency string `xml:"currency,attr"`
}

type xmlRisk struct {
	Level    int         `xml:"level,attr"`
	Warnings xmlWarnings `xml:"warnings"`
}

type xmlWarnings struct {
	Items []string `xml:"warning"`
}

type xmlDates struct {
	Issue      string `xml:"issue,attr"`
	Redemption string `xml:"redemption,attr"`
	Valuation  string `xml:"valuation,attr"`
}

type xmlPerformance struct {
	Scenarios []xmlScenario `xml:"scenario"`
}

type xmlScenario struct {
	Type    string `xml:"type,attr"`
	Initial string `xml:"initial,attr"`
	Final   string `xml:"final,attr"`
	Change  string `xml:"change,attr"`
}

type xmlCosts struct {
	Total          xmlCost `xml:"total"`
	ImpactOnReturn xmlCost `xml:"impact_on_return"`
}

type xmlCost struct {
	OneOff  string `xml:"one_off,attr"`
	Ongoing string `xml:"ongoing,attr,omitempty"`
}

// XML renders doc as an indented key-information document. Scenarios are
// written in canonical order and skipped when absent; ongoing costs only
// when disclosed and non-zero.
func XML(doc entity.KID) ([]byte, error) {
	out := keyInformation{
		Product: xmlProduct{
			Name:     doc.Product.Name,
			Type:     doc.Document.Type,
			ISIN:     doc.Product.ISIN,
			Currency: doc.Product.Currency,
		},
		Risk: xmlRisk{Level: doc.Risk.Level, Warnings: xmlWarnings{Items: doc.Risk.Warnings}},
		Dates: xmlDates{
			Issue:      formatDate(doc.Dates.Issue),
			Redemption: formatDate(doc.Dates.Redemption),
			Valuation:  formatDate(doc.Dates.RedemptionValuation),
		},
		Costs: xmlCosts{
			Total:          costAttrs(doc.Performance.Costs.Total),
			ImpactOnReturn: costAttrs(doc.Performance.Costs.ImpactOnReturn),
		},
	}
	for _, name := range constants.Scenarios() {
		s, ok := doc.Scenario(string(name))
		if !ok {
			continue
		}
		out.Performance.Scenarios = append(out.Performance.Scenarios, xmlScenario{
			Type:    string(name),
			Initial: s.Initial.String(),
			Final:   s.Final.String(),
			Change:  s.PercentageChange.String(),
		})
	}

	body, err := xml.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal key-information: %w", err)
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

func costAttrs(p entity.CostPair) xmlCost {
	c := xmlCost{OneOff: p.OneOff.String()}
	if p.Ongoing != nil && !p.Ongoing.IsZero() {
		c.Ongoing = p.Ongoing.String()
	}
	return c
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func formatPercent(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if d.IsPositive() {
		s = "+" + s
	}
	return s + " %"
}

// FromRecord decodes a stored record into its typed view and verdict.
func FromRecord(v *validation.Validator, record []byte) (entity.KID, *validation.Result, error) {
	res, err := v.ValidateJSON(record)
	if err != nil {
		return entity.KID{}, nil, err
	}
	fields, err := v.Normalize(record)
	if err != nil {
		return entity.KID{}, nil, err
	}
	return fields.KID(), res, nil
}
