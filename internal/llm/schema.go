package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/kid-extractor/constants"
)

// BuildKIDJSONSchema returns the record shape we ask the model to fill, as a
// generic map. It is embedded in the extraction prompt and checked locally as
// a diagnostic only; acceptance is decided by the validation engine.
func BuildKIDJSONSchema() map[string]any {
	scenarios := map[string]any{}
	for _, s := range constants.ScenarioNames() {
		scenarios[s] = object(map[string]any{
			"initial":           numberProp(),
			"final":             numberProp(),
			"percentage_change": numberProp(),
		}, "initial", "final", "percentage_change")
	}

	return object(map[string]any{
		"product": object(map[string]any{
			"name":     stringProp(),
			"isin":     map[string]any{"type": "string", "pattern": `^[A-Z]{2}[A-Z0-9]{9}[0-9]$`},
			"currency": map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
		}, "name", "isin", "currency"),
		"document": object(map[string]any{
			"type": stringProp(),
		}, "type"),
		"risk": object(map[string]any{
			"level":    map[string]any{"type": "integer", "minimum": 1, "maximum": 7},
			"warnings": map[string]any{"type": "array", "items": stringProp()},
		}, "level"),
		"dates": object(map[string]any{
			"issue":                dateProp(),
			"redemption":           dateProp(),
			"redemption_valuation": dateProp(),
		}, "issue", "redemption", "redemption_valuation"),
		"performance": object(map[string]any{
			"scenarios": object(scenarios, constants.ScenarioNames()...),
			"costs": object(map[string]any{
				"total":            costProp(),
				"impact_on_return": costProp(),
			}, "total", "impact_on_return"),
		}, "scenarios", "costs"),
	}, "product", "document", "risk", "dates", "performance")
}

func object(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func stringProp() map[string]any {
	return map[string]any{"type": "string", "minLength": 1}
}

func numberProp() map[string]any {
	return map[string]any{"type": "number"}
}

func dateProp() map[string]any {
	return map[string]any{"type": "string", "pattern": `^\d{2}/\d{2}/\d{4}$`}
}

func costProp() map[string]any {
	return object(map[string]any{
		"one_off": numberProp(),
		"ongoing": map[string]any{"type": []string{"number", "null"}},
	}, "one_off")
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
