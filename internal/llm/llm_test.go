package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"valid", `{"a": 1}`, `{"a": 1}`},
		{"prose and fence", "Voici le JSON :\n```json\n{\"a\": {\"b\": [1, 2]}}\n```\nMerci.", `{"a": {"b": [1, 2]}}`},
		{"truncated", `{"a": {"b": 1`, `{"a": {"b": 1}}`},
		{"truncated in string", `{"a": "Fonds Hor`, `{"a": "Fonds Hor"}`},
		{"truncated after comma", `{"a": [1, 2,`, `{"a": [1, 2]}`},
		{"trailing commas", `{"a": [1, 2,], "b": 3,}`, `{"a": [1, 2], "b": 3}`},
		{"python literal", `{'a': True, 'b': None, 'c': 'l\'ISIN', 'd': False}`, `{"a": true, "b": null, "c": "l'ISIN", "d": false}`},
		{"apostrophe in double quotes", `{"type": "Document d'informations clés"}`, `{"type": "Document d'informations clés"}`},
		{"first object only", `{"a": 1} puis {"b": 2}`, `{"a": 1}`},
		{"mismatched closer", `{"a": [1, 2}`, `{"a": [1, 2]}`},
		{"raw newline in string", "{\"a\": \"ligne 1\nligne 2\"}", `{"a": "ligne 1\nligne 2"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RepairJSON(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestRepairJSON_Errors(t *testing.T) {
	_, err := RepairJSON("je ne sais pas")
	assert.ErrorIs(t, err, ErrNoJSONObject)

	_, err = RepairJSON(`{"a": }`)
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestBuildKIDJSONSchema_AcceptsWellFormedRecord(t *testing.T) {
	schema := BuildKIDJSONSchema()
	record := `{
		"product": {"name": "Fonds", "isin": "FR0010315770", "currency": "EUR"},
		"document": {"type": "DIC"},
		"risk": {"level": 4, "warnings": ["Perte en capital"]},
		"dates": {"issue": "01/03/2020", "redemption": "01/03/2030", "redemption_valuation": "22/02/2030"},
		"performance": {
			"scenarios": {
				"favorable": {"initial": 10000, "final": 14500, "percentage_change": 45},
				"moderate": {"initial": 10000, "final": 11200, "percentage_change": 12},
				"unfavorable": {"initial": 10000, "final": 8700, "percentage_change": -13},
				"stress": {"initial": 10000, "final": 5400, "percentage_change": -46}
			},
			"costs": {"total": {"one_off": 250, "ongoing": null}, "impact_on_return": {"one_off": 2.5}}
		}
	}`
	assert.NoError(t, ValidateJSONAgainstSchema(schema, []byte(record)))

	bad := strings.Replace(record, `"level": 4`, `"level": "élevé"`, 1)
	assert.Error(t, ValidateJSONAgainstSchema(schema, []byte(bad)))
}

func TestBuildExtractionPrompt(t *testing.T) {
	p := BuildExtractionPrompt("## Page 1\nFonds Horizon", BuildKIDJSONSchema(), ExtractionHints{FileName: "kid.pdf", RiskLevel: 3})

	assert.Contains(t, p, "JJ/MM/AAAA")
	assert.Contains(t, p, "Fonds Horizon")
	assert.Contains(t, p, "(kid.pdf)")
	assert.Contains(t, p, "niveau de risque de 3 sur 7")
	assert.Contains(t, p, `"percentage_change"`)

	p = BuildExtractionPrompt("texte", BuildKIDJSONSchema(), ExtractionHints{})
	assert.NotContains(t, p, "sur 7 ;")
}

func TestBuildFeedbackPrompt(t *testing.T) {
	p := BuildFeedbackPrompt("BASE", `{"a":1}`, []string{"champ 'product.name' manquant ou invalide"})
	assert.True(t, strings.HasPrefix(p, "BASE"))
	assert.Contains(t, p, "- champ 'product.name' manquant ou invalide")
}

func TestBuildSummaryPrompt_Truncates(t *testing.T) {
	long := strings.Repeat("é", MaxPromptChars)
	p := BuildSummaryPrompt(long)
	assert.True(t, strings.HasPrefix(p, "[INST] Tu es un expert financier."))
	assert.Less(t, len(p), MaxPromptChars+1000)
	assert.True(t, strings.HasSuffix(p, "[/INST]"))
}

func TestSendJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["fail"] == true {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("loading model"))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	headers := map[string]string{"Authorization": "Bearer k"}
	raw, err := SendJSON(context.Background(), srv.Client(), srv.URL, map[string]any{}, headers, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	_, err = SendJSON(context.Background(), srv.Client(), srv.URL, map[string]any{"fail": true}, headers, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.True(t, se.Temporary())
}
