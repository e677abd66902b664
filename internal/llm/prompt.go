package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ExtractionHints carries what earlier stages learned about the document.
type ExtractionHints struct {
	FileName  string
	RiskLevel int // from image captions, 0 when unknown
}

// MaxPromptChars bounds the document text embedded in a prompt.
const MaxPromptChars = 24000

// BuildExtractionPrompt asks the model to fill schema from the document text.
func BuildExtractionPrompt(markdown string, schema map[string]any, hints ExtractionHints) string {
	schemaJSON, _ := json.MarshalIndent(schema, "", "  ")

	var b strings.Builder
	b.WriteString("[INST] Tu es un assistant spécialisé dans l'extraction d'informations structurées à partir de texte. ")
	b.WriteString("Ta tâche est de remplir le JSON Schema suivant avec les informations contenues dans le document fourni.\n\n")
	b.WriteString("Voici le JSON Schema :\n\n")
	b.Write(schemaJSON)
	b.WriteString("\n\nVoici le document")
	if hints.FileName != "" {
		fmt.Fprintf(&b, " (%s)", hints.FileName)
	}
	b.WriteString(" :\n\n")
	b.WriteString(truncate(markdown, MaxPromptChars))
	b.WriteString("\n\nInstructions importantes :\n\n")
	for _, line := range extractionRules {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	if hints.RiskLevel >= 1 && hints.RiskLevel <= 7 {
		fmt.Fprintf(&b, "- L'analyse des images indique un niveau de risque de %d sur 7 ; vérifie-le dans le texte.\n", hints.RiskLevel)
	}
	b.WriteString("\nTa réponse doit être uniquement le JSON complété, sans texte additionnel. [/INST]\n")
	return b.String()
}

var extractionRules = []string{
	"Si une information n'est pas présente dans le document, mets null.",
	"Respecte scrupuleusement le format JSON (guillemets doubles, virgules, accolades, crochets).",
	"Pour les dates, utilise le format JJ/MM/AAAA.",
	"Pour les nombres, utilise le format numérique (2 et non \"deux\"), sans symbole monétaire ni signe %.",
	"Le niveau de risque est un entier de 1 à 7.",
	"Dans \"performance.scenarios\", chaque scénario (favorable, moderate, unfavorable, stress) apparaît une seule fois ; " +
		"ils correspondent aux scénarios Favorable, Intermédiaire, Défavorable et Tensions du document.",
	"Pour chaque scénario, \"initial\" est le montant investi, \"final\" le montant obtenu à la période de détention recommandée " +
		"et \"percentage_change\" la performance en pourcentage. Ne confonds pas les chiffres entre scénarios.",
	"Les coûts \"one_off\" sont les coûts ponctuels, \"ongoing\" les coûts récurrents.",
}

// BuildFeedbackPrompt re-asks the extraction with the problems found in the
// previous answer.
func BuildFeedbackPrompt(base string, previous string, feedback []string) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n[INST] Ta réponse précédente était :\n\n")
	b.WriteString(truncate(previous, MaxPromptChars/4))
	b.WriteString("\n\nElle contient les problèmes suivants :\n")
	for _, f := range feedback {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	b.WriteString("\nCorrige ces problèmes en relisant le document et renvoie uniquement le JSON complet corrigé. [/INST]\n")
	return b.String()
}

// BuildSummaryPrompt asks for a structured French summary of a financial document.
func BuildSummaryPrompt(content string) string {
	return "[INST] Tu es un expert financier. Fais un résumé clair et bien structuré de ce document financier.\n" +
		"Mets en avant les informations essentielles comme :\n" +
		"- Le nom et type du produit\n" +
		"- Le niveau de risque et les avertissements importants\n" +
		"- Les dates clés\n" +
		"- Les scénarios de performance\n" +
		"- Les coûts\n\n" +
		"Utilise une présentation claire avec des titres et des puces pour faciliter la lecture.\n\n" +
		"Document :\n\n" +
		truncate(content, MaxPromptChars) +
		"\n\n[/INST]"
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
