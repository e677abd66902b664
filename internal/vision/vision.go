// Package vision replaces image links in extracted markdown with what a
// vision model sees in them, chiefly the KID risk scale.
package vision

import (
	"context"
	"regexp"
	"strconv"
)

// Describer answers a question about one image file.
type Describer interface {
	Describe(ctx context.Context, imagePath, prompt string) (string, error)
}

// DescriberFunc adapts a function to Describer.
type DescriberFunc func(ctx context.Context, imagePath, prompt string) (string, error)

func (f DescriberFunc) Describe(ctx context.Context, imagePath, prompt string) (string, error) {
	return f(ctx, imagePath, prompt)
}

// RiskScalePrompt asks whether an image is a 1..7 risk scale and which level it highlights.
const RiskScalePrompt = `Analyse cette image et suis ces instructions précises :

1. Vérifie d'abord si l'image contient une échelle de risque numérotée de 1 à 7 avec un chiffre mis en évidence.
   Une échelle de risque valide doit avoir :
   - Une série de 7 cases ou niveaux numérotés de 1 à 7
   - Un chiffre clairement mis en évidence (par exemple en couleur différente ou surligné)
   - Des mentions "Risque le plus faible" et "Risque le plus élevé" aux extrémités

2. Si tu identifies une telle échelle de risque :
   - Réponds UNIQUEMENT avec la phrase exacte : "le niveau de risque de ce document est : X"
   où X est le chiffre mis en évidence dans l'échelle

3. Si l'image ne contient PAS une échelle de risque valide selon les critères ci-dessus :
   - Réponds UNIQUEMENT : "cette image ne semble pas indiquer de risque"

Ne fais AUCUN autre commentaire ou description. Ta réponse doit être UNIQUEMENT l'une des deux phrases mentionnées ci-dessus.`

// NoRiskAnswer is the answer expected for images without a risk scale.
const NoRiskAnswer = "cette image ne semble pas indiquer de risque"

var reRiskLevel = regexp.MustCompile(`(?i)niveau de risque de ce document est\s*:?\s*([1-7])\b`)

// ParseRiskLevel extracts the level from a risk-scale answer or caption.
func ParseRiskLevel(text string) (int, bool) {
	m := reRiskLevel.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}
