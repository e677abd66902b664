package vision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/joseph-ayodele/kid-extractor/constants"
)

var reImageLink = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)

// Stats summarizes one enrichment run.
type Stats struct {
	Images    int
	Described int
	Missing   int
	Failed    int
	RiskLevel int // first level read from a risk scale, 0 if none
}

type Captioner struct {
	Describer   Describer
	Prompt      string // default RiskScalePrompt
	Concurrency int64  // parallel Describe calls, default 2
	Logger      *slog.Logger
}

func NewCaptioner(d Describer, logger *slog.Logger) *Captioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Captioner{Describer: d, Prompt: RiskScalePrompt, Concurrency: 2, Logger: logger}
}

// Enrich replaces every ![alt](path) in markdown with the model's answer.
// Images are looked up as <baseDir>/images/<basename>. A missing image or a
// describer failure is written inline; only context cancellation is an error.
func (c *Captioner) Enrich(ctx context.Context, markdown, baseDir string) (string, Stats, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prompt := c.Prompt
	if prompt == "" {
		prompt = RiskScalePrompt
	}
	limit := c.Concurrency
	if limit <= 0 {
		limit = 2
	}

	matches := reImageLink.FindAllStringSubmatchIndex(markdown, -1)
	stats := Stats{Images: len(matches)}
	if len(matches) == 0 || c.Describer == nil {
		return markdown, stats, nil
	}

	start := time.Now()
	logger.Info("vision.enrich.start", "images", len(matches))

	type outcome struct {
		text    string
		answer  string
		missing bool
		failed  bool
	}
	results := make([]outcome, len(matches))
	sem := semaphore.NewWeighted(limit)
	var wg sync.WaitGroup

	for i, m := range matches {
		ref := markdown[m[4]:m[5]]
		imgPath := filepath.Join(baseDir, constants.ImagesDir, filepath.Base(ref))

		if _, err := os.Stat(imgPath); err != nil {
			results[i] = outcome{text: fmt.Sprintf("[Erreur: Image non trouvée: %s]", imgPath), missing: true}
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return markdown, stats, err
		}
		wg.Add(1)
		go func(i int, imgPath string) {
			defer wg.Done()
			defer sem.Release(1)
			answer, err := c.Describer.Describe(ctx, imgPath, prompt)
			if err != nil {
				logger.Warn("vision.describe.failed", "image", imgPath, "error", err)
				results[i] = outcome{text: fmt.Sprintf("[Erreur lors de l'analyse de l'image: %v]", err), failed: true}
				return
			}
			answer = strings.TrimSpace(answer)
			results[i] = outcome{text: fmt.Sprintf("[Description d'image: %s]", answer), answer: answer}
		}(i, imgPath)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return markdown, stats, err
	}

	var b strings.Builder
	last := 0
	for i, m := range matches {
		b.WriteString(markdown[last:m[0]])
		b.WriteString(results[i].text)
		last = m[1]

		switch {
		case results[i].missing:
			stats.Missing++
		case results[i].failed:
			stats.Failed++
		default:
			stats.Described++
			if level, ok := ParseRiskLevel(results[i].answer); ok && stats.RiskLevel == 0 {
				stats.RiskLevel = level
			}
		}
	}
	b.WriteString(markdown[last:])

	logger.Info("vision.enrich.ok",
		"images", stats.Images,
		"described", stats.Described,
		"missing", stats.Missing,
		"failed", stats.Failed,
		"risk_level", stats.RiskLevel,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return b.String(), stats, nil
}
