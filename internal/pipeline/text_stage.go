// Package pipeline turns a KID PDF into a validated record: text extraction,
// image enrichment, model extraction with feedback retries, then artifacts.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/kid-extractor/constants"
	"github.com/joseph-ayodele/kid-extractor/internal/ocr"
	"github.com/joseph-ayodele/kid-extractor/internal/vision"
)

// TextExtractor is satisfied by *ocr.Extractor.
type TextExtractor interface {
	Extract(ctx context.Context, pdfPath, imagesDir string) (ocr.Result, error)
}

// Enricher is satisfied by *vision.Captioner.
type Enricher interface {
	Enrich(ctx context.Context, markdown, baseDir string) (string, vision.Stats, error)
}

type TextResult struct {
	Markdown string
	Enriched string
	OCR      ocr.Result
	Vision   vision.Stats
}

type TextStage struct {
	extractor TextExtractor
	enricher  Enricher
	logger    *slog.Logger
}

// NewTextStage builds the PDF to markdown stage. enricher may be nil, in which
// case image links are kept as-is.
func NewTextStage(extractor TextExtractor, enricher Enricher, logger *slog.Logger) *TextStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextStage{extractor: extractor, enricher: enricher, logger: logger}
}

// Run extracts pdfPath into markdown, writing images under workDir/images,
// then replaces image links with their descriptions.
func (s *TextStage) Run(ctx context.Context, pdfPath, workDir string) (TextResult, error) {
	start := time.Now()
	res, err := s.extractor.Extract(ctx, pdfPath, filepath.Join(workDir, constants.ImagesDir))
	if err != nil {
		return TextResult{OCR: res}, fmt.Errorf("extract text: %w", err)
	}
	for _, w := range res.Warnings {
		s.logger.Warn("pipeline.text.warning", "file", filepath.Base(pdfPath), "warning", w)
	}

	out := TextResult{Markdown: res.Markdown, Enriched: res.Markdown, OCR: res}
	if s.enricher != nil && len(res.Images) > 0 {
		enriched, stats, err := s.enricher.Enrich(ctx, res.Markdown, workDir)
		if err != nil {
			return out, fmt.Errorf("enrich images: %w", err)
		}
		out.Enriched = enriched
		out.Vision = stats
	}

	s.logger.Info("pipeline.text.ok",
		"file", filepath.Base(pdfPath),
		"method", res.Method,
		"pages", len(res.Pages),
		"images", len(res.Images),
		"risk_level", out.Vision.RiskLevel,
		"chars", len(out.Enriched),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}
