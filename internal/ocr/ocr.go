package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/kid-extractor/constants"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Pdfimages string // binary name or absolute path; if empty -> "pdfimages"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "fra+eng"
	TessdataDir   string
	DPI           int // rasterization DPI for pages without a text layer, default 300
	MaxPages      int // 0 = no limit

	// MinPageChars is the text layer length under which a page is OCR'd.
	MinPageChars int
	// SkipImages disables embedded image extraction.
	SkipImages bool
}

// Page is the text of one PDF page.
type Page struct {
	Number int
	Text   string
	OCR    bool     // text came from tesseract
	Images []string // paths relative to the markdown file, e.g. images/img-001-000.png
}

type Result struct {
	Markdown string
	Pages    []Page
	Images   []string
	Method   string // "pdf-text" | "pdf-native" | "pdf-ocr" | "pdf-text+ocr"
	Duration time.Duration
	Warnings []string
}

var (
	ErrUnsupported = errors.New("unsupported document type")
	ErrNoText      = errors.New("no text could be extracted")
)

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, runner Runner, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Pdfimages == "" {
		cfg.Pdfimages = "pdfimages"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "fra+eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.MinPageChars <= 0 {
		cfg.MinPageChars = 20
	}
	return &Extractor{cfg: cfg, runner: runner, logger: logger}
}

// Extract converts a PDF to markdown with one "## Page N" section per page.
// Embedded images are written to imagesDir and referenced from their page
// so that captioning can replace them; an empty imagesDir skips them.
func (e *Extractor) Extract(ctx context.Context, pdfPath, imagesDir string) (Result, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(pdfPath))
	if !constants.AllowedExt(ext) {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	if _, err := os.Stat(pdfPath); err != nil {
		return Result{}, fmt.Errorf("open document: %w", err)
	}

	e.logger.Info("ocr.extract.start", "path", pdfPath)

	texts, method, warns, err := e.textLayer(ctx, pdfPath)
	if err != nil {
		e.logger.Error("ocr.extract.text_layer_failed", "path", pdfPath, "error", err)
	}
	res := Result{Method: method, Warnings: warns}
	if e.cfg.MaxPages > 0 && len(texts) > e.cfg.MaxPages {
		texts = texts[:e.cfg.MaxPages]
	}

	pages, ocrWarns := e.fillPages(ctx, pdfPath, texts)
	res.Warnings = append(res.Warnings, ocrWarns...)
	res.Pages = pages
	res.Method = pageMethod(method, pages)

	if !e.cfg.SkipImages && imagesDir != "" {
		imgs, w := e.extractImages(ctx, pdfPath, imagesDir)
		res.Warnings = append(res.Warnings, w...)
		attachImages(res.Pages, imgs)
		for _, p := range res.Pages {
			res.Images = append(res.Images, p.Images...)
		}
	}

	res.Markdown = renderMarkdown(res.Pages)
	res.Duration = time.Since(start)

	if strings.TrimSpace(stripHeadings(res.Markdown)) == "" && len(res.Images) == 0 {
		e.logger.Error("ocr.extract.empty", "path", pdfPath, "warnings", len(res.Warnings))
		return res, ErrNoText
	}

	e.logger.Info("ocr.extract.ok",
		"path", pdfPath,
		"method", res.Method,
		"pages", len(res.Pages),
		"images", len(res.Images),
		"chars", len(res.Markdown),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// fillPages OCRs the pages whose text layer is too thin. With no text layer
// at all, pages are rasterized until pdftoppm renders nothing.
func (e *Extractor) fillPages(ctx context.Context, pdfPath string, texts []string) ([]Page, []string) {
	var warns []string
	if len(texts) == 0 {
		texts, warns = e.ocrAll(ctx, pdfPath)
		pages := make([]Page, len(texts))
		for i, t := range texts {
			pages[i] = Page{Number: i + 1, Text: t, OCR: true}
		}
		return pages, warns
	}

	pages := make([]Page, len(texts))
	for i, t := range texts {
		t = Normalize(t)
		pages[i] = Page{Number: i + 1, Text: t}
		if len([]rune(t)) >= e.cfg.MinPageChars {
			continue
		}
		txt, err := e.ocrPage(ctx, pdfPath, i+1)
		if err != nil {
			warns = append(warns, fmt.Sprintf("page %d: %v", i+1, err))
			continue
		}
		if len(txt) > len(t) {
			pages[i].Text = txt
			pages[i].OCR = true
		}
	}
	return pages, warns
}

func pageMethod(textMethod string, pages []Page) string {
	ocrCount := 0
	for _, p := range pages {
		if p.OCR {
			ocrCount++
		}
	}
	switch {
	case len(pages) > 0 && ocrCount == len(pages):
		return "pdf-ocr"
	case ocrCount > 0:
		return textMethod + "+ocr"
	}
	return textMethod
}

func renderMarkdown(pages []Page) string {
	var b strings.Builder
	for _, p := range pages {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## Page %d\n\n", p.Number)
		b.WriteString(p.Text)
		for _, img := range p.Images {
			fmt.Fprintf(&b, "\n\n![](%s)", img)
		}
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	return b.String()
}

func stripHeadings(md string) string {
	var b strings.Builder
	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(line, "## Page ") {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}
