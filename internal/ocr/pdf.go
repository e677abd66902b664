package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// textLayer returns the embedded text of every page. pdftotext is preferred;
// when it cannot run, the pure-Go reader is used instead.
func (e *Extractor) textLayer(ctx context.Context, path string) ([]string, string, []string, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err == nil {
		return splitPages(string(out)), "pdf-text", nil, nil
	}
	if ctx.Err() != nil {
		return nil, "pdf-text", nil, ctx.Err()
	}
	warns := []string{fmt.Sprintf("pdftotext: %v %s", err, strings.TrimSpace(string(errb)))}

	pages, err := nativePages(path)
	if err != nil {
		return nil, "pdf-ocr", append(warns, err.Error()), err
	}
	return pages, "pdf-native", warns, nil
}

// splitPages splits pdftotext output on form feeds.
func splitPages(text string) []string {
	pages := strings.Split(text, "\f")
	if len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages
}

// nativePages reads the text layer with github.com/ledongthuc/pdf. Empty
// pages are kept so that page numbers stay aligned.
func nativePages(path string) (pages []string, err error) {
	// the parser panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf %s: %v", filepath.Base(path), r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				f2 := p.Font(name)
				fonts[name] = &f2
			}
		}
		text, pageErr := p.GetPlainText(fonts)
		if pageErr != nil {
			return nil, fmt.Errorf("read pdf page %d: %w", i, pageErr)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// ocrPage rasterizes one page and OCRs it.
func (e *Extractor) ocrPage(ctx context.Context, path string, page int) (string, error) {
	tmpDir, err := os.MkdirTemp("", "kid-pp-*")
	if err != nil {
		return "", err
	}
	defer e.removeAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	n := strconv.Itoa(page)
	// pdftoppm -f N -l N -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-f", n, "-l", n, "-r", strconv.Itoa(e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return "", fmt.Errorf("pdftoppm: %w %s", err, strings.TrimSpace(string(errb)))
	}
	matches, _ := filepath.Glob(prefix + "-*.png")
	if len(matches) == 0 {
		return "", fmt.Errorf("pdftoppm rendered no image for page %d", page)
	}
	return e.tesseract(ctx, matches[0])
}

// ocrAll rasterizes every page and OCRs them in order.
func (e *Extractor) ocrAll(ctx context.Context, path string) ([]string, []string) {
	tmpDir, err := os.MkdirTemp("", "kid-pp-*")
	if err != nil {
		return nil, []string{err.Error()}
	}
	defer e.removeAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	args := []string{"-r", strconv.Itoa(e.cfg.DPI), "-png"}
	if e.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(e.cfg.MaxPages))
	}
	args = append(args, path, prefix)
	if _, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, args...); err != nil {
		return nil, []string{fmt.Sprintf("pdftoppm: %v %s", err, strings.TrimSpace(string(errb)))}
	}

	// page-1.png ... or page-01.png ...; pdftoppm pads to a common width
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)

	var warns []string
	texts := make([]string, len(matches))
	for i, img := range matches {
		txt, err := e.tesseract(ctx, img)
		if err != nil {
			warns = append(warns, fmt.Sprintf("page %d: %v", i+1, err))
			continue
		}
		texts[i] = txt
	}
	return texts, warns
}

func (e *Extractor) tesseract(ctx context.Context, img string) (string, error) {
	args := []string{img, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w %s", err, strings.TrimSpace(string(errb)))
	}
	return Normalize(string(out)), nil
}

func (e *Extractor) removeAll(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		e.logger.Warn("ocr.tmp.cleanup_failed", "dir", dir, "error", err)
	}
}
