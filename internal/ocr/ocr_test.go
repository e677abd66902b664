package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    []call
	handlers map[string]func(args []string) ([]byte, []byte, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: args})
	f.mu.Unlock()
	if h, ok := f.handlers[name]; ok {
		return h(args)
	}
	return nil, []byte("not found"), errors.New("exec: " + name + ": executable file not found in $PATH")
}

func (f *fakeRunner) called(name string) int {
	n := 0
	for _, c := range f.calls {
		if c.name == name {
			n++
		}
	}
	return n
}

// writeRendered creates <prefix>-1.png as pdftoppm would.
func writeRendered(args []string) ([]byte, []byte, error) {
	prefix := args[len(args)-1]
	return nil, nil, os.WriteFile(prefix+"-1.png", []byte("png"), 0o644)
}

func tempPDF(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "kid.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.7\n"), 0o644))
	return p
}

func TestExtractor_Extract_TextLayer(t *testing.T) {
	r := &fakeRunner{handlers: map[string]func([]string) ([]byte, []byte, error){
		"pdftotext": func(args []string) ([]byte, []byte, error) {
			assert.Equal(t, []string{"-layout", "-enc", "UTF-8", "-eol", "unix"}, args[:5])
			return []byte("Document d'informations clés\t\tFonds Horizon\f\nIndicateur de risque :   4 sur 7\r\n\f"), nil, nil
		},
	}}
	e := NewExtractor(Config{SkipImages: true}, r, nil)

	res, err := e.Extract(context.Background(), tempPDF(t), "")
	require.NoError(t, err)

	assert.Equal(t, "pdf-text", res.Method)
	require.Len(t, res.Pages, 2)
	assert.Equal(t, "## Page 1\n\nDocument d'informations clés Fonds Horizon\n\n## Page 2\n\nIndicateur de risque : 4 sur 7\n", res.Markdown)
	assert.Zero(t, r.called("tesseract"))
}

func TestExtractor_Extract_OCRsThinPages(t *testing.T) {
	r := &fakeRunner{handlers: map[string]func([]string) ([]byte, []byte, error){
		"pdftotext": func([]string) ([]byte, []byte, error) {
			return []byte("Scénario favorable : 14 500 EUR, soit +45 %\f  \f"), nil, nil
		},
		"pdftoppm": func(args []string) ([]byte, []byte, error) {
			assert.Equal(t, []string{"-f", "2", "-l", "2", "-r", "300", "-png"}, args[:7])
			return writeRendered(args)
		},
		"tesseract": func(args []string) ([]byte, []byte, error) {
			assert.Equal(t, "fra+eng", args[3])
			return []byte("Coûts ponctuels   250 EUR\n"), nil, nil
		},
	}}
	e := NewExtractor(Config{SkipImages: true}, r, nil)

	res, err := e.Extract(context.Background(), tempPDF(t), "")
	require.NoError(t, err)

	assert.Equal(t, "pdf-text+ocr", res.Method)
	require.Len(t, res.Pages, 2)
	assert.False(t, res.Pages[0].OCR)
	assert.True(t, res.Pages[1].OCR)
	assert.Equal(t, "Coûts ponctuels 250 EUR", res.Pages[1].Text)
}

func TestExtractor_Extract_ScannedDocument(t *testing.T) {
	r := &fakeRunner{handlers: map[string]func([]string) ([]byte, []byte, error){
		"pdftotext": func([]string) ([]byte, []byte, error) { return []byte("\f"), nil, nil },
		"pdftoppm":  writeRendered,
		"tesseract": func([]string) ([]byte, []byte, error) { return []byte("Texte numérisé de la page"), nil, nil },
	}}
	e := NewExtractor(Config{SkipImages: true}, r, nil)

	res, err := e.Extract(context.Background(), tempPDF(t), "")
	require.NoError(t, err)
	assert.Equal(t, "pdf-ocr", res.Method)
	assert.Contains(t, res.Markdown, "Texte numérisé")
}

func TestExtractor_Extract_NothingReadable(t *testing.T) {
	r := &fakeRunner{handlers: map[string]func([]string) ([]byte, []byte, error){
		"pdftotext": func([]string) ([]byte, []byte, error) { return []byte(""), nil, nil },
		"pdftoppm": func([]string) ([]byte, []byte, error) {
			return nil, []byte("Syntax Error"), errors.New("exit status 1")
		},
	}}
	e := NewExtractor(Config{SkipImages: true}, r, nil)

	res, err := e.Extract(context.Background(), tempPDF(t), "")
	assert.ErrorIs(t, err, ErrNoText)
	assert.NotEmpty(t, res.Warnings)
}

func TestExtractor_Extract_EmbeddedImages(t *testing.T) {
	r := &fakeRunner{handlers: map[string]func([]string) ([]byte, []byte, error){
		"pdftotext": func([]string) ([]byte, []byte, error) {
			return []byte("Indicateur synthétique de risque de la page un\fPerformance de la page deux\f"), nil, nil
		},
		"pdfimages": func(args []string) ([]byte, []byte, error) {
			prefix := args[len(args)-1]
			for _, n := range []string{"-001-000.png", "-002-001.png", "-001-002.png"} {
				if err := os.WriteFile(prefix+n, []byte("png"), 0o644); err != nil {
					return nil, nil, err
				}
			}
			return nil, nil, nil
		},
	}}
	e := NewExtractor(Config{}, r, nil)
	imagesDir := filepath.Join(t.TempDir(), "images")

	res, err := e.Extract(context.Background(), tempPDF(t), imagesDir)
	require.NoError(t, err)

	assert.Equal(t, []string{"images/img-001-000.png", "images/img-001-002.png"}, res.Pages[0].Images)
	assert.Equal(t, []string{"images/img-002-001.png"}, res.Pages[1].Images)
	assert.Len(t, res.Images, 3)
	assert.Contains(t, res.Markdown, "page un\n\n![](images/img-001-000.png)\n\n![](images/img-001-002.png)\n\n## Page 2")
}

func TestExtractor_Extract_ImageFailureIsWarning(t *testing.T) {
	r := &fakeRunner{handlers: map[string]func([]string) ([]byte, []byte, error){
		"pdftotext": func([]string) ([]byte, []byte, error) {
			return []byte("Un texte suffisamment long pour la page"), nil, nil
		},
	}}
	e := NewExtractor(Config{}, r, nil)

	res, err := e.Extract(context.Background(), tempPDF(t), filepath.Join(t.TempDir(), "images"))
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.True(t, strings.HasPrefix(res.Warnings[0], "pdfimages:"))
}

func TestExtractor_Extract_RejectsNonPDF(t *testing.T) {
	e := NewExtractor(Config{}, &fakeRunner{}, nil)
	_, err := e.Extract(context.Background(), "notes.docx", "")
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = e.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExtractor_Extract_FallsBackToNativeReader(t *testing.T) {
	// pdftotext missing, and the pure-Go reader cannot parse a stub file either
	r := &fakeRunner{handlers: map[string]func([]string) ([]byte, []byte, error){
		"pdftoppm":  writeRendered,
		"tesseract": func([]string) ([]byte, []byte, error) { return []byte("Texte issu de l'OCR"), nil, nil },
	}}
	e := NewExtractor(Config{SkipImages: true}, r, nil)

	res, err := e.Extract(context.Background(), tempPDF(t), "")
	require.NoError(t, err)
	assert.Equal(t, "pdf-ocr", res.Method)
	assert.GreaterOrEqual(t, len(res.Warnings), 2)
}

func TestNormalize(t *testing.T) {
	in := "Coûts ponctuels\t\t250\r\n\r\n\r\n\r\n----\nle ﬁchier’s   \n"
	assert.Equal(t, "Coûts ponctuels 250\n\nle fichier's", Normalize(in))
	assert.Equal(t, "01/03/2020", Normalize("01/03/2020"))
}

func TestImagePage(t *testing.T) {
	assert.Equal(t, 12, imagePage("img-012-003.png"))
	assert.Equal(t, 0, imagePage("img.png"))
}
