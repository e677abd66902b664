package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/kid-extractor/constants"
	"github.com/joseph-ayodele/kid-extractor/internal/async"
	"github.com/joseph-ayodele/kid-extractor/internal/common"
	"github.com/joseph-ayodele/kid-extractor/internal/entity"
	"github.com/joseph-ayodele/kid-extractor/internal/pipeline"
	"github.com/joseph-ayodele/kid-extractor/internal/repository"
)

const record = `{
  "product": {"name": "Fonds Horizon 2030", "isin": "FR0010315770", "currency": "EUR"},
  "document": {"type": "Document d'informations clés"},
  "risk": {"level": 4, "warnings": ["Vous pourriez perdre tout ou partie de votre investissement."]},
  "dates": {"issue": "01/03/2020", "redemption": "01/03/2030", "redemption_valuation": "22/02/2030"},
  "performance": {
    "scenarios": {
      "favorable": {"initial": 10000, "final": 14500, "percentage_change": 45},
      "moderate": {"initial": 10000, "final": 11200, "percentage_change": 12},
      "unfavorable": {"initial": 10000, "final": 8700, "percentage_change": -13},
      "stress": {"initial": 10000, "final": 5400, "percentage_change": -46}
    },
    "costs": {
      "total": {"one_off": 250, "ongoing": 180},
      "impact_on_return": {"one_off": 2.5, "ongoing": 1.8}
    }
  }
}`

var pdfBody = []byte("%PDF-1.7\nfake body\n%%EOF\n")

type fakeAnalyzer struct {
	repo    repository.AnalysisRepository
	analyze func(ctx context.Context, req pipeline.AnalyzeRequest) (*entity.Analysis, error)
}

func (f *fakeAnalyzer) Submit(ctx context.Context, pdfPath, sourceName string) (*entity.Analysis, error) {
	a := &entity.Analysis{SourceName: sourceName, ContentHash: "hash-" + filepath.Base(pdfPath)}
	if err := f.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req pipeline.AnalyzeRequest) (*entity.Analysis, error) {
	return f.analyze(ctx, req)
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []async.Job
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job async.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Shutdown(context.Context) {}

type exporterFunc func(ctx context.Context, limit int) ([]byte, error)

func (f exporterFunc) ExportAnalysesXLSX(ctx context.Context, limit int) ([]byte, error) {
	return f(ctx, limit)
}

type fixture struct {
	repo     repository.AnalysisRepository
	analyzer *fakeAnalyzer
	queue    *fakeQueue
	server   *HTTPServer
	handler  http.Handler
	uploads  string
}

func newFixture(t *testing.T, mutate func(*HTTPConfig, *HTTPDeps)) *fixture {
	t.Helper()
	db, err := repository.Open(context.Background(), repository.Config{DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })

	f := &fixture{
		repo:    repository.NewAnalysisRepository(db, nil),
		queue:   &fakeQueue{},
		uploads: t.TempDir(),
	}
	f.analyzer = &fakeAnalyzer{repo: f.repo, analyze: func(context.Context, pipeline.AnalyzeRequest) (*entity.Analysis, error) {
		return nil, errors.New("analyze not scripted")
	}}

	cfg := HTTPConfig{MaxUploadBytes: 1 << 20, MaxConcurrent: 2, UploadDir: f.uploads, MinScore: 0.5}
	deps := HTTPDeps{Analyzer: f.analyzer, Queue: f.queue, Repo: f.repo}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	f.server = NewHTTPServer(deps, cfg, nil)
	f.handler = f.server.Routes()
	return f
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) uploadedFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.uploads)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func uploadRequest(t *testing.T, target, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("comment", "no file here"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func (f *fixture) accepted(t *testing.T, outputDir string) *entity.Analysis {
	t.Helper()
	ctx := context.Background()
	a := &entity.Analysis{SourceName: "horizon.pdf", ContentHash: uuid.NewString()}
	require.NoError(t, f.repo.Create(ctx, a))
	require.NoError(t, f.repo.SaveResult(ctx, a.ID, repository.AnalysisOutcome{
		Status:    constants.StatusAccepted,
		Score:     1,
		Attempts:  1,
		Record:    json.RawMessage(record),
		OutputDir: outputDir,
	}))
	return a
}

func TestHTTPServer_Health(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	down := newFixture(t, func(_ *HTTPConfig, d *HTTPDeps) {
		d.Health = func(context.Context) error { return errors.New("db down") }
	})
	rec = down.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "db down", decodeBody(t, rec)["error"])
}

func TestHTTPServer_Analyze_ReturnsRecord(t *testing.T) {
	f := newFixture(t, nil)
	id := uuid.New()
	var seen pipeline.AnalyzeRequest
	var reqID string
	f.analyzer.analyze = func(ctx context.Context, req pipeline.AnalyzeRequest) (*entity.Analysis, error) {
		seen = req
		reqID = common.RequestIDFromContext(ctx)
		b, err := os.ReadFile(req.PDFPath)
		require.NoError(t, err)
		assert.Equal(t, pdfBody, b)
		return &entity.Analysis{ID: id, Status: string(constants.StatusAccepted), RecordJSON: json.RawMessage(record)}, nil
	}

	rec := f.do(t, uploadRequest(t, "/analyze?force=true", "file", "Horizon.PDF", pdfBody))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, id.String(), rec.Header().Get("X-Analysis-ID"))
	assert.JSONEq(t, record, rec.Body.String())
	assert.Equal(t, "Horizon.PDF", seen.SourceName)
	assert.True(t, seen.Force)
	assert.Equal(t, f.uploads, filepath.Dir(seen.PDFPath))
	assert.NotEmpty(t, reqID)
	assert.Empty(t, f.uploadedFiles(t), "upload is removed after a synchronous analysis")
}

func TestHTTPServer_Analyze_BadUploads(t *testing.T) {
	f := newFixture(t, func(c *HTTPConfig, _ *HTTPDeps) { c.MaxUploadBytes = 64 })

	cases := []struct {
		name string
		req  *http.Request
		code int
		msg  string
	}{
		{"no file part", uploadRequest(t, "/analyze", "", "", nil), http.StatusBadRequest, "No file part"},
		{"empty file name", uploadRequest(t, "/analyze", "file", "", pdfBody), http.StatusBadRequest, "No selected file"},
		{"wrong extension", uploadRequest(t, "/analyze", "file", "kid.docx", pdfBody), http.StatusBadRequest, "must be a .pdf file"},
		{"bad magic", uploadRequest(t, "/analyze", "file", "kid.pdf", []byte("<html>expired</html>")), http.StatusBadRequest, "file is not a PDF"},
		{"too large", uploadRequest(t, "/analyze", "file", "kid.pdf", append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte("x"), 200)...)), http.StatusRequestEntityTooLarge, "exceeds"},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader("x")), http.StatusBadRequest, "multipart"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.req)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.Contains(t, decodeBody(t, rec)["error"], tc.msg)
		})
	}
	assert.Empty(t, f.uploadedFiles(t))
}

func TestHTTPServer_Analyze_Rejected(t *testing.T) {
	f := newFixture(t, nil)
	score := 0.35
	id := uuid.New()
	f.analyzer.analyze = func(context.Context, pipeline.AnalyzeRequest) (*entity.Analysis, error) {
		return &entity.Analysis{
			ID:       id,
			Status:   string(constants.StatusRejected),
			Score:    &score,
			Feedback: []string{"Le code ISIN est invalide."},
		}, common.RejectedError(score, 0.5)
	}

	rec := f.do(t, uploadRequest(t, "/analyze", "file", "kid.pdf", pdfBody))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "rejected", body["code"])
	v := body["verdict"].(map[string]any)
	assert.Equal(t, id.String(), v["analysis_id"])
	assert.Equal(t, false, v["accepted"])
	assert.InDelta(t, 0.35, v["score"], 1e-9)
	assert.Equal(t, []any{"Le code ISIN est invalide."}, v["feedback"])
}

func TestHTTPServer_Analyze_PipelineFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.analyzer.analyze = func(context.Context, pipeline.AnalyzeRequest) (*entity.Analysis, error) {
		return nil, errors.New("extract text: pdftotext exploded")
	}

	rec := f.do(t, uploadRequest(t, "/analyze", "file", "kid.pdf", pdfBody))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "internal_error", body["code"])
	assert.NotContains(t, body["error"], "pdftotext")
}

func TestHTTPServer_Analyze_Async(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, uploadRequest(t, "/analyze?async=true", "file", "kid.pdf", pdfBody))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	id, err := uuid.Parse(body["analysis_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, string(constants.StatusQueued), body["status"])
	assert.Equal(t, "/analyses/"+id.String(), rec.Header().Get("Location"))

	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, id, job.AnalysisID)
	assert.Equal(t, "kid.pdf", job.SourceName)
	assert.True(t, job.RemoveAfter)
	assert.NotEmpty(t, job.TraceID)
	assert.FileExists(t, job.PDFPath, "upload is kept for the worker")

	stored, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, string(constants.StatusQueued), stored.Status)
}

func TestHTTPServer_Analyze_AsyncQueueClosed(t *testing.T) {
	f := newFixture(t, nil)
	f.queue.err = common.ErrUnavailable

	rec := f.do(t, uploadRequest(t, "/analyze?async=1", "file", "kid.pdf", pdfBody))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, f.uploadedFiles(t))
	rows, err := f.repo.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, string(constants.StatusFailed), rows[0].Status)
}

func TestHTTPServer_Analyze_AtCapacity(t *testing.T) {
	f := newFixture(t, func(c *HTTPConfig, _ *HTTPDeps) { c.MaxConcurrent = 1 })
	entered := make(chan struct{})
	release := make(chan struct{})
	f.analyzer.analyze = func(context.Context, pipeline.AnalyzeRequest) (*entity.Analysis, error) {
		close(entered)
		<-release
		return &entity.Analysis{ID: uuid.New(), RecordJSON: json.RawMessage(`{}`)}, nil
	}

	var wg sync.WaitGroup
	first := httptest.NewRecorder()
	firstReq := uploadRequest(t, "/analyze", "file", "a.pdf", pdfBody)
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.handler.ServeHTTP(first, firstReq)
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first analysis never started")
	}
	rec := f.do(t, uploadRequest(t, "/analyze", "file", "b.pdf", pdfBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "capacity", decodeBody(t, rec)["code"])

	close(release)
	wg.Wait()
	assert.Equal(t, http.StatusOK, first.Code)
}

func TestHTTPServer_Validate(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(record)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["accepted"])
	assert.InDelta(t, 1.0, body["score"], 1e-9)
	assert.NotNil(t, body["result"])

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(`[1, 2]`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "structural", decodeBody(t, rec)["code"])

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(`{"product": `)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPServer_RateLimit(t *testing.T) {
	f := newFixture(t, func(c *HTTPConfig, _ *HTTPDeps) {
		c.RateLimitEvery = time.Hour
		c.RateLimitBurst = 1
	})
	req := func() *http.Request {
		return httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(record))
	}

	assert.Equal(t, http.StatusOK, f.do(t, req()).Code)
	rec := f.do(t, req())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	other := req()
	other.RemoteAddr = "198.51.100.7:4000"
	assert.Equal(t, http.StatusOK, f.do(t, other).Code)

	f.server.ResetLimiters()
	assert.Equal(t, http.StatusOK, f.do(t, req()).Code)

	// reads are not limited
	assert.Equal(t, http.StatusOK, f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}

func TestHTTPServer_LatestRecord(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/kid-json", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	a := f.accepted(t, "")
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/kid-json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, a.ID.String(), rec.Header().Get("X-Analysis-ID"))
	assert.JSONEq(t, record, rec.Body.String())
}

func TestHTTPServer_GetAnalysis(t *testing.T) {
	f := newFixture(t, nil)
	a := f.accepted(t, "")

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/analyses/"+a.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, a.ID.String(), body["id"])
	assert.Equal(t, string(constants.StatusAccepted), body["status"])

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/analyses/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/analyses/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTPServer_AnalysisXML(t *testing.T) {
	f := newFixture(t, nil)
	a := f.accepted(t, "")

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/analyses/"+a.ID.String()+"/xml", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, rec.Body.String(), "<key-information>")
	assert.Contains(t, rec.Body.String(), `isin="FR0010315770"`)

	queued := &entity.Analysis{SourceName: "q.pdf", ContentHash: "q"}
	require.NoError(t, f.repo.Create(context.Background(), queued))
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/analyses/"+queued.ID.String()+"/xml", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTPServer_AnalysisSummary(t *testing.T) {
	f := newFixture(t, nil)

	rendered := f.accepted(t, "")
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/analyses/"+rendered.ID.String()+"/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Fonds Horizon 2030")
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, constants.ArtifactSummary), []byte("Résumé généré.\n"), 0o644))
	stored := f.accepted(t, dir)
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/analyses/"+stored.ID.String()+"/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Résumé généré.\n", rec.Body.String())
}

func TestHTTPServer_Export(t *testing.T) {
	var gotLimit int
	f := newFixture(t, func(_ *HTTPConfig, d *HTTPDeps) {
		d.Exporter = exporterFunc(func(_ context.Context, limit int) ([]byte, error) {
			gotLimit = limit
			return []byte("PK-xlsx"), nil
		})
	})

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/export.xlsx?limit=25", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 25, gotLimit)
	assert.Equal(t, "PK-xlsx", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "analyses.xlsx")

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/export.xlsx?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	disabled := newFixture(t, nil)
	rec = disabled.do(t, httptest.NewRequest(http.MethodGet, "/export.xlsx", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
