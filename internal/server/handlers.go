package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/kid-extractor/constants"
	"github.com/joseph-ayodele/kid-extractor/internal/async"
	"github.com/joseph-ayodele/kid-extractor/internal/common"
	"github.com/joseph-ayodele/kid-extractor/internal/entity"
	"github.com/joseph-ayodele/kid-extractor/internal/pipeline"
	"github.com/joseph-ayodele/kid-extractor/internal/render"
	"github.com/joseph-ayodele/kid-extractor/internal/validation"
)

var pdfMagic = []byte("%PDF")

// verdict is the body returned for a graded record.
type verdict struct {
	AnalysisID string             `json:"analysis_id,omitempty"`
	Status     string             `json:"status,omitempty"`
	Accepted   bool               `json:"accepted"`
	Score      float64            `json:"score"`
	Feedback   []string           `json:"feedback"`
	Result     *validation.Result `json:"result,omitempty"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "service": "kid-extractor"})
}

func (s *HTTPServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	background, _ := strconv.ParseBool(q.Get("async"))
	force, _ := strconv.ParseBool(q.Get("force"))

	path, name, err := s.saveUpload(w, r)
	if err != nil {
		s.writeAppErr(w, r, "server.analyze.upload_failed", err)
		return
	}

	if background {
		s.enqueue(w, r, path, name, force)
		return
	}
	defer func() { _ = os.Remove(path) }()

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	a, err := s.deps.Analyzer.Analyze(ctx, pipeline.AnalyzeRequest{PDFPath: path, SourceName: name, Force: force})
	if errors.Is(err, common.ErrRejected) && a != nil {
		s.logger.Warn("server.analyze.rejected", "analysis_id", a.ID, "score", scoreOf(a))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   err.Error(),
			"code":    "rejected",
			"verdict": verdictOf(a),
		})
		return
	}
	if err != nil {
		s.writeAppErr(w, r, "server.analyze.failed", err)
		return
	}

	w.Header().Set("X-Analysis-ID", a.ID.String())
	writeRaw(w, http.StatusOK, "application/json; charset=utf-8", a.RecordJSON)
}

func (s *HTTPServer) enqueue(w http.ResponseWriter, r *http.Request, path, name string, force bool) {
	if s.deps.Queue == nil {
		_ = os.Remove(path)
		writeErr(w, http.StatusServiceUnavailable, "unavailable", "asynchronous analysis is disabled")
		return
	}
	a, err := s.deps.Analyzer.Submit(r.Context(), path, name)
	if err != nil {
		_ = os.Remove(path)
		s.writeAppErr(w, r, "server.analyze.submit_failed", err)
		return
	}
	job := async.Job{
		AnalysisID:  a.ID,
		PDFPath:     path,
		SourceName:  name,
		Force:       force,
		RemoveAfter: true,
		TraceID:     common.RequestIDFromContext(r.Context()),
	}
	if err := s.deps.Queue.Enqueue(r.Context(), job); err != nil {
		_ = os.Remove(path)
		if mErr := s.deps.Repo.MarkFailed(context.WithoutCancel(r.Context()), a.ID, err.Error()); mErr != nil {
			s.logger.Error("server.analyze.mark_failed", "analysis_id", a.ID, "error", mErr)
		}
		s.writeAppErr(w, r, "server.analyze.enqueue_failed", err)
		return
	}

	w.Header().Set("Location", "/analyses/"+a.ID.String())
	writeJSON(w, http.StatusAccepted, map[string]any{
		"analysis_id": a.ID.String(),
		"status":      a.Status,
	})
}

// saveUpload streams the "file" part into UploadDir and returns the stored
// path with the client file name.
func (s *HTTPServer) saveUpload(w http.ResponseWriter, r *http.Request) (string, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		return "", "", common.NewAppError("INVALID_ARGUMENT", "expected a multipart form", common.ErrInvalidInput)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", "", common.NewAppError("INVALID_ARGUMENT", "No file part", common.ErrInvalidInput)
		}
		if err != nil {
			return "", "", uploadErr(err)
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		defer func() { _ = part.Close() }()

		name := filepath.Base(part.FileName())
		if part.FileName() == "" {
			return "", "", common.NewAppError("INVALID_ARGUMENT", "No selected file", common.ErrInvalidInput)
		}
		if err := common.NewParams().Field("file", name, common.PDFName).Err(); err != nil {
			return "", "", err
		}
		path, err := s.store(part)
		if err != nil {
			return "", "", err
		}
		return path, name, nil
	}
}

func (s *HTTPServer) store(part io.Reader) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	f, err := os.CreateTemp(s.cfg.UploadDir, "upload-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	path := f.Name()
	fail := func(err error) (string, error) {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}

	head := make([]byte, len(pdfMagic))
	n, err := io.ReadFull(part, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fail(uploadErr(err))
	}
	if !bytes.Equal(head[:n], pdfMagic) {
		return fail(common.NewAppError("INVALID_ARGUMENT", "file is not a PDF", common.ErrInvalidInput))
	}

	written, err := io.Copy(f, io.LimitReader(io.MultiReader(bytes.NewReader(head), part), s.cfg.MaxUploadBytes+1))
	if err != nil {
		return fail(uploadErr(err))
	}
	if written > s.cfg.MaxUploadBytes {
		return fail(common.NewAppError("PAYLOAD_TOO_LARGE", fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxUploadBytes), common.ErrTooLarge))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return path, nil
}

func uploadErr(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return common.NewAppError("PAYLOAD_TOO_LARGE", "request body too large", common.ErrTooLarge)
	}
	return common.NewAppError("INVALID_ARGUMENT", "malformed multipart body", fmt.Errorf("%w: %w", common.ErrInvalidInput, err))
}

func (s *HTTPServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		s.writeAppErr(w, r, "server.validate.read_failed", uploadErr(err))
		return
	}
	res, err := s.deps.Validator.ValidateJSON(body)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "structural", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, verdict{
		Accepted: res.Accepted(s.cfg.MinScore),
		Score:    res.Score,
		Feedback: res.Feedback,
		Result:   res,
	})
}

func (s *HTTPServer) handleLatestRecord(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Repo.Latest(r.Context(), constants.StatusAccepted)
	if err != nil {
		s.writeAppErr(w, r, "server.kid_json.failed", err)
		return
	}
	w.Header().Set("X-Analysis-ID", a.ID.String())
	writeRaw(w, http.StatusOK, "application/json; charset=utf-8", a.RecordJSON)
}

func (s *HTTPServer) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	a, ok := s.analysis(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *HTTPServer) handleAnalysisXML(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := s.record(w, r)
	if !ok {
		return
	}
	out, err := render.XML(doc)
	if err != nil {
		s.writeAppErr(w, r, "server.xml.failed", err)
		return
	}
	writeRaw(w, http.StatusOK, "application/xml; charset=utf-8", out)
}

func (s *HTTPServer) handleAnalysisSummary(w http.ResponseWriter, r *http.Request) {
	a, ok := s.analysis(w, r)
	if !ok {
		return
	}
	if a.OutputDir != nil {
		if b, err := os.ReadFile(filepath.Join(*a.OutputDir, constants.ArtifactSummary)); err == nil {
			writeRaw(w, http.StatusOK, "text/plain; charset=utf-8", b)
			return
		}
	}
	doc, res, ok := s.decode(w, r, a)
	if !ok {
		return
	}
	writeRaw(w, http.StatusOK, "text/plain; charset=utf-8", []byte(render.Text(doc, res)))
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exporter == nil {
		writeErr(w, http.StatusServiceUnavailable, "unavailable", "export is disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, _ := strconv.Atoi(raw)
		if err := common.NewParams().Field("limit", n, common.IntBetween(1, 10000)).Err(); err != nil {
			s.writeAppErr(w, r, "server.export.invalid", err)
			return
		}
		limit = n
	}
	data, err := s.deps.Exporter.ExportAnalysesXLSX(r.Context(), limit)
	if err != nil {
		s.writeAppErr(w, r, "server.export.failed", err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="analyses.xlsx"`)
	writeRaw(w, http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (s *HTTPServer) analysis(w http.ResponseWriter, r *http.Request) (*entity.Analysis, bool) {
	raw := chi.URLParam(r, "id")
	if err := common.NewParams().Field("id", raw, common.UUID).Err(); err != nil {
		s.writeAppErr(w, r, "server.analysis.invalid", err)
		return nil, false
	}
	a, err := s.deps.Repo.GetByID(r.Context(), uuid.MustParse(raw))
	if err != nil {
		s.writeAppErr(w, r, "server.analysis.failed", err)
		return nil, false
	}
	return a, true
}

func (s *HTTPServer) record(w http.ResponseWriter, r *http.Request) (entity.KID, *validation.Result, bool) {
	a, ok := s.analysis(w, r)
	if !ok {
		return entity.KID{}, nil, false
	}
	return s.decode(w, r, a)
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, a *entity.Analysis) (entity.KID, *validation.Result, bool) {
	if len(a.RecordJSON) == 0 {
		s.writeAppErr(w, r, "server.analysis.no_record",
			fmt.Errorf("%w: analysis %s has no record", common.ErrNotFound, a.ID))
		return entity.KID{}, nil, false
	}
	doc, res, err := render.FromRecord(s.deps.Validator, a.RecordJSON)
	if err != nil {
		s.writeAppErr(w, r, "server.analysis.decode_failed", err)
		return entity.KID{}, nil, false
	}
	return doc, res, true
}

// writeAppErr maps err onto a status code. Server-side failures are logged
// and reported without detail.
func (s *HTTPServer) writeAppErr(w http.ResponseWriter, r *http.Request, event string, err error) {
	status := common.HTTPStatus(err)
	reqID := common.RequestIDFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		s.logger.Error(event, "req_id", reqID, "error", err)
		if status == http.StatusServiceUnavailable {
			writeErr(w, status, "unavailable", err.Error())
			return
		}
		writeErr(w, status, "internal_error", "internal error")
		return
	}
	s.logger.Warn(event, "req_id", reqID, "status", status, "error", err)
	writeErr(w, status, errorCode(status), message(err))
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusUnprocessableEntity:
		return "rejected"
	default:
		return "error"
	}
}

func message(err error) string {
	var app *common.AppError
	if errors.As(err, &app) {
		return app.Message
	}
	return err.Error()
}

func writeRaw(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func verdictOf(a *entity.Analysis) verdict {
	return verdict{
		AnalysisID: a.ID.String(),
		Status:     a.Status,
		Accepted:   a.Accepted(),
		Score:      scoreOf(a),
		Feedback:   a.Feedback,
	}
}

func scoreOf(a *entity.Analysis) float64 {
	if a.Score == nil {
		return 0
	}
	return *a.Score
}
