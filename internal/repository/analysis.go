package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/kid-extractor/constants"
	"github.com/joseph-ayodele/kid-extractor/internal/common"
	"github.com/joseph-ayodele/kid-extractor/internal/entity"
)

// timestamps are stored as fixed-width UTC text so they sort lexically
const tsLayout = "2006-01-02T15:04:05.000000Z"

// AnalysisOutcome is the terminal state of an analysis.
type AnalysisOutcome struct {
	Status      constants.AnalysisStatus
	Score       float64
	Attempts    int
	Feedback    []string
	Markdown    string
	Record      json.RawMessage
	RawResponse string
	ModelName   string
	OutputDir   string
}

type AnalysisRepository interface {
	// Create inserts a new analysis, assigning ID and StartedAt when unset.
	Create(ctx context.Context, a *entity.Analysis) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.AnalysisStatus) error
	SaveResult(ctx context.Context, id uuid.UUID, out AnalysisOutcome) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Analysis, error)
	// Latest returns the most recent analysis in status.
	Latest(ctx context.Context, status constants.AnalysisStatus) (*entity.Analysis, error)
	List(ctx context.Context, limit int) ([]*entity.Analysis, error)
	FindAcceptedByHash(ctx context.Context, hash string) (*entity.Analysis, error)
}

type analysisRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

type Option func(*analysisRepo)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *analysisRepo) { r.now = now }
}

func NewAnalysisRepository(db *DB, log *slog.Logger, opts ...Option) AnalysisRepository {
	if log == nil {
		log = slog.Default()
	}
	r := &analysisRepo{db: db, log: log, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

const selectColumns = `id, source_name, content_hash, status, started_at, finished_at, error_message,
	score, attempts, feedback, markdown, record_json, raw_response, model_name, output_dir`

func (r *analysisRepo) Create(ctx context.Context, a *entity.Analysis) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = r.now().UTC()
	}
	if a.Status == "" {
		a.Status = string(constants.StatusQueued)
	}
	_, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`INSERT INTO analyses (id, source_name, content_hash, status, started_at, attempts) VALUES (?, ?, ?, ?, ?, ?)`),
		a.ID.String(), a.SourceName, a.ContentHash, a.Status, formatTime(a.StartedAt), a.Attempts,
	)
	if err != nil {
		r.log.Error("analysis create failed", "analysis_id", a.ID, "err", err)
		return common.DatabaseError("create analysis", err)
	}
	r.log.Info("analysis created", "analysis_id", a.ID, "source", a.SourceName, "status", a.Status)
	return nil
}

func (r *analysisRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.AnalysisStatus) error {
	var finished any
	if status.IsTerminal() {
		finished = formatTime(r.now())
	}
	res, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`UPDATE analyses SET status = ?, finished_at = COALESCE(?, finished_at) WHERE id = ?`),
		string(status), finished, id.String(),
	)
	if err != nil {
		r.log.Error("analysis status update failed", "analysis_id", id, "status", status, "err", err)
		return common.DatabaseError("update analysis status", err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	r.log.Debug("analysis status updated", "analysis_id", id, "status", status)
	return nil
}

func (r *analysisRepo) SaveResult(ctx context.Context, id uuid.UUID, out AnalysisOutcome) error {
	feedback, err := json.Marshal(out.Feedback)
	if err != nil {
		return fmt.Errorf("encode feedback: %w", err)
	}
	if out.Feedback == nil {
		feedback = []byte("[]")
	}
	res, err := r.db.SQL.ExecContext(ctx, r.db.rebind(`UPDATE analyses SET
		status = ?, finished_at = ?, score = ?, attempts = ?, feedback = ?, markdown = ?,
		record_json = ?, raw_response = ?, model_name = ?, output_dir = ?, error_message = NULL
		WHERE id = ?`),
		string(out.Status), formatTime(r.now()), out.Score, out.Attempts, string(feedback),
		nullString(out.Markdown), nullString(string(out.Record)), nullString(out.RawResponse),
		nullString(out.ModelName), nullString(out.OutputDir), id.String(),
	)
	if err != nil {
		r.log.Error("analysis save failed", "analysis_id", id, "err", err)
		return common.DatabaseError("save analysis result", err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	r.log.Info("analysis finished", "analysis_id", id, "status", out.Status, "score", out.Score, "attempts", out.Attempts)
	return nil
}

func (r *analysisRepo) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	res, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`UPDATE analyses SET status = ?, finished_at = ?, error_message = ? WHERE id = ?`),
		string(constants.StatusFailed), formatTime(r.now()), message, id.String(),
	)
	if err != nil {
		r.log.Error("analysis finish(FAILED) failed", "analysis_id", id, "err", err)
		return common.DatabaseError("mark analysis failed", err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	r.log.Warn("analysis finished (FAILED)", "analysis_id", id, "error", message)
	return nil
}

func (r *analysisRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Analysis, error) {
	row := r.db.SQL.QueryRowContext(ctx, r.db.rebind(`SELECT `+selectColumns+` FROM analyses WHERE id = ?`), id.String())
	a, err := scanAnalysis(row)
	if err != nil {
		return nil, r.notFound(err, "analysis %s", id)
	}
	return a, nil
}

func (r *analysisRepo) Latest(ctx context.Context, status constants.AnalysisStatus) (*entity.Analysis, error) {
	row := r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		`SELECT `+selectColumns+` FROM analyses WHERE status = ? ORDER BY started_at DESC LIMIT 1`), string(status))
	a, err := scanAnalysis(row)
	if err != nil {
		return nil, r.notFound(err, "no %s analysis", status)
	}
	return a, nil
}

func (r *analysisRepo) FindAcceptedByHash(ctx context.Context, hash string) (*entity.Analysis, error) {
	row := r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		`SELECT `+selectColumns+` FROM analyses WHERE content_hash = ? AND status = ? ORDER BY started_at DESC LIMIT 1`),
		hash, string(constants.StatusAccepted))
	a, err := scanAnalysis(row)
	if err != nil {
		return nil, r.notFound(err, "no accepted analysis for %s", hash)
	}
	return a, nil
}

func (r *analysisRepo) List(ctx context.Context, limit int) ([]*entity.Analysis, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.SQL.QueryContext(ctx, r.db.rebind(
		`SELECT `+selectColumns+` FROM analyses ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		r.log.Error("analysis list failed", "err", err)
		return nil, common.DatabaseError("list analyses", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*entity.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, common.DatabaseError("scan analysis", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, common.DatabaseError("list analyses", err)
	}
	return out, nil
}

func (r *analysisRepo) notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: "+format, append([]any{common.ErrNotFound}, args...)...)
	}
	r.log.Error("analysis query failed", "err", err)
	return common.DatabaseError("query analysis", err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(s scanner) (*entity.Analysis, error) {
	var (
		a                                    entity.Analysis
		id, startedAt                        string
		finishedAt, errMsg, feedback         sql.NullString
		markdown, record, raw, model, outDir sql.NullString
		score                                sql.NullFloat64
		attempts                             int64
	)
	if err := s.Scan(&id, &a.SourceName, &a.ContentHash, &a.Status, &startedAt, &finishedAt, &errMsg,
		&score, &attempts, &feedback, &markdown, &record, &raw, &model, &outDir); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("analysis id %q: %w", id, err)
	}
	a.ID = parsed
	if a.StartedAt, err = time.Parse(tsLayout, startedAt); err != nil {
		return nil, fmt.Errorf("analysis started_at %q: %w", startedAt, err)
	}
	if finishedAt.Valid {
		t, err := time.Parse(tsLayout, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("analysis finished_at %q: %w", finishedAt.String, err)
		}
		a.FinishedAt = &t
	}
	if score.Valid {
		a.Score = &score.Float64
	}
	if feedback.Valid && feedback.String != "" {
		if err := json.Unmarshal([]byte(feedback.String), &a.Feedback); err != nil {
			return nil, fmt.Errorf("analysis feedback: %w", err)
		}
	}
	if record.Valid {
		a.RecordJSON = json.RawMessage(record.String)
	}
	a.Attempts = int(attempts)
	a.ErrorMessage = ptr(errMsg)
	a.Markdown = ptr(markdown)
	a.RawResponse = ptr(raw)
	a.ModelName = ptr(model)
	a.OutputDir = ptr(outDir)
	return &a, nil
}

func requireRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return common.DatabaseError("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: analysis %s", common.ErrNotFound, id)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func ptr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
