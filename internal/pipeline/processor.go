package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/joseph-ayodele/kid-extractor/constants"
	"github.com/joseph-ayodele/kid-extractor/internal/common"
	"github.com/joseph-ayodele/kid-extractor/internal/entity"
	"github.com/joseph-ayodele/kid-extractor/internal/llm"
	"github.com/joseph-ayodele/kid-extractor/internal/render"
	"github.com/joseph-ayodele/kid-extractor/internal/repository"
	"github.com/joseph-ayodele/kid-extractor/internal/validation"
)

// Config holds thresholds and behavior flags for the processor.
type Config struct {
	OutputDir string        // default "./output"
	MinScore  float64       // accepted when score >= MinScore
	CacheTTL  time.Duration // 0 disables the in-memory cache
}

// AnalyzeRequest names the PDF to analyze. AnalysisID is set when the row was
// already created by Submit.
type AnalyzeRequest struct {
	PDFPath    string
	SourceName string
	AnalysisID uuid.UUID
	Force      bool // skip the content-hash cache
}

// Processor coordinates text extraction, model extraction and rendering.
type Processor struct {
	logger     *slog.Logger
	cfg        Config
	repo       repository.AnalysisRepository
	text       *TextStage
	extract    *ExtractStage
	summarizer *render.Summarizer
	validator  *validation.Validator
	cache      *cache.Cache
}

func NewProcessor(
	logger *slog.Logger,
	cfg Config,
	repo repository.AnalysisRepository,
	text *TextStage,
	extract *ExtractStage,
	summarizer *render.Summarizer,
	validator *validation.Validator,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./output"
	}
	if validator == nil {
		validator = validation.Default()
	}
	p := &Processor{
		logger:     logger,
		cfg:        cfg,
		repo:       repo,
		text:       text,
		extract:    extract,
		summarizer: summarizer,
		validator:  validator,
	}
	if cfg.CacheTTL > 0 {
		p.cache = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return p
}

// Submit records a QUEUED analysis for pdfPath so that its id can be returned
// before processing starts.
func (p *Processor) Submit(ctx context.Context, pdfPath, sourceName string) (*entity.Analysis, error) {
	hash, err := hashFile(pdfPath)
	if err != nil {
		return nil, err
	}
	a := &entity.Analysis{
		SourceName:  nameOr(sourceName, pdfPath),
		ContentHash: hash,
		Status:      string(constants.StatusQueued),
	}
	if err := p.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Analyze runs the whole pipeline on one PDF. A record scoring below MinScore
// is stored as REJECTED and returned together with an ErrRejected error.
func (p *Processor) Analyze(ctx context.Context, req AnalyzeRequest) (*entity.Analysis, error) {
	start := time.Now()
	hash, err := hashFile(req.PDFPath)
	if err != nil {
		if req.AnalysisID != uuid.Nil {
			if mErr := p.repo.MarkFailed(context.WithoutCancel(ctx), req.AnalysisID, err.Error()); mErr != nil {
				p.logger.Error("pipeline.mark_failed.failed", "analysis_id", req.AnalysisID, "error", mErr)
			}
		}
		return nil, err
	}

	if !req.Force {
		if hit := p.cached(ctx, hash); hit != nil {
			if req.AnalysisID != uuid.Nil {
				// a queued row exists; let it point at the earlier result
				if err := p.repo.SaveResult(ctx, req.AnalysisID, outcomeOf(hit)); err != nil {
					p.logger.Error("pipeline.cache.save_failed", "analysis_id", req.AnalysisID, "error", err)
				}
			}
			p.logger.Info("pipeline.cache.hit", "analysis_id", hit.ID, "hash", hash)
			return hit, nil
		}
	}

	a, err := p.begin(ctx, req, hash)
	if err != nil {
		return nil, err
	}
	logger := p.logger.With("analysis_id", a.ID, "file", a.SourceName)
	if rid := common.RequestIDFromContext(ctx); rid != "" {
		logger = logger.With("req_id", rid)
	}
	ctx = common.WithAnalysisID(ctx, a.ID.String())

	result, err := p.run(ctx, logger, a, req.PDFPath)
	if err != nil {
		logger.Error("pipeline.analyze.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		if mErr := p.repo.MarkFailed(context.WithoutCancel(ctx), a.ID, err.Error()); mErr != nil {
			logger.Error("pipeline.mark_failed.failed", "error", mErr)
		}
		return nil, err
	}

	stored, err := p.repo.GetByID(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	logger.Info("pipeline.analyze.ok",
		"status", stored.Status,
		"score", result.score,
		"attempts", result.attempts,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if !stored.Accepted() {
		return stored, common.RejectedError(result.score, p.cfg.MinScore)
	}
	if p.cache != nil {
		p.cache.Set(hash, stored, cache.DefaultExpiration)
	}
	return stored, nil
}

func (p *Processor) begin(ctx context.Context, req AnalyzeRequest, hash string) (*entity.Analysis, error) {
	if req.AnalysisID != uuid.Nil {
		a, err := p.repo.GetByID(ctx, req.AnalysisID)
		if err != nil {
			return nil, err
		}
		if err := p.repo.UpdateStatus(ctx, a.ID, constants.StatusRunning); err != nil {
			return nil, err
		}
		a.Status = string(constants.StatusRunning)
		return a, nil
	}
	a := &entity.Analysis{
		SourceName:  nameOr(req.SourceName, req.PDFPath),
		ContentHash: hash,
		Status:      string(constants.StatusRunning),
	}
	if err := p.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

type runResult struct {
	score    float64
	attempts int
}

func (p *Processor) run(ctx context.Context, logger *slog.Logger, a *entity.Analysis, pdfPath string) (runResult, error) {
	workDir := filepath.Join(p.cfg.OutputDir, a.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return runResult{}, fmt.Errorf("create output dir: %w", err)
	}

	// 1) PDF -> markdown -> enriched markdown
	text, err := p.text.Run(ctx, pdfPath, workDir)
	if err != nil {
		return runResult{}, err
	}
	if err := writeArtifact(workDir, constants.ArtifactMarkdown, []byte(text.Markdown)); err != nil {
		return runResult{}, err
	}
	if err := writeArtifact(workDir, constants.ArtifactEnriched, []byte(text.Enriched)); err != nil {
		return runResult{}, err
	}
	if err := p.repo.UpdateStatus(ctx, a.ID, constants.StatusTextOK); err != nil {
		return runResult{}, err
	}

	// 2) markdown -> graded record
	hints := llm.ExtractionHints{FileName: a.SourceName, RiskLevel: text.Vision.RiskLevel}
	ext, err := p.extract.Run(ctx, text.Enriched, hints)
	if err != nil {
		return runResult{}, err
	}

	out := repository.AnalysisOutcome{
		Status:    constants.StatusRejected,
		Attempts:  len(ext.Attempts),
		Markdown:  text.Enriched,
		ModelName: ext.Model,
		OutputDir: workDir,
	}
	if len(ext.Attempts) > 0 {
		out.RawResponse = ext.Attempts[len(ext.Attempts)-1].Raw
	}
	if best := ext.Best; best != nil {
		out.Score = best.Result.Score
		out.Feedback = best.Result.Feedback
		out.Record = best.Record
		out.RawResponse = best.Raw
	} else {
		out.Feedback = []string{feedbackNoJSON}
	}

	// 3) artifacts
	if ext.Accepted {
		out.Status = constants.StatusAccepted
		if err := p.writeAccepted(ctx, logger, workDir, text.Enriched, ext.Best); err != nil {
			return runResult{}, err
		}
	} else if err := writeArtifact(workDir, constants.ArtifactDebug, debugDump(ext)); err != nil {
		return runResult{}, err
	}

	if err := p.repo.SaveResult(ctx, a.ID, out); err != nil {
		return runResult{}, err
	}
	return runResult{score: out.Score, attempts: out.Attempts}, nil
}

// writeAccepted writes kid.json, key-info.xml and resume.txt. Rendering
// problems are logged; only I/O errors on kid.json abort.
func (p *Processor) writeAccepted(ctx context.Context, logger *slog.Logger, workDir, content string, best *Attempt) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, best.Record, "", "  "); err != nil {
		return fmt.Errorf("indent record: %w", err)
	}
	pretty.WriteByte('\n')
	if err := writeArtifact(workDir, constants.ArtifactKIDJSON, pretty.Bytes()); err != nil {
		return err
	}

	doc, _, err := render.FromRecord(p.validator, best.Record)
	if err != nil {
		logger.Warn("pipeline.render.decode_failed", "error", err)
		return nil
	}
	if xmlOut, err := render.XML(doc); err != nil {
		logger.Warn("pipeline.render.xml_failed", "error", err)
	} else if err := writeArtifact(workDir, constants.ArtifactXML, xmlOut); err != nil {
		logger.Warn("pipeline.render.xml_failed", "error", err)
	}

	summary := render.Summary{Text: render.Text(doc, best.Result)}
	if p.summarizer != nil {
		summary = p.summarizer.Summarize(ctx, content, doc, best.Result)
	}
	if err := writeArtifact(workDir, constants.ArtifactSummary, []byte(summary.Text)); err != nil {
		logger.Warn("pipeline.render.summary_failed", "error", err)
	}
	return nil
}

func (p *Processor) cached(ctx context.Context, hash string) *entity.Analysis {
	if p.cache == nil {
		return nil
	}
	if v, ok := p.cache.Get(hash); ok {
		if a, ok := v.(*entity.Analysis); ok {
			return a
		}
	}
	a, err := p.repo.FindAcceptedByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			p.logger.Warn("pipeline.cache.lookup_failed", "hash", hash, "error", err)
		}
		return nil
	}
	p.cache.Set(hash, a, cache.DefaultExpiration)
	return a
}

func outcomeOf(a *entity.Analysis) repository.AnalysisOutcome {
	out := repository.AnalysisOutcome{
		Status:   constants.AnalysisStatus(a.Status),
		Attempts: a.Attempts,
		Feedback: a.Feedback,
		Record:   a.RecordJSON,
	}
	if a.Score != nil {
		out.Score = *a.Score
	}
	if a.Markdown != nil {
		out.Markdown = *a.Markdown
	}
	if a.ModelName != nil {
		out.ModelName = *a.ModelName
	}
	if a.OutputDir != nil {
		out.OutputDir = *a.OutputDir
	}
	return out
}

func debugDump(ext ExtractResult) []byte {
	var b strings.Builder
	for _, a := range ext.Attempts {
		fmt.Fprintf(&b, "=== attempt %d ===\n", a.Number)
		if a.Result != nil {
			fmt.Fprintf(&b, "score: %.2f\n", a.Result.Score)
			for _, f := range a.Result.Feedback {
				fmt.Fprintf(&b, "- %s\n", f)
			}
		}
		if a.ParseErr != nil {
			fmt.Fprintf(&b, "parse error: %v\n", a.ParseErr)
		}
		if a.SchemaErr != nil {
			fmt.Fprintf(&b, "schema: %v\n", a.SchemaErr)
		}
		b.WriteString("\n")
		b.WriteString(a.Raw)
		b.WriteString("\n\n")
	}
	return []byte(b.String())
}

func writeArtifact(dir, name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func nameOr(name, path string) string {
	if name != "" {
		return name
	}
	return filepath.Base(path)
}
