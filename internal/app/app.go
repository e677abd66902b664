// Package app wires the configured components shared by kidd and kid.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/kid-extractor/internal/common"
	"github.com/joseph-ayodele/kid-extractor/internal/export"
	"github.com/joseph-ayodele/kid-extractor/internal/llm/openai"
	"github.com/joseph-ayodele/kid-extractor/internal/ocr"
	"github.com/joseph-ayodele/kid-extractor/internal/pipeline"
	"github.com/joseph-ayodele/kid-extractor/internal/render"
	"github.com/joseph-ayodele/kid-extractor/internal/repository"
	"github.com/joseph-ayodele/kid-extractor/internal/validation"
	"github.com/joseph-ayodele/kid-extractor/internal/vision"
)

const summaryMaxTokens = 2048

type App struct {
	Config    *common.Config
	DB        *repository.DB
	Repo      repository.AnalysisRepository
	Validator *validation.Validator
	Processor *pipeline.Processor
	Exporter  *export.Service
	logger    *slog.Logger
}

// New opens the database and builds the analysis pipeline from cfg.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	validator, err := validation.New(cfg.Scoring)
	if err != nil {
		return nil, common.NewAppError("CONFIG_ERROR", "invalid scoring config", err)
	}

	db, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	repo := repository.NewAnalysisRepository(db, logger)

	extractor := ocr.NewExtractor(ocr.Config{
		Pdftotext:     cfg.OCR.PdfToText,
		Pdftoppm:      cfg.OCR.PdfToPPM,
		Pdfimages:     cfg.OCR.PdfImages,
		Tesseract:     cfg.OCR.Tesseract,
		TesseractLang: cfg.OCR.Languages,
		TessdataDir:   cfg.OCR.TessdataDir,
		DPI:           cfg.OCR.DPI,
		MinPageChars:  cfg.OCR.MinPageChars,
		SkipImages:    !cfg.Vision.Enabled,
	}, nil, logger)

	llmClient := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	var enricher pipeline.Enricher
	if cfg.Vision.Enabled {
		visionClient := openai.NewClient(openai.Config{
			APIKey:      cfg.Vision.APIKey,
			BaseURL:     cfg.Vision.BaseURL,
			Model:       cfg.Vision.Model,
			VisionModel: cfg.Vision.Model,
			Timeout:     cfg.Vision.Timeout,
		}, logger)
		enricher = vision.NewCaptioner(visionClient, logger)
	}

	processor := pipeline.NewProcessor(
		logger,
		pipeline.Config{
			OutputDir: cfg.Pipeline.OutputDir,
			MinScore:  cfg.Pipeline.MinScore,
			CacheTTL:  cfg.Pipeline.CacheTTL,
		},
		repo,
		pipeline.NewTextStage(extractor, enricher, logger),
		pipeline.NewExtractStage(llmClient, validator, pipeline.ExtractConfig{
			MaxRetries:  cfg.Pipeline.MaxRetries,
			MinScore:    cfg.Pipeline.MinScore,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		}, logger),
		render.NewSummarizer(llmClient, summaryMaxTokens, cfg.LLM.Temperature, logger),
		validator,
	)

	logger.Info("app.ready",
		"dialect", db.Dialect,
		"llm_model", llmClient.Model(),
		"vision", cfg.Vision.Enabled,
		"min_score", cfg.Pipeline.MinScore,
	)
	return &App{
		Config:    cfg,
		DB:        db,
		Repo:      repo,
		Validator: validator,
		Processor: processor,
		Exporter:  export.NewService(repo, validator, logger),
		logger:    logger,
	}, nil
}

// Health pings the database with the configured dial timeout.
func (a *App) Health(ctx context.Context) error {
	return repository.HealthCheck(ctx, a.DB, a.Config.Database.DialTimeout, a.logger)
}

func (a *App) Close() {
	a.DB.Close(a.logger)
}
