package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joseph-ayodele/kid-extractor/internal/app"
	"github.com/joseph-ayodele/kid-extractor/internal/async"
	"github.com/joseph-ayodele/kid-extractor/internal/common"
	"github.com/joseph-ayodele/kid-extractor/internal/ingest"
	"github.com/joseph-ayodele/kid-extractor/internal/server"
)

const limiterResetInterval = 5 * time.Minute

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(2)
	}
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build app", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Health(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	queue := async.NewProcessorQueue(a.Processor, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithProcessTimeout(cfg.Pipeline.ProcessTimeout),
	)

	if len(cfg.Ingest.Roots) > 0 {
		if err := watch(ctx, cfg.Ingest, a, queue, logger); err != nil {
			logger.Error("failed to start watcher", "roots", cfg.Ingest.Roots, "error", err)
			os.Exit(1)
		}
	}

	httpSrv := server.NewHTTPServer(server.HTTPDeps{
		Analyzer:  a.Processor,
		Queue:     queue,
		Repo:      a.Repo,
		Validator: a.Validator,
		Exporter:  a.Exporter,
		Health:    a.Health,
	}, server.HTTPConfig{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		RateLimitEvery: cfg.Server.RateLimitEvery,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		MaxConcurrent:  cfg.Server.MaxConcurrent,
		RequestTimeout: cfg.Server.RequestTimeout,
		UploadDir:      cfg.Pipeline.UploadDir,
		MinScore:       cfg.Pipeline.MinScore,
	}, logger)
	go resetLimiters(ctx, httpSrv)

	grpcSrv, health := server.NewGRPCServer(server.NewValidationService(a.Validator, cfg.Pipeline.MinScore, logger), logger)

	errCh := make(chan error, 2)
	var hs *http.Server
	if cfg.Server.HTTPAddr != "" {
		hs = &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           httpSrv.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		go func() {
			logger.Info("http listening", "addr", cfg.Server.HTTPAddr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
			os.Exit(1)
		}
		go func() {
			logger.Info("grpc listening", "addr", cfg.Server.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
	}

	// Stop taking traffic first, then drain the workers.
	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if hs != nil {
		if err := hs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}
	stopped := make(chan struct{})
	go func() { grpcSrv.GracefulStop(); close(stopped) }()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}
	queue.Shutdown(shutdownCtx)
	logger.Info("stopped")
}

// watch enqueues every PDF appearing under the drop folders.
func watch(ctx context.Context, cfg common.IngestConfig, a *app.App, queue *async.ProcessorQueue, logger *slog.Logger) error {
	events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       cfg.Roots,
		InitialScan: cfg.InitialScan,
		Debounce:    cfg.Debounce,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case path, ok := <-events:
				if !ok {
					return
				}
				submitted, err := a.Processor.Submit(ctx, path, filepath.Base(path))
				if err != nil {
					logger.Error("ingest.submit.failed", "path", path, "error", err)
					continue
				}
				if err := queue.Enqueue(ctx, async.Job{AnalysisID: submitted.ID, PDFPath: path, SourceName: submitted.SourceName}); err != nil {
					logger.Error("ingest.enqueue.failed", "path", path, "error", err)
					_ = a.Repo.MarkFailed(context.WithoutCancel(ctx), submitted.ID, err.Error())
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				logger.Warn("ingest.watcher.error", "error", err)
			}
		}
	}()
	return nil
}

func resetLimiters(ctx context.Context, s *server.HTTPServer) {
	t := time.NewTicker(limiterResetInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.ResetLimiters()
		}
	}
}
