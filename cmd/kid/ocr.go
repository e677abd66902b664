package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/kid-extractor/internal/llm/openai"
	"github.com/joseph-ayodele/kid-extractor/internal/ocr"
	"github.com/joseph-ayodele/kid-extractor/internal/pipeline"
	"github.com/joseph-ayodele/kid-extractor/internal/vision"
)

var (
	ocrWorkDir  string
	ocrDescribe bool
)

var ocrCmd = &cobra.Command{
	Use:   "ocr <pdf>",
	Short: "Convert a PDF to markdown without calling the language model",
	Long: `Run only the text stage: text layer or OCR per page, embedded images saved under
<workdir>/images, and with --describe the image captions. The markdown is
printed on stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

func init() {
	ocrCmd.Flags().StringVarP(&ocrWorkDir, "workdir", "w", "", "directory for extracted images (default a temp dir)")
	ocrCmd.Flags().BoolVar(&ocrDescribe, "describe", false, "caption embedded images with the vision model")
	rootCmd.AddCommand(ocrCmd)
}

func runOCR(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	workDir := ocrWorkDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "kid-ocr-*")
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(dir) }()
		workDir = dir
	}

	extractor := ocr.NewExtractor(ocr.Config{
		Pdftotext:     cfg.OCR.PdfToText,
		Pdftoppm:      cfg.OCR.PdfToPPM,
		Pdfimages:     cfg.OCR.PdfImages,
		Tesseract:     cfg.OCR.Tesseract,
		TesseractLang: cfg.OCR.Languages,
		TessdataDir:   cfg.OCR.TessdataDir,
		DPI:           cfg.OCR.DPI,
		MinPageChars:  cfg.OCR.MinPageChars,
	}, nil, logger)

	var enricher pipeline.Enricher
	if ocrDescribe {
		enricher = vision.NewCaptioner(openai.NewClient(openai.Config{
			APIKey:      cfg.Vision.APIKey,
			BaseURL:     cfg.Vision.BaseURL,
			Model:       cfg.Vision.Model,
			VisionModel: cfg.Vision.Model,
			Timeout:     cfg.Vision.Timeout,
		}, logger), logger)
	}

	start := time.Now()
	res, err := pipeline.NewTextStage(extractor, enricher, logger).Run(ctx, args[0], workDir)
	if err != nil {
		return fmt.Errorf("text extraction failed: %w", err)
	}
	logger.Info("text extraction OK",
		"file", filepath.Base(args[0]),
		"method", res.OCR.Method,
		"pages", len(res.OCR.Pages),
		"images", len(res.OCR.Images),
		"described", res.Vision.Described,
		"risk_level", res.Vision.RiskLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	_, err = fmt.Fprint(cmd.OutOrStdout(), res.Enriched)
	return err
}
