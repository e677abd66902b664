package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/kid-extractor/internal/common"
	"github.com/joseph-ayodele/kid-extractor/internal/pipeline"
)

var analyzeForce bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <pdf>",
	Short: "Run the extraction pipeline on a PDF",
	Long: `Extract text and images from the PDF, ask the language model for a KID record,
grade it and store the analysis. The accepted record is printed as JSON; a
rejected one prints its verdict and exits non-zero.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVarP(&analyzeForce, "force", "f", false, "ignore cached results for the same file")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	path := args[0]
	if err := common.NewParams().Field("pdf", path, common.PDFName).Err(); err != nil {
		return err
	}
	res, err := a.Processor.Analyze(ctx, pipeline.AnalyzeRequest{
		PDFPath:    path,
		SourceName: filepath.Base(path),
		Force:      analyzeForce,
	})
	out := cmd.OutOrStdout()
	if errors.Is(err, common.ErrRejected) && res != nil {
		_ = printJSON(out, map[string]any{
			"analysis_id": res.ID,
			"status":      res.Status,
			"score":       res.Score,
			"feedback":    res.Feedback,
		})
		return err
	}
	if err != nil {
		return fmt.Errorf("analyze %s: %w", path, err)
	}

	if res.OutputDir != nil {
		logger.Info("analysis stored", "analysis_id", res.ID, "output_dir", *res.OutputDir)
	}
	return printJSON(out, json.RawMessage(res.RecordJSON))
}
