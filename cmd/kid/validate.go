package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/kid-extractor/internal/common"
)

var validateMinScore float64

var validateCmd = &cobra.Command{
	Use:   "validate <json>",
	Short: "Grade a KID record",
	Long:  "Grade a KID record read from a file, or from stdin when the argument is -. Exits non-zero when the score is below --min-score.",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().Float64Var(&validateMinScore, "min-score", -1, "acceptance threshold (default MIN_SCORE)")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	v, err := newValidator()
	if err != nil {
		return err
	}
	res, err := v.ValidateJSON(data)
	if err != nil {
		return err
	}

	minScore := validateMinScore
	if minScore < 0 {
		minScore = cfg.Pipeline.MinScore
	}
	accepted := res.Accepted(minScore)
	if err := printJSON(cmd.OutOrStdout(), map[string]any{
		"accepted": accepted,
		"score":    res.Score,
		"feedback": res.Feedback,
		"result":   res,
	}); err != nil {
		return err
	}
	if !accepted {
		return common.RejectedError(res.Score, minScore)
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}
