package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/kid-extractor/internal/common"
	"github.com/joseph-ayodele/kid-extractor/internal/render"
)

var (
	renderFormat string
	renderOut    string
)

var renderCmd = &cobra.Command{
	Use:   "render <json>",
	Short: "Render a KID record as XML or a French text summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

func init() {
	renderCmd.Flags().StringVar(&renderFormat, "format", "xml", "output format: xml or text")
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	if err := common.NewParams().Field("format", renderFormat, common.OneOf("xml", "text")).Err(); err != nil {
		return err
	}
	data, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	v, err := newValidator()
	if err != nil {
		return err
	}
	doc, res, err := render.FromRecord(v, data)
	if err != nil {
		return err
	}

	var body []byte
	if strings.EqualFold(renderFormat, "xml") {
		if body, err = render.XML(doc); err != nil {
			return fmt.Errorf("render xml: %w", err)
		}
	} else {
		body = []byte(render.Text(doc, res))
	}

	w, err := output(renderOut)
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
