package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/kid-extractor/internal/entity"
	"github.com/joseph-ayodele/kid-extractor/internal/repository"
	"github.com/joseph-ayodele/kid-extractor/internal/validation"
)

const sheet = "Analyses"

var headers = []string{
	"Analysis ID",
	"File",
	"Status",
	"Score",
	"Product",
	"ISIN",
	"Risk Level",
	"Issue Date",
	"Redemption Date",
	"Feedback",
}

// Service produces XLSX bytes from stored analyses.
type Service struct {
	repo      repository.AnalysisRepository
	validator *validation.Validator
	logger    *slog.Logger
}

func NewService(repo repository.AnalysisRepository, v *validation.Validator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if v == nil {
		v = validation.Default()
	}
	return &Service{repo: repo, validator: v, logger: logger}
}

// ExportAnalysesXLSX returns a workbook with one row per analysis, newest first.
func (s *Service) ExportAnalysesXLSX(ctx context.Context, limit int) ([]byte, error) {
	start := time.Now()

	rows, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(sheet, 1, 1, style)
	}

	for i, a := range rows {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, a.ID.String())
		write(2, a.SourceName)
		write(3, a.Status)
		if a.Score != nil {
			write(4, *a.Score)
		}

		if kid, ok := s.document(a); ok {
			write(5, kid.Product.Name)
			write(6, kid.Product.ISIN)
			if kid.Risk.Level > 0 {
				write(7, kid.Risk.Level)
			}
			if !kid.Dates.Issue.IsZero() {
				write(8, kid.Dates.Issue.Format("2006-01-02"))
			}
			if !kid.Dates.Redemption.IsZero() {
				write(9, kid.Dates.Redemption.Format("2006-01-02"))
			}
		}
		write(10, truncate(strings.Join(a.Feedback, " | "), 500))
	}

	_ = f.SetColWidth(sheet, "A", "A", 38) // id
	_ = f.SetColWidth(sheet, "B", "B", 32) // file
	_ = f.SetColWidth(sheet, "C", "D", 12) // status, score
	_ = f.SetColWidth(sheet, "E", "E", 36) // product
	_ = f.SetColWidth(sheet, "F", "F", 16) // isin
	_ = f.SetColWidth(sheet, "G", "I", 14) // risk, dates
	_ = f.SetColWidth(sheet, "J", "J", 80) // feedback

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) document(a *entity.Analysis) (entity.KID, bool) {
	if len(a.RecordJSON) == 0 {
		return entity.KID{}, false
	}
	fields, err := s.validator.Normalize([]byte(a.RecordJSON))
	if err != nil {
		s.logger.Warn("export.record.decode_failed", "analysis_id", a.ID, "error", err)
		return entity.KID{}, false
	}
	return fields.KID(), true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
