package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/kid-extractor/constants"
)

// Analysis represents one PDF analysis for data transfer between layers.
type Analysis struct {
	ID           uuid.UUID       `json:"id"`
	SourceName   string          `json:"source_name"`
	ContentHash  string          `json:"content_hash"`
	Status       string          `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Score        *float64        `json:"score,omitempty"`
	Attempts     int             `json:"attempts"`
	Feedback     []string        `json:"feedback,omitempty"`
	Markdown     *string         `json:"markdown,omitempty"`
	RecordJSON   json.RawMessage `json:"record,omitempty"`
	RawResponse  *string         `json:"raw_response,omitempty"`
	ModelName    *string         `json:"model_name,omitempty"`
	OutputDir    *string         `json:"output_dir,omitempty"`
}

// Accepted reports whether the analysis produced an accepted record.
func (a *Analysis) Accepted() bool {
	return a.Status == string(constants.StatusAccepted)
}
