package async

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job is one queued analysis. The analysis row already exists in QUEUED.
type Job struct {
	AnalysisID  uuid.UUID
	PDFPath     string
	SourceName  string
	Force       bool // bypass the content-hash cache
	RemoveAfter bool // delete PDFPath once processed (uploaded copies)
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
