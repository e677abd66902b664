package constants

// AnalysisStatus is the canonical status for rows in the analyses table.
type AnalysisStatus string

// Stable values (store these exact strings in DB).
const (
	StatusQueued   AnalysisStatus = "QUEUED"   // accepted for background processing
	StatusRunning  AnalysisStatus = "RUNNING"  // in progress
	StatusTextOK   AnalysisStatus = "TEXT_OK"  // stage 1 completed (markdown produced)
	StatusAccepted AnalysisStatus = "ACCEPTED" // record scored at or above the threshold
	StatusRejected AnalysisStatus = "REJECTED" // best attempt stayed below the threshold
	StatusFailed   AnalysisStatus = "FAILED"   // terminal failure
)

// IsTerminal reports whether no further transition is expected.
func (s AnalysisStatus) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusFailed:
		return true
	}
	return false
}
