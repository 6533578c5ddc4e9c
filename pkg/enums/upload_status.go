package enums

import "fmt"

// UploadStatus describes the processing lifecycle of an uploaded slide deck.
type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "pending"
	UploadStatusProcessing UploadStatus = "processing"
	UploadStatusCompleted  UploadStatus = "completed"
	UploadStatusError      UploadStatus = "error"
)

var validUploadStatuses = []UploadStatus{
	UploadStatusPending,
	UploadStatusProcessing,
	UploadStatusCompleted,
	UploadStatusError,
}

// String returns the literal string for the status.
func (s UploadStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is known.
func (s UploadStatus) IsValid() bool {
	for _, candidate := range validUploadStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the processing state machine has finished.
func (s UploadStatus) IsTerminal() bool {
	return s == UploadStatusCompleted || s == UploadStatusError
}

// CanTransitionTo enforces pending → processing → {completed|error} and
// error → pending (manual retry). processing → pending is also legal: a
// cancelled or crashed worker abandons its claim mid-processing, and a
// manual retry is the only way back.
func (s UploadStatus) CanTransitionTo(next UploadStatus) bool {
	switch s {
	case UploadStatusPending:
		return next == UploadStatusProcessing
	case UploadStatusProcessing:
		return next == UploadStatusCompleted || next == UploadStatusError ||
			next == UploadStatusPending
	case UploadStatusError:
		return next == UploadStatusPending
	default:
		return false
	}
}

// ParseUploadStatus converts raw input into an UploadStatus.
func ParseUploadStatus(value string) (UploadStatus, error) {
	for _, candidate := range validUploadStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid upload status %q", value)
}
