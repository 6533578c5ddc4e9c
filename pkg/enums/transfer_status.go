package enums

import "fmt"

// TransferStatus describes the archival transfer state machine attached to an
// upload. It is independent of the processing UploadStatus.
type TransferStatus string

const (
	TransferStatusIdle         TransferStatus = "idle"
	TransferStatusPending      TransferStatus = "pending"
	TransferStatusTransferring TransferStatus = "transferring"
	TransferStatusCompleted    TransferStatus = "completed"
	TransferStatusError        TransferStatus = "error"
)

var validTransferStatuses = []TransferStatus{
	TransferStatusIdle,
	TransferStatusPending,
	TransferStatusTransferring,
	TransferStatusCompleted,
	TransferStatusError,
}

// String returns the literal string for the status.
func (s TransferStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is known.
func (s TransferStatus) IsValid() bool {
	for _, candidate := range validTransferStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the transfer state machine has finished.
func (s TransferStatus) IsTerminal() bool {
	return s == TransferStatusCompleted || s == TransferStatusError
}

// CanTransitionTo enforces idle → pending → transferring → {completed|error}
// and error → pending (manual retry). transferring → pending is also legal:
// a cancelled or crashed run parks the row in transferring, and a manual
// retry is the only way back.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	switch s {
	case TransferStatusIdle:
		return next == TransferStatusPending
	case TransferStatusPending:
		return next == TransferStatusTransferring
	case TransferStatusTransferring:
		return next == TransferStatusCompleted || next == TransferStatusError ||
			next == TransferStatusPending
	case TransferStatusError:
		return next == TransferStatusPending
	default:
		return false
	}
}

// ParseTransferStatus converts raw input into a TransferStatus.
func ParseTransferStatus(value string) (TransferStatus, error) {
	for _, candidate := range validTransferStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transfer status %q", value)
}
