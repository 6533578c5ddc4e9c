package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/sabobeh/lectureweaver-backend/pkg/enums"
	pkgerrors "github.com/sabobeh/lectureweaver-backend/pkg/errors"
	"github.com/sabobeh/lectureweaver-backend/pkg/logger"
	"github.com/sabobeh/lectureweaver-backend/pkg/metrics"
)

// Sleeper abstracts retry waits so tests can run without wall-clock delays.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type clockSleeper struct{}

func (clockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// AttemptFunc performs one transfer attempt. progress accepts 0-100 and may
// be called repeatedly; the engine enforces monotonicity within the attempt.
type AttemptFunc func(ctx context.Context, attempt int, progress func(percent int)) error

// Job describes one transfer to drive through the retry loop.
type Job struct {
	// Target labels the destination for logs and metrics.
	Target string

	// OnStatus observes state machine transitions. Optional.
	OnStatus func(status enums.TransferStatus)

	// OnProgress observes the 0-100 progress value. It resets to 0 at the
	// start of every attempt. Optional.
	OnProgress func(percent int)

	Run AttemptFunc
}

// Engine retries transfers with exponential backoff. The wait after a failed
// attempt n is baseDelay * 2^(n-1); there is no wait after the final attempt.
type Engine struct {
	maxAttempts int
	baseDelay   time.Duration
	sleeper     Sleeper
	metrics     *metrics.TransferMetrics
	logg        *logger.Logger
}

// NewEngine builds a transfer engine.
func NewEngine(maxAttempts int, baseDelay time.Duration, m *metrics.TransferMetrics, logg *logger.Logger) (*Engine, error) {
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive")
	}
	if baseDelay <= 0 {
		return nil, fmt.Errorf("base delay must be positive")
	}
	return &Engine{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		sleeper:     clockSleeper{},
		metrics:     m,
		logg:        logg,
	}, nil
}

// BackoffDelay returns the wait applied after a failed attempt (1-based).
func (e *Engine) BackoffDelay(attempt int) time.Duration {
	return e.baseDelay * (1 << (attempt - 1))
}

// Execute drives the job to a terminal state. Every attempt reports
// transferring, then completed or error. Cancellation short-circuits the loop
// and surfaces as CANCELLED without an error status transition; that is an
// intentional stop, not a failure.
func (e *Engine) Execute(ctx context.Context, job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job run func is required")
	}

	emitStatus := func(status enums.TransferStatus) {
		if job.OnStatus != nil {
			job.OnStatus(status)
		}
	}

	started := time.Now()
	emitStatus(enums.TransferStatusPending)

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			e.recordOutcome(job.Target, "cancelled", started)
			return pkgerrors.Wrap(pkgerrors.CodeCancelled, err, "transfer cancelled")
		}

		e.metrics.IncAttempt(job.Target)
		emitStatus(enums.TransferStatusTransferring)

		// Progress is monotonic within an attempt and resets across attempts.
		high := 0
		emitProgress := func(percent int) {
			if percent < 0 {
				percent = 0
			}
			if percent > 100 {
				percent = 100
			}
			if percent < high {
				return
			}
			high = percent
			if job.OnProgress != nil {
				job.OnProgress(percent)
			}
		}
		emitProgress(0)

		err := job.Run(ctx, attempt, emitProgress)
		if err == nil {
			emitProgress(100)
			emitStatus(enums.TransferStatusCompleted)
			e.recordOutcome(job.Target, "completed", started)
			return nil
		}

		if pkgerrors.IsCancelled(err) || ctx.Err() != nil {
			e.recordOutcome(job.Target, "cancelled", started)
			return pkgerrors.Wrap(pkgerrors.CodeCancelled, err, "transfer cancelled")
		}

		lastErr = err
		emitStatus(enums.TransferStatusError)
		if e.logg != nil {
			e.logg.Warn(
				e.logg.WithFields(ctx, map[string]any{"attempt": attempt, "target": job.Target}),
				"transfer attempt failed",
			)
		}

		if attempt < e.maxAttempts {
			if sleepErr := e.sleeper.Sleep(ctx, e.BackoffDelay(attempt)); sleepErr != nil {
				e.recordOutcome(job.Target, "cancelled", started)
				return pkgerrors.Wrap(pkgerrors.CodeCancelled, sleepErr, "transfer cancelled")
			}
		}
	}

	e.recordOutcome(job.Target, "error", started)
	return pkgerrors.Wrap(pkgerrors.CodeTransfer, lastErr,
		fmt.Sprintf("transfer failed after %d attempts", e.maxAttempts))
}

func (e *Engine) recordOutcome(target, result string, started time.Time) {
	e.metrics.IncOutcome(target, result)
	e.metrics.ObserveDuration(target, time.Since(started))
}
