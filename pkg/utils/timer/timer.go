// Package timer provides monotonic stage timing for long-running commands.
package timer

import "time"

// Timer tracks total elapsed time and per-stage elapsed time for a command run.
// Implementations must use the monotonic clock so wall-clock adjustments do not
// skew reported durations.
type Timer interface {
	// Start begins timing. Calling Start again resets both total and stage.
	Start()

	// NewStage marks the beginning of a new stage.
	NewStage()

	// GetTiming returns the total elapsed time and the current stage's elapsed time.
	GetTiming() (total, stage time.Duration)
}

type monotonicTimer struct {
	start      time.Time
	stageStart time.Time
}

// New returns a Timer backed by the monotonic clock.
func New() Timer {
	return &monotonicTimer{}
}

func (t *monotonicTimer) Start() {
	now := time.Now()
	t.start = now
	t.stageStart = now
}

func (t *monotonicTimer) NewStage() {
	t.stageStart = time.Now()
}

func (t *monotonicTimer) GetTiming() (time.Duration, time.Duration) {
	if t.start.IsZero() {
		return 0, 0
	}

	now := time.Now()

	return now.Sub(t.start).Round(time.Millisecond),
		now.Sub(t.stageStart).Round(time.Millisecond)
}
