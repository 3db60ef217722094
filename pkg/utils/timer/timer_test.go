package timer_test

import (
	"testing"
	"time"

	"github.com/buildforge/kindenv/pkg/utils/timer"
)

func TestGetTiming_BeforeStartReturnsZero(t *testing.T) {
	t.Parallel()

	total, stage := timer.New().GetTiming()

	if total != 0 || stage != 0 {
		t.Fatalf("expected zero durations before Start, got total=%v stage=%v", total, stage)
	}
}

func TestGetTiming_StageResetsOnNewStage(t *testing.T) {
	t.Parallel()

	runTimer := timer.New()
	runTimer.Start()

	time.Sleep(10 * time.Millisecond)

	runTimer.NewStage()

	total, stage := runTimer.GetTiming()

	if total < stage {
		t.Fatalf("total %v must be at least stage %v", total, stage)
	}

	if stage > 10*time.Millisecond {
		t.Fatalf("stage %v should have reset on NewStage", stage)
	}
}

func TestStart_ResetsBothDurations(t *testing.T) {
	t.Parallel()

	runTimer := timer.New()
	runTimer.Start()

	time.Sleep(5 * time.Millisecond)

	runTimer.Start()

	total, _ := runTimer.GetTiming()
	if total > 5*time.Millisecond {
		t.Fatalf("total %v should have reset on second Start", total)
	}
}
