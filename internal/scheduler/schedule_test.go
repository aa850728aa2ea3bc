package scheduler

import (
	"testing"
	"time"
)

func TestNextRun_Daily(t *testing.T) {
	sch := &Schedule{Enabled: true, Pattern: Pattern{Kind: PatternDaily, Time: "02:30"}}

	after := time.Date(2026, 7, 30, 1, 0, 0, 0, time.UTC)
	next, ok := sch.NextRun(after)
	if !ok {
		t.Fatal("expected ok")
	}
	want := time.Date(2026, 7, 30, 2, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}

	after = time.Date(2026, 7, 30, 3, 0, 0, 0, time.UTC)
	next, ok = sch.NextRun(after)
	if !ok {
		t.Fatal("expected ok")
	}
	want = time.Date(2026, 7, 31, 2, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected rollover to next day %v, got %v", want, next)
	}
}

func TestNextRun_Weekly(t *testing.T) {
	sch := &Schedule{Enabled: true, Pattern: Pattern{
		Kind: PatternWeekly,
		Days: []time.Weekday{time.Monday, time.Thursday},
		Time: "09:00",
	}}

	// 2026-07-30 is a Thursday.
	after := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	next, ok := sch.NextRun(after)
	if !ok {
		t.Fatal("expected ok")
	}
	want := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC) // next Monday
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestNextRun_Once(t *testing.T) {
	at := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	sch := &Schedule{Enabled: true, Pattern: Pattern{Kind: PatternOnce, At: at}}

	next, ok := sch.NextRun(time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC))
	if !ok || !next.Equal(at) {
		t.Errorf("expected %v true, got %v %v", at, next, ok)
	}

	_, ok = sch.NextRun(time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC))
	if ok {
		t.Error("expected no next run once At has passed")
	}
}

func TestNextRun_CronIsUnresolved(t *testing.T) {
	sch := &Schedule{Enabled: true, Pattern: Pattern{Kind: PatternCron, Expression: "0 3 * * *"}}
	_, ok := sch.NextRun(time.Now().UTC())
	if ok {
		t.Error("expected cron patterns to report no computed next_run")
	}
}

func TestNextRun_DisabledScheduleNeverFires(t *testing.T) {
	sch := &Schedule{Enabled: false, Pattern: Pattern{Kind: PatternDaily, Time: "00:00"}}
	_, ok := sch.NextRun(time.Now().UTC())
	if ok {
		t.Error("expected disabled schedule to report no next_run")
	}
}

func TestValidate_RejectsMismatchedPatternFields(t *testing.T) {
	cases := []*Schedule{
		{Name: "x", Command: "y", Pattern: Pattern{Kind: PatternDaily, Time: "25:00"}},
		{Name: "x", Command: "y", Pattern: Pattern{Kind: PatternWeekly, Time: "09:00"}},
		{Name: "x", Command: "y", Pattern: Pattern{Kind: PatternCron}},
		{Name: "x", Command: "y", Pattern: Pattern{Kind: PatternOnce}},
		{Name: "", Command: "y", Pattern: Pattern{Kind: PatternDaily, Time: "09:00"}},
	}
	for i, sch := range cases {
		if err := sch.Validate(); err == nil {
			t.Errorf("case %d: expected validation error, got nil", i)
		}
	}
}

func TestValidate_AcceptsWellFormedSchedules(t *testing.T) {
	sch := NewSchedule("nightly", "backupd backup --label nightly", Pattern{Kind: PatternDaily, Time: "02:00"}, time.Now().UTC())
	if err := sch.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}
