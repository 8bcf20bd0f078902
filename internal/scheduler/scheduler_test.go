package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/acme/voice-interview/internal/config"
	"github.com/acme/voice-interview/internal/service/interview"
	"github.com/acme/voice-interview/pkg/logger"
)

func mustWindows(t *testing.T, in ...config.BusinessHoursWindow) []Window {
	t.Helper()
	w, err := ParseWindows(in)
	if err != nil {
		t.Fatalf("parse windows: %v", err)
	}
	return w
}

func TestIsWithinBusinessHours(t *testing.T) {
	windows := mustWindows(t, config.BusinessHoursWindow{Day: int(time.Monday), Start: "09:00", End: "17:00"})

	mondayMorning := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if !isWithinBusinessHours(mondayMorning, windows) {
		t.Fatalf("expected %v to be within business hours", mondayMorning)
	}

	mondayNight := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)
	if isWithinBusinessHours(mondayNight, windows) {
		t.Fatalf("expected %v to be outside business hours", mondayNight)
	}

	tuesdayMorning := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	if isWithinBusinessHours(tuesdayMorning, windows) {
		t.Fatalf("expected %v to be outside business hours (wrong day)", tuesdayMorning)
	}
}

func TestIsWithinBusinessHoursSpanningMidnight(t *testing.T) {
	windows := mustWindows(t, config.BusinessHoursWindow{Day: int(time.Monday), Start: "22:00", End: "02:00"})

	night := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	if !isWithinBusinessHours(night, windows) {
		t.Fatalf("expected %v to be within cross-midnight window", night)
	}

	earlyMorning := time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC)
	if !isWithinBusinessHours(earlyMorning, windows) {
		t.Fatalf("expected %v to be within cross-midnight window", earlyMorning)
	}
}

func TestParseWindowsRejectsBadInput(t *testing.T) {
	for _, w := range []config.BusinessHoursWindow{
		{Day: 7, Start: "09:00", End: "17:00"},
		{Day: 1, Start: "9am", End: "17:00"},
		{Day: 1, Start: "09:00", End: "25:00"},
	} {
		if _, err := ParseWindows([]config.BusinessHoursWindow{w}); err == nil {
			t.Errorf("expected error for %+v", w)
		}
	}
}

type countingDispatcher struct {
	calls int
	limit int
}

func (d *countingDispatcher) DispatchDue(_ context.Context, limit int) (interview.DispatchResult, error) {
	d.calls++
	d.limit = limit
	return interview.DispatchResult{Dispatched: 1}, nil
}

func TestTickSkipsOutsideBusinessHours(t *testing.T) {
	d := &countingDispatcher{}
	s, err := New(config.SchedulerConfig{
		MaxBatchSize:  7,
		BusinessHours: []config.BusinessHoursWindow{{Day: int(time.Monday), Start: "09:00", End: "17:00"}},
	}, d, logger.NewNop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	s.now = func() time.Time { return time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC) }
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if d.calls != 0 {
		t.Fatalf("expected no dispatch outside hours, got %d", d.calls)
	}

	s.now = func() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) }
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if d.calls != 1 || d.limit != 7 {
		t.Fatalf("expected one dispatch with limit 7, got calls=%d limit=%d", d.calls, d.limit)
	}
}

func TestNewRejectsUnknownTimeZone(t *testing.T) {
	if _, err := New(config.SchedulerConfig{TimeZone: "Mars/Olympus"}, &countingDispatcher{}, logger.NewNop()); err == nil {
		t.Fatalf("expected error for unknown time zone")
	}
}
