package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/voice-interview/internal/config"
	"github.com/acme/voice-interview/internal/service/interview"
	"github.com/acme/voice-interview/pkg/logger"
)

// Dispatcher dials interview requests whose time has come.
type Dispatcher interface {
	DispatchDue(ctx context.Context, limit int) (interview.DispatchResult, error)
}

// Window is a parsed business-hours window in minutes since local midnight.
type Window struct {
	Day   time.Weekday
	Start int
	End   int
}

// Scheduler periodically dispatches due interviews respecting business hours.
type Scheduler struct {
	dispatcher Dispatcher
	interval   time.Duration
	batchSize  int
	location   *time.Location
	windows    []Window
	logger     *logger.Logger
	now        func() time.Time
}

// New constructs a scheduler from configuration.
func New(cfg config.SchedulerConfig, dispatcher Dispatcher, lg *logger.Logger) (*Scheduler, error) {
	loc := time.UTC
	if cfg.TimeZone != "" {
		l, err := time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("scheduler: load time zone %q: %w", cfg.TimeZone, err)
		}
		loc = l
	}

	windows, err := ParseWindows(cfg.BusinessHours)
	if err != nil {
		return nil, err
	}

	interval := cfg.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	batch := cfg.MaxBatchSize
	if batch <= 0 {
		batch = 50
	}

	return &Scheduler{
		dispatcher: dispatcher,
		interval:   interval,
		batchSize:  batch,
		location:   loc,
		windows:    windows,
		logger:     lg.Named("scheduler"),
		now:        time.Now,
	}, nil
}

// Run executes the scheduling loop until cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	tracer := otel.Tracer("interview.scheduler")
	sctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	now := s.now().UTC()
	if !isWithinBusinessHours(now.In(s.location), s.windows) {
		span.SetAttributes(attribute.Bool("business_hours", false))
		s.logger.Debug("scheduler: outside business hours", zap.Time("now", now))
		return nil
	}

	result, err := s.dispatcher.DispatchDue(sctx, s.batchSize)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(
		attribute.Int("requests.dispatched", result.Dispatched),
		attribute.Int("requests.failed", result.Failed),
	)
	if result.Dispatched > 0 || result.Failed > 0 {
		s.logger.Info("scheduler: dispatched due interviews",
			zap.Int("dispatched", result.Dispatched),
			zap.Int("failed", result.Failed),
		)
	}
	return nil
}

// ParseWindows converts configured "HH:MM" windows.
func ParseWindows(in []config.BusinessHoursWindow) ([]Window, error) {
	out := make([]Window, 0, len(in))
	for _, w := range in {
		if w.Day < 0 || w.Day > 6 {
			return nil, fmt.Errorf("scheduler: business hours day %d out of range", w.Day)
		}
		start, err := parseClock(w.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseClock(w.End)
		if err != nil {
			return nil, err
		}
		out = append(out, Window{Day: time.Weekday(w.Day), Start: start, End: end})
	}
	return out, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("scheduler: invalid clock %q: %w", v, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func isWithinBusinessHours(local time.Time, windows []Window) bool {
	if len(windows) == 0 {
		return true
	}

	minuteOfDay := local.Hour()*60 + local.Minute()
	weekday := local.Weekday()

	for _, window := range windows {
		if window.End <= window.Start {
			// window spans midnight
			nextDay := time.Weekday((int(window.Day) + 1) % 7)
			if window.Day == weekday && minuteOfDay >= window.Start {
				return true
			}
			if nextDay == weekday && minuteOfDay < window.End {
				return true
			}
			continue
		}

		if window.Day != weekday {
			continue
		}

		if minuteOfDay >= window.Start && minuteOfDay < window.End {
			return true
		}
	}

	return false
}
