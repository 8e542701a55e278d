package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope     = "growrelay/sync"
	spanCycle     = "sync.cycle"
	metricCreated = "growrelay.sync.events.created"
	metricErrors  = "growrelay.sync.errors"
	metricCycles  = "growrelay.sync.cycles"
	metricSkipped = "growrelay.sync.cycles.skipped"
)

// Runner runs one sync cycle. Implemented by [Syncer].
type Runner interface {
	Run(ctx context.Context) Summary
}

// Schedule configures when the [Engine] starts cycles. A non-empty Cron
// expression (standard five fields, or descriptors like "@every 15m")
// takes precedence over Interval.
type Schedule struct {
	Interval time.Duration
	Cron     string
	// CycleTimeout bounds a whole cycle. Zero means unbounded.
	CycleTimeout time.Duration
}

// Engine triggers cycles periodically and on demand, never more than one at
// a time. Create one with [NewEngine] and start it with [Engine.Run].
type Engine struct {
	runner   Runner
	schedule Schedule
	log      *slog.Logger

	running sync.Mutex

	lastMu sync.Mutex
	last   *Summary

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer     trace.Tracer
	cntCreated metric.Int64Counter
	cntErrors  metric.Int64Counter
	cntCycles  metric.Int64Counter
	cntSkipped metric.Int64Counter
}

// NewEngine creates an Engine. It fails if the cron expression does not parse
// or neither a cron expression nor a positive interval is given.
func NewEngine(runner Runner, sched Schedule, logger *slog.Logger) (*Engine, error) {
	if sched.Cron != "" {
		if _, err := cron.ParseStandard(sched.Cron); err != nil {
			return nil, fmt.Errorf("parsing schedule %q: %w", sched.Cron, err)
		}
	} else if sched.Interval <= 0 {
		return nil, fmt.Errorf("%w: sync interval must be positive", ErrConfiguration)
	}

	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		runner:   runner,
		schedule: sched,
		log:      logger,

		tracer:     tracer,
		cntCreated: mustCounter(metricCreated, "Number of calendar events created"),
		cntErrors:  mustCounter(metricErrors, "Number of errors recorded in cycle summaries"),
		cntCycles:  mustCounter(metricCycles, "Number of sync cycles run"),
		cntSkipped: mustCounter(metricSkipped, "Number of triggers skipped because a cycle was running"),
	}, nil
}

// RunOnce runs a cycle now. It returns [ErrBusy] without running if another
// cycle is in progress.
func (e *Engine) RunOnce(ctx context.Context) (Summary, error) {
	if !e.running.TryLock() {
		e.cntSkipped.Add(ctx, 1)
		return Summary{}, ErrBusy
	}
	defer e.running.Unlock()
	return e.cycle(ctx), nil
}

// Last returns the summary of the most recent completed cycle.
func (e *Engine) Last() (Summary, bool) {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	if e.last == nil {
		return Summary{}, false
	}
	return *e.last, true
}

// cycle runs the syncer once, recording a trace span and metrics.
func (e *Engine) cycle(ctx context.Context) Summary {
	if e.schedule.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.schedule.CycleTimeout)
		defer cancel()
	}

	ctx, span := e.tracer.Start(ctx, spanCycle)
	defer span.End()

	sum := e.runner.Run(ctx)

	// Counters are safe to record even when the span is a no-op.
	e.cntCycles.Add(ctx, 1)
	if sum.EventsCreated > 0 {
		e.cntCreated.Add(ctx, int64(sum.EventsCreated))
	}
	if n := len(sum.Errors); n > 0 {
		e.cntErrors.Add(ctx, int64(n))
	}

	span.SetAttributes(
		attribute.String("sync.run_id", sum.RunID),
		attribute.Int("sync.events_created", sum.EventsCreated),
		attribute.Int("sync.errors", len(sum.Errors)),
		attribute.Int("sync.subjects", sum.Subjects),
	)
	if err := sum.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cycle recorded errors")
	}

	e.lastMu.Lock()
	e.last = &sum
	e.lastMu.Unlock()
	return sum
}

// tick is a scheduled trigger: it runs a cycle unless one is in progress.
func (e *Engine) tick(ctx context.Context) {
	sum, err := e.RunOnce(ctx)
	if err != nil {
		e.log.Warn("previous sync still running, skipping tick")
		return
	}
	for _, msg := range sum.Errors {
		e.log.Error("sync error", "run_id", sum.RunID, "error", msg)
	}
}

// Run runs a cycle immediately and then on the configured schedule. It blocks
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.tick(ctx)

	if e.schedule.Cron != "" {
		return e.runCron(ctx)
	}

	ticker := time.NewTicker(e.schedule.Interval)
	defer ticker.Stop()

	e.log.Info("sync engine started", "interval", e.schedule.Interval)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) runCron(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(e.schedule.Cron, func() { e.tick(ctx) }); err != nil {
		return fmt.Errorf("scheduling %q: %w", e.schedule.Cron, err)
	}
	c.Start()
	e.log.Info("sync engine started", "schedule", e.schedule.Cron)

	<-ctx.Done()
	e.log.Info("sync engine shutting down")
	<-c.Stop().Done()
	return ctx.Err()
}
