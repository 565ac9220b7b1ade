package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trade_core/internal/metrics"
	"trade_core/pkg/tracing"
)

// Observer is told about every finished pass (health state).
type Observer interface {
	ObservePass(at time.Time, err error)
}

type Runner struct {
	pass  Pass
	log   *zap.Logger
	obs   Observer
	newID func() string
}

func New(pass Pass, log *zap.Logger, obs Observer) *Runner {
	return &Runner{
		pass:  pass,
		log:   log.Named(pass.Name()),
		obs:   obs,
		newID: uuid.NewString,
	}
}

// Once executes a single pass under its own run id and tracing span.
func (r *Runner) Once(ctx context.Context) (Summary, error) {
	runID := r.newID()
	span, ctx := tracing.StartSpan(ctx, r.pass.Name()+".pass")
	span.SetTag("run_id", runID)

	start := time.Now()
	sum, err := r.pass.RunOnce(ctx, runID)
	took := time.Since(start)
	if sum == nil {
		sum = Summary{}
	}

	metrics.ObservePass(r.pass.Name(), sum, err, took)
	if r.obs != nil {
		r.obs.ObservePass(time.Now(), err)
	}
	tracing.Finish(span, err)

	fields := append([]zap.Field{
		zap.String("run_id", runID),
		zap.Duration("took", took),
		zap.Int("items", sum.Total()),
	}, sum.Fields()...)
	if err != nil {
		r.log.Error("pass failed", append(fields, zap.Error(err))...)
		return sum, err
	}
	r.log.Info("pass done", fields...)
	return sum, nil
}

// Follow runs a pass immediately and then every interval until ctx ends.
// Each pass gets a deadline of one interval; a failed pass is retried on
// the next tick.
func (r *Runner) Follow(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("follow interval must be positive, got %s", interval)
	}
	job := func(base context.Context) {
		pctx, cancel := context.WithTimeout(base, interval)
		defer cancel()
		_, _ = r.Once(pctx)
	}

	sched := NewScheduler(r.log, ctx)
	if _, err := sched.Add(fmt.Sprintf("@every %s", interval), job); err != nil {
		return fmt.Errorf("schedule %s: %w", r.pass.Name(), err)
	}

	job(ctx)
	sched.Start()
	<-ctx.Done()
	sched.Stop()
	return nil
}
