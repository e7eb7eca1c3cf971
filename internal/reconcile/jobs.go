// Package reconcile runs the network reconciliation sweeps on cron schedules.
package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tiernet.org/internal/network"
	"tiernet.org/internal/obs"
)

// Sweeper runs one reconciliation rule.
type Sweeper interface {
	Sweep(ctx context.Context, kind network.SweepKind) (network.Report, error)
}

// Jobs wraps the sweeps as cron jobs.
type Jobs struct {
	sweeper Sweeper
	logger  *zap.Logger
	timeout time.Duration
}

// NewJobs builds the job set. A zero timeout leaves runs unbounded.
func NewJobs(sweeper Sweeper, logger *zap.Logger, timeout time.Duration) *Jobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jobs{sweeper: sweeper, logger: logger, timeout: timeout}
}

// Run executes one sweep and reports its outcome.
func (j *Jobs) Run(ctx context.Context, kind network.SweepKind) (network.Report, error) {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	rep, err := j.sweeper.Sweep(ctx, kind)
	took := time.Since(start)
	counts := rep.Counts()
	obs.ObserveSweep(string(kind), took, counts)

	if err != nil {
		j.logger.Error("sweep failed",
			zap.String("sweep", string(kind)),
			zap.Duration("took", took),
			zap.Error(err))
		return rep, err
	}
	fields := []zap.Field{
		zap.String("sweep", string(kind)),
		zap.Duration("took", took),
		zap.Int("items", len(rep.Items)),
	}
	for outcome, n := range counts {
		fields = append(fields, zap.Int(outcome, n))
	}
	j.logger.Info("sweep finished", fields...)
	return rep, nil
}

// Func adapts a sweep to cron.AddFunc.
func (j *Jobs) Func(ctx context.Context, kind network.SweepKind) func() {
	return func() {
		_, _ = j.Run(ctx, kind)
	}
}
