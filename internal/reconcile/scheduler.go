package reconcile

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tiernet.org/internal/network"
)

// Scheduler manages the sweep cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *zap.Logger
	schedules map[network.SweepKind]string
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewScheduler creates a scheduler. A sweep that overruns its next tick is skipped
// rather than run concurrently with itself.
func NewScheduler(jobs *Jobs, logger *zap.Logger, schedules map[network.SweepKind]string) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers the configured sweeps and starts the cron scheduler. Sweeps with
// an empty or invalid schedule are logged and left out.
func (s *Scheduler) Start() {
	for _, kind := range network.SweepKinds {
		spec, ok := s.schedules[kind]
		if !ok || spec == "" {
			s.logger.Info("sweep not scheduled", zap.String("sweep", string(kind)))
			continue
		}
		if _, err := s.cron.AddFunc(spec, s.jobs.Func(s.ctx, kind)); err != nil {
			s.logger.Error("failed to schedule sweep",
				zap.String("sweep", string(kind)),
				zap.String("schedule", spec),
				zap.Error(err))
			continue
		}
		s.logger.Info("scheduled sweep", zap.String("sweep", string(kind)), zap.String("schedule", spec))
	}
	s.cron.Start()
}

// Entries reports how many sweeps are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop stops scheduling, cancels running sweeps and returns a context that is done
// once they have returned.
func (s *Scheduler) Stop() context.Context {
	done := s.cron.Stop()
	s.cancel()
	return done
}

type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
