package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"tiernet.org/internal/network"
)

type fakeSweeper struct {
	mu    sync.Mutex
	calls map[network.SweepKind]int
	err   error
	items []network.Item
}

func (f *fakeSweeper) Sweep(ctx context.Context, kind network.SweepKind) (network.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[network.SweepKind]int{}
	}
	f.calls[kind]++
	return network.Report{Kind: kind, Items: f.items}, f.err
}

func (f *fakeSweeper) count(kind network.SweepKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func TestJobsRunLogsOutcomes(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sw := &fakeSweeper{items: []network.Item{
		{AccountID: "a", Outcome: network.OutcomeRepaired},
		{AccountID: "b", Outcome: network.OutcomeRepaired},
		{AccountID: "c", Outcome: network.OutcomeError},
	}}
	jobs := NewJobs(sw, zap.New(core), time.Second)

	rep, err := jobs.Run(context.Background(), network.SweepUpgrades)
	require.NoError(t, err)
	assert.Len(t, rep.Items, 3)

	entries := logs.FilterMessage("sweep finished").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "upgrades", fields["sweep"])
	assert.EqualValues(t, 2, fields["repaired"])
	assert.EqualValues(t, 1, fields["error"])
}

func TestJobsRunReportsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sw := &fakeSweeper{err: errors.New("store unavailable")}
	jobs := NewJobs(sw, zap.New(core), 0)

	_, err := jobs.Run(context.Background(), network.SweepDormant)
	require.Error(t, err)
	assert.Equal(t, 1, logs.FilterMessage("sweep failed").Len())
}

func TestSchedulerRunsRegisteredSweeps(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sw := &fakeSweeper{}
	logger := zap.New(core)
	s := NewScheduler(NewJobs(sw, logger, 0), logger, map[network.SweepKind]string{
		network.SweepStalePayments: "@every 1s",
		network.SweepQuota:         "not a schedule",
	})
	s.Start()
	assert.Equal(t, 1, s.Entries())
	assert.Equal(t, 1, logs.FilterMessage("failed to schedule sweep").Len())

	require.Eventually(t, func() bool {
		return sw.count(network.SweepStalePayments) > 0
	}, 4*time.Second, 20*time.Millisecond)

	select {
	case <-s.Stop().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Zero(t, sw.count(network.SweepQuota))
}
