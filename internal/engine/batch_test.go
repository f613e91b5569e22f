package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mj1618/smartscript/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBatch_BoundsConcurrency(t *testing.T) {
	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		mu       sync.Mutex
	)
	track := func(platform.Action) {
		n := inFlight.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		inFlight.Add(-1)
	}

	var jobs []BatchJob
	devices := make([]*fakeDevice, 5)
	for i := range devices {
		devices[i] = &fakeDevice{onPerform: track}
		jobs = append(jobs, BatchJob{
			Name:     string(rune('a' + i)),
			Executor: newExecutor(t, devices[i], nil, testConfig()),
			Program:  mustParse(t, tapStep("t1", 1, 1), tapStep("t2", 2, 2)),
		})
	}

	results := RunBatch(context.Background(), jobs, 2)

	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, jobs[i].Name, r.Name)
		require.NotNil(t, r.Result)
		assert.Equal(t, StateCompleted, r.Result.State)
		assert.Equal(t, 1, devices[i].tapsAt(1, 1))
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	// Runs never share state.
	assert.NotEqual(t, results[0].Result.RunID, results[1].Result.RunID)
}

func TestRunBatch_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dev := &fakeDevice{}
	jobs := []BatchJob{{Name: "x", Executor: newExecutor(t, dev, nil, testConfig()), Program: mustParse(t, tapStep("a", 1, 1))}}

	results := RunBatch(ctx, jobs, 1)

	require.Len(t, results, 1)
	assert.Equal(t, StateCancelled, results[0].Result.State)
	assert.Equal(t, 0, dev.tapsAt(1, 1))
}

func TestRunBatch_Empty(t *testing.T) {
	assert.Empty(t, RunBatch(context.Background(), nil, 3))
}
