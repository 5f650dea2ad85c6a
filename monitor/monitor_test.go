package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/hatchery/engine"
	"github.com/projecteru2/hatchery/types"
)

func TestCPUPercent(t *testing.T) {
	t.Run("scales by online CPUs", func(t *testing.T) {
		pre := engine.CPUCounters{Total: 1000, System: 10000}
		cpu := engine.CPUCounters{Total: 1200, System: 11000, OnlineCPUs: 4}
		// Δtotal 200 / Δsystem 1000 × 4 CPUs × 100 = 80%.
		assert.InDelta(t, 80.0, CPUPercent(cpu, pre), 0.001)
	})

	t.Run("non-positive total delta clamps to zero", func(t *testing.T) {
		pre := engine.CPUCounters{Total: 1200, System: 10000}
		cpu := engine.CPUCounters{Total: 1200, System: 11000, OnlineCPUs: 4}
		assert.Zero(t, CPUPercent(cpu, pre))
	})

	t.Run("non-positive system delta clamps to zero", func(t *testing.T) {
		pre := engine.CPUCounters{Total: 1000, System: 11000}
		cpu := engine.CPUCounters{Total: 1200, System: 11000, OnlineCPUs: 4}
		assert.Zero(t, CPUPercent(cpu, pre))
	})

	t.Run("first sample with zero pre counters", func(t *testing.T) {
		cpu := engine.CPUCounters{Total: 1200, System: 11000, OnlineCPUs: 4}
		// Zero pre counters look like a huge jump; the result is still finite
		// and non-negative.
		got := CPUPercent(cpu, engine.CPUCounters{})
		assert.GreaterOrEqual(t, got, 0.0)
	})

	t.Run("falls back to previous online count", func(t *testing.T) {
		pre := engine.CPUCounters{Total: 1000, System: 10000, OnlineCPUs: 4}
		cpu := engine.CPUCounters{Total: 1200, System: 11000}
		assert.InDelta(t, 80.0, CPUPercent(cpu, pre), 0.001)
	})

	t.Run("falls back to per-cpu sample count on cgroup v1", func(t *testing.T) {
		// Cgroup v1 daemons report no online count in either reading.
		pre := engine.CPUCounters{Total: 1000, System: 10000}
		cpu := engine.CPUCounters{Total: 1200, System: 11000, PercpuSamples: 2}
		assert.InDelta(t, 40.0, CPUPercent(cpu, pre), 0.001)
	})
}

func TestDerive(t *testing.T) {
	raw := engine.RawStats{
		CPU:      engine.CPUCounters{Total: 1200, System: 11000, OnlineCPUs: 2},
		PreCPU:   engine.CPUCounters{Total: 1000, System: 10000},
		MemUsage: 512,
		MemLimit: 1024,
		Networks: map[string]engine.NetCounters{
			"eth0": {RxBytes: 100, TxBytes: 200},
			"lo":   {RxBytes: 999, TxBytes: 999},
		},
	}

	snap := Derive(raw)
	assert.Equal(t, types.StateRunning, snap.State)
	require.NotNil(t, snap.CPUPercent)
	assert.InDelta(t, 40.0, *snap.CPUPercent, 0.001)
	require.NotNil(t, snap.Memory)
	assert.Equal(t, uint64(512), snap.Memory.Used)
	assert.InDelta(t, 50.0, snap.Memory.Percent, 0.001)
	require.NotNil(t, snap.Network)
	assert.Equal(t, uint64(100), snap.Network.RxBytes)
	assert.Equal(t, uint64(200), snap.Network.TxBytes)
}

func TestDeriveMissingPrimaryInterface(t *testing.T) {
	snap := Derive(engine.RawStats{MemLimit: 1})
	require.NotNil(t, snap.Network)
	assert.Zero(t, snap.Network.RxBytes)
	assert.Zero(t, snap.Network.TxBytes)
}

// fakeEngine serves canned inspect/stats responses for Run tests.
type fakeEngine struct {
	engine.Engine

	mu      sync.Mutex
	running bool
	stats   engine.RawStats
}

func (f *fakeEngine) Inspect(_ context.Context, id string) (engine.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return engine.Status{ID: id, Running: f.running}, nil
}

func (f *fakeEngine) Stats(context.Context, string) (engine.RawStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, nil
}

func TestRun(t *testing.T) {
	t.Run("stopped container emits state only", func(t *testing.T) {
		eng := &fakeEngine{running: false}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		snaps := make(chan types.StatsSnapshot, 1)
		go Run(ctx, eng, "c1", func(s types.StatsSnapshot) {
			select {
			case snaps <- s:
			default:
			}
		})

		select {
		case snap := <-snaps:
			assert.Equal(t, types.StateStopped, snap.State)
			assert.Nil(t, snap.CPUPercent)
			assert.Nil(t, snap.Memory)
		case <-time.After(2 * Interval):
			t.Fatal("no snapshot emitted")
		}
	})

	t.Run("cancellation stops emissions", func(t *testing.T) {
		eng := &fakeEngine{running: true}
		ctx, cancel := context.WithCancel(context.Background())

		var mu sync.Mutex
		count := 0
		done := make(chan struct{})
		go func() {
			Run(ctx, eng, "c1", func(types.StatsSnapshot) {
				mu.Lock()
				count++
				mu.Unlock()
			})
			close(done)
		}()

		cancel()
		select {
		case <-done:
		case <-time.After(2 * Interval):
			t.Fatal("Run did not return after cancel")
		}

		mu.Lock()
		final := count
		mu.Unlock()
		time.Sleep(Interval + Interval/2)
		mu.Lock()
		assert.Equal(t, final, count)
		mu.Unlock()
	})
}
