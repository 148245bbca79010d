package cycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmrl/induction/internal/config"
	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/planstore"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.SolverMode = "fast"
	cfg.SolverGenerations = 2
	cfg.SolverPopulation = 5
	cfg.MinService = 1
	cfg.MaxMaintenance = 2
	cfg.CycleTimeout = 5 * time.Second
	return cfg
}

func seedStore(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		_, err := st.Apply(ctx, store.Delta{TrainsetID: id, Field: "operational_clearance", Value: true}, store.SourceMeta{SourceID: "test", Priority: 1, Timestamp: time.Now()})
		require.NoError(t, err)
		_, err = st.Apply(ctx, store.Delta{TrainsetID: id, Field: "fitness_score", Value: 80.0}, store.SourceMeta{SourceID: "test", Priority: 1, Timestamp: time.Now()})
		require.NoError(t, err)
	}
}

func TestRunNightlyInductionProducesPlan(t *testing.T) {
	t.Run("a nightly cycle snapshots the store and returns a persisted plan", func(t *testing.T) {
		st := store.New(nil, nil, 5*time.Second, 10)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go st.Run(ctx)
		seedStore(t, st)

		sink := planstore.NewMemory()
		ctrl, err := New(st, testConfig(), nil, sink, nil, nil)
		require.NoError(t, err)

		plan, err := ctrl.RunNightlyInduction(context.Background(), "depot-1", 1)
		require.NoError(t, err)
		assert.Len(t, plan.Decisions, 3)

		current, err := ctrl.GetCurrentPlan("depot-1")
		require.NoError(t, err)
		assert.Equal(t, plan.ID, current.ID)

		saved, err := sink.GetPlan(context.Background(), "depot-1")
		require.NoError(t, err)
		assert.Equal(t, plan.ID, saved.ID)
	})
}

func TestRunNightlyInductionRejectsConcurrentCycle(t *testing.T) {
	t.Run("a second nightly cycle cannot start while one holds the lease", func(t *testing.T) {
		st := store.New(nil, nil, 5*time.Second, 10)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go st.Run(ctx)
		seedStore(t, st)

		sink := planstore.NewMemory()
		ctrl, err := New(st, testConfig(), nil, sink, nil, nil)
		require.NoError(t, err)

		release, err := ctrl.lease.Acquire(context.Background())
		require.NoError(t, err)
		defer release()

		_, err = ctrl.RunNightlyInduction(context.Background(), "depot-1", 1)
		assert.ErrorIs(t, err, ErrCycleInFlight)
	})
}

func TestGetCurrentPlanNotFoundBeforeAnyCycle(t *testing.T) {
	t.Run("no plan exists before the first cycle runs", func(t *testing.T) {
		st := store.New(nil, nil, 5*time.Second, 10)
		sink := planstore.NewMemory()
		ctrl, err := New(st, testConfig(), nil, sink, nil, nil)
		require.NoError(t, err)

		_, err = ctrl.GetCurrentPlan("depot-1")
		assert.Error(t, err)
	})
}
