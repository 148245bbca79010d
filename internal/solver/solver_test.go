package solver

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmrl/induction/internal/scoring"
	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/domain"
)

func fleetOf(n int) store.FleetSnapshot {
	trainsets := make(map[string]domain.Trainset, n)
	for i := 0; i < n; i++ {
		id := string(rune('A' + i))
		trainsets[id] = domain.Trainset{
			ID: id, OperationalClearance: true, FitnessScore: 80, MileageKM: int64(1000 * (i + 1)),
		}
	}
	return store.FleetSnapshot{Trainsets: trainsets, TakenAt: time.Now()}
}

func defaultParams() Params {
	return Params{
		Population: 20, Generations: 5, CrossoverRate: 0.7, MutationRate: 0.1,
		SAInitialTemp: 100, SACooling: 0.9, SAMinTemp: 1, Mode: "ensemble",
	}
}

func TestRunEmptyFleetReturnsEmptyResult(t *testing.T) {
	t.Run("zero trainsets yields an empty label map", func(t *testing.T) {
		snap := store.FleetSnapshot{Trainsets: map[string]domain.Trainset{}}
		labels, scores, err := Run(context.Background(), snap, scoring.Coefficients{}, Bounds{MinService: 0, MaxMaintenance: 0}, defaultParams(), rand.New(rand.NewSource(1)))
		require.NoError(t, err)
		assert.Empty(t, labels)
		assert.Empty(t, scores)
	})
}

func TestRunProducesOneLabelPerTrainset(t *testing.T) {
	t.Run("ensemble mode labels every trainset", func(t *testing.T) {
		snap := fleetOf(6)
		coeffs := scoring.Compute(snap, nil)
		labels, _, err := Run(context.Background(), snap, coeffs, Bounds{MinService: 2, MaxMaintenance: 3}, defaultParams(), rand.New(rand.NewSource(42)))
		require.NoError(t, err)
		assert.Len(t, labels, 6)
		for _, l := range labels {
			assert.Contains(t, []domain.DecisionLabel{
				domain.LabelInService, domain.LabelStandby, domain.LabelMaintenance, domain.LabelEmergencyRepair,
			}, l)
		}
	})
}

func TestRunFastModeUsesSingleSAPass(t *testing.T) {
	t.Run("fast mode still labels every trainset", func(t *testing.T) {
		snap := fleetOf(4)
		coeffs := scoring.Compute(snap, nil)
		params := defaultParams()
		params.Mode = "fast"
		labels, _, err := Run(context.Background(), snap, coeffs, Bounds{MinService: 1, MaxMaintenance: 2}, params, rand.New(rand.NewSource(7)))
		require.NoError(t, err)
		assert.Len(t, labels, 4)
	})
}

func TestRunRespectsCancellation(t *testing.T) {
	t.Run("a cancelled context returns promptly with the context error from the fast path", func(t *testing.T) {
		snap := fleetOf(4)
		coeffs := scoring.Compute(snap, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		params := defaultParams()
		params.Mode = "fast"
		_, _, err := Run(ctx, snap, coeffs, Bounds{MinService: 1, MaxMaintenance: 2}, params, rand.New(rand.NewSource(3)))
		assert.Error(t, err)
	})
}

func TestRunLPRespectsEmergencyLabel(t *testing.T) {
	t.Run("a trainset with an emergency job is always labeled EMERGENCY_REPAIR", func(t *testing.T) {
		snap := fleetOf(3)
		ts := snap.Trainsets["A"]
		ts.OpenJobs = []domain.JobCard{{Priority: domain.PriorityEmergency}}
		snap.Trainsets["A"] = ts

		coeffs := scoring.Compute(snap, nil)
		result := runLP(context.Background(), sortedIDsForTest(snap), snap, coeffs, Bounds{MinService: 1, MaxMaintenance: 2})
		assert.Equal(t, domain.LabelEmergencyRepair, result.Labels["A"])
	})
}

func sortedIDsForTest(snap store.FleetSnapshot) []string {
	return sortedIDs(snap.Trainsets)
}
