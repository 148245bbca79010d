package scenario

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmrl/induction/internal/config"
	"github.com/kmrl/induction/internal/store"
	"github.com/kmrl/induction/pkg/domain"
)

func fleetSnapshot() store.FleetSnapshot {
	return store.FleetSnapshot{
		Trainsets: map[string]domain.Trainset{
			"A": {ID: "A", OperationalClearance: true, FitnessScore: 90, MileageKM: 1000},
			"B": {ID: "B", OperationalClearance: true, FitnessScore: 40, MileageKM: 5000},
		},
		TakenAt: time.Now(),
	}
}

func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.SolverMode = "fast"
	cfg.MinService = 1
	cfg.MaxMaintenance = 1
	return cfg
}

func TestSimulateAppliesPatchWithoutMutatingOriginal(t *testing.T) {
	t.Run("patched clearance changes the hypothetical plan, original snapshot is untouched", func(t *testing.T) {
		snap := fleetSnapshot()
		patch := []FieldPatch{{TrainsetID: "B", Field: "operational_clearance", Value: false}}

		plan, err := Simulate(context.Background(), snap, fastConfig(), "depot-1", patch, rand.New(rand.NewSource(1)))
		require.NoError(t, err)
		assert.NotNil(t, plan)
		assert.Equal(t, -10.0, plan.Decisions["B"].Score, "a non-cleared trainset takes the hard demotion score")
		assert.True(t, snap.Trainsets["B"].OperationalClearance, "original snapshot must not be mutated")
	})
}

func TestSimulateRejectsUnknownTrainset(t *testing.T) {
	t.Run("a patch targeting an absent trainset is rejected", func(t *testing.T) {
		snap := fleetSnapshot()
		patch := []FieldPatch{{TrainsetID: "Z", Field: "fitness_score", Value: 50.0}}

		_, err := Simulate(context.Background(), snap, fastConfig(), "depot-1", patch, rand.New(rand.NewSource(1)))
		assert.Error(t, err)
		var invalid *ErrInvalidPatch
		assert.ErrorAs(t, err, &invalid)
	})
}

func TestSimulateRejectsUnknownField(t *testing.T) {
	t.Run("a patch targeting an unrecognized field is rejected", func(t *testing.T) {
		snap := fleetSnapshot()
		patch := []FieldPatch{{TrainsetID: "A", Field: "not_a_real_field", Value: 1}}

		_, err := Simulate(context.Background(), snap, fastConfig(), "depot-1", patch, rand.New(rand.NewSource(1)))
		assert.Error(t, err)
	})
}

func TestFeedbackLogIsAppendOnly(t *testing.T) {
	t.Run("committed entries accumulate and are never mutated in place", func(t *testing.T) {
		log := NewFeedbackLog()
		log.Commit(FeedbackEntry{CommittedAt: time.Now(), OutcomeMetrics: map[string]float64{"onTimePct": 0.97}})
		log.Commit(FeedbackEntry{CommittedAt: time.Now(), OutcomeMetrics: map[string]float64{"onTimePct": 0.91}})

		assert.Equal(t, 2, log.Len())
		entries := log.Entries()
		entries[0].OutcomeMetrics["onTimePct"] = 0 // mutate the copy
		assert.Equal(t, 0.97, log.Entries()[0].OutcomeMetrics["onTimePct"])
	})
}
