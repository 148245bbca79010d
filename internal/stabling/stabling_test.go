package stabling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kmrl/induction/pkg/domain"
)

func atHour(h int) time.Time {
	return time.Date(2026, 7, 29, h, 0, 0, 0, time.UTC)
}

func TestDeparturePriority(t *testing.T) {
	t.Run("priority steps down by departure hour and subtracts for cleaning/inspection", func(t *testing.T) {
		assert.Equal(t, 10, DeparturePriority(domain.Trainset{NextDeparture: atHour(5)}))
		assert.Equal(t, 9, DeparturePriority(domain.Trainset{NextDeparture: atHour(6)}))
		assert.Equal(t, 8, DeparturePriority(domain.Trainset{NextDeparture: atHour(7)}))
		assert.Equal(t, 5, DeparturePriority(domain.Trainset{NextDeparture: atHour(11)}))
		assert.Equal(t, 8, DeparturePriority(domain.Trainset{NextDeparture: atHour(5), NeedsCleaning: true}))
		assert.Equal(t, 7, DeparturePriority(domain.Trainset{NextDeparture: atHour(5), NeedsInspection: true}))
	})
}

func swapTrack(positions int) []domain.Bay {
	bays := make([]domain.Bay, positions)
	for i := 0; i < positions; i++ {
		bays[i] = domain.Bay{ID: "T1-" + string(rune('1'+i)), TrackID: "T1", Position: i + 1, Type: domain.BayStabling}
	}
	return bays
}

func TestPlaceBaysFillsHighestPriorityNearestExit(t *testing.T) {
	t.Run("highest priority trainset is placed nearest the exit", func(t *testing.T) {
		bays := swapTrack(2)
		trainsets := map[string]domain.Trainset{
			"A": {ID: "A", NextDeparture: atHour(11)}, // priority 5
			"B": {ID: "B", NextDeparture: atHour(5)},  // priority 10
		}
		decisions := map[string]*domain.Decision{
			"A": {TrainsetID: "A", Label: domain.LabelInService},
			"B": {TrainsetID: "B", Label: domain.LabelInService},
		}

		placements := PlaceBays(trainsets, decisions, bays)
		byTrainset := map[string]Placement{}
		for _, p := range placements {
			byTrainset[p.TrainsetID] = p
		}

		assert.Equal(t, "T1-1", byTrainset["B"].ToBay)
		assert.Equal(t, "T1-2", byTrainset["A"].ToBay)
	})
}

func TestPlanMovesClassifiesDirectPullPushTriangle(t *testing.T) {
	t.Run("classifies move type by blocker count", func(t *testing.T) {
		bays := []domain.Bay{
			{ID: "T1-1", TrackID: "T1", Position: 1, TrackOffset: 0, OccupiedBy: "X"},
			{ID: "T1-2", TrackID: "T1", Position: 2, TrackOffset: 50},
			{ID: "T1-3", TrackID: "T1", Position: 3, TrackOffset: 100},
		}
		placements := []Placement{
			{TrainsetID: "X", FromBay: "T1-1", ToBay: "T1-3"},
		}
		moves := PlanMoves(placements, bays)
		if assert.Len(t, moves, 1) {
			assert.Equal(t, domain.MoveDirect, moves[0].Type)
		}
	})

	t.Run("a single blocker in front produces a PULL_PUSH move", func(t *testing.T) {
		bays := []domain.Bay{
			{ID: "T1-1", TrackID: "T1", Position: 1, TrackOffset: 0, OccupiedBy: "blocker"},
			{ID: "T1-2", TrackID: "T1", Position: 2, TrackOffset: 50, OccupiedBy: "X"},
			{ID: "T1-3", TrackID: "T1", Position: 3, TrackOffset: 100},
		}
		placements := []Placement{
			{TrainsetID: "X", FromBay: "T1-2", ToBay: "T1-3"},
		}
		moves := PlanMoves(placements, bays)
		if assert.Len(t, moves, 1) {
			assert.Equal(t, domain.MovePullPush, moves[0].Type)
			assert.Equal(t, []string{"blocker"}, moves[0].BlockedBy)
		}
	})
}

func TestSequenceGroupsIntoWavesRespectingDependencies(t *testing.T) {
	t.Run("a move waits for its blocker to clear in an earlier wave", func(t *testing.T) {
		moves := []domain.ShuntingMove{
			{TrainsetID: "A", BlockedBy: []string{"B"}},
			{TrainsetID: "B"},
			{TrainsetID: "C"},
		}
		priority := map[string]int{"A": 10, "B": 8, "C": 5}

		waves := Sequence(moves, priority, 2)
		require := assert.New(t)
		require.GreaterOrEqual(len(waves), 2)

		firstWaveIDs := idsOf(waves[0])
		require.NotContains(firstWaveIDs, "A")
		require.Contains(firstWaveIDs, "B")
	})

	t.Run("caps each wave at maxSimultaneousMoves", func(t *testing.T) {
		moves := []domain.ShuntingMove{{TrainsetID: "A"}, {TrainsetID: "B"}, {TrainsetID: "C"}}
		priority := map[string]int{"A": 1, "B": 2, "C": 3}
		waves := Sequence(moves, priority, 2)
		assert.LessOrEqual(t, len(waves[0]), 2)
	})

	t.Run("breaks a cyclic dependency by forcing the lowest priority move", func(t *testing.T) {
		moves := []domain.ShuntingMove{
			{TrainsetID: "A", BlockedBy: []string{"B"}},
			{TrainsetID: "B", BlockedBy: []string{"A"}},
		}
		priority := map[string]int{"A": 9, "B": 3}
		waves := Sequence(moves, priority, 2)
		assert.NotEmpty(t, waves)
		// the cycle must still fully resolve
		total := 0
		for _, w := range waves {
			total += len(w)
		}
		assert.Equal(t, 2, total)
	})
}

func idsOf(moves []domain.ShuntingMove) []string {
	var ids []string
	for _, m := range moves {
		ids = append(ids, m.TrainsetID)
	}
	return ids
}

func TestRunAdvancesPlacementState(t *testing.T) {
	t.Run("a trainset needing no move is PLACED; one needing a move is MOVE_PENDING", func(t *testing.T) {
		bays := []domain.Bay{
			{ID: "T1-1", TrackID: "T1", Position: 1, Type: domain.BayStabling, OccupiedBy: "A"},
			{ID: "T1-2", TrackID: "T1", Position: 2, Type: domain.BayStabling},
			{ID: "T1-3", TrackID: "T1", Position: 3, Type: domain.BayStabling, OccupiedBy: "B"},
		}
		trainsets := map[string]domain.Trainset{
			"A": {ID: "A", CurrentBay: "T1-1", NextDeparture: atHour(5)},
			"B": {ID: "B", CurrentBay: "T1-3", NextDeparture: atHour(11)},
		}
		decisions := map[string]*domain.Decision{
			"A": {TrainsetID: "A", Label: domain.LabelInService},
			"B": {TrainsetID: "B", Label: domain.LabelInService},
		}

		result := Run(context.Background(), trainsets, decisions, bays, 2, nil)
		assert.Equal(t, domain.PlacementPlaced, result.Decisions["A"].PlacementState)
		assert.Equal(t, domain.PlacementMovePending, result.Decisions["B"].PlacementState)
	})
}
