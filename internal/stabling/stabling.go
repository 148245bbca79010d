package stabling

import (
	"context"

	"github.com/kmrl/induction/pkg/domain"
)

// Result is C6's output: the updated decisions (bay, moves, placement
// state) and the wave-sequenced move plan.
type Result struct {
	Decisions map[string]*domain.Decision
	Waves     [][]domain.ShuntingMove
}

// Run executes the full C6 pipeline: priority assignment, bay
// placement, move planning, and wave sequencing, then advances each
// touched Decision's placement state machine to MOVE_PENDING (or
// PLACED if no move is required). leaseCache may be nil, in which case
// bay occupancy is taken solely from C1's view (bays' OccupiedBy); when
// non-nil, it overrides C1's view with any fresher lease recorded by a
// prior run in the same cycle window, and records this run's own
// assignments back into the cache.
func Run(ctx context.Context, trainsets map[string]domain.Trainset, decisions map[string]*domain.Decision, bays []domain.Bay, maxSimultaneousMoves int, leaseCache *BayLeaseCache) Result {
	priority := make(map[string]int, len(trainsets))
	for id, ts := range trainsets {
		priority[id] = DeparturePriority(ts)
	}

	bays = applyLeases(ctx, bays, leaseCache)

	placements := PlaceBays(trainsets, decisions, bays)
	moves := PlanMoves(placements, bays)
	waves := Sequence(moves, priority, maxSimultaneousMoves)

	recordLeases(ctx, placements, leaseCache)

	placementByTrainset := make(map[string]Placement, len(placements))
	for _, p := range placements {
		placementByTrainset[p.TrainsetID] = p
	}
	movesByTrainset := make(map[string]domain.ShuntingMove, len(moves))
	for _, m := range moves {
		movesByTrainset[m.TrainsetID] = m
	}

	for id, d := range decisions {
		d.Priority = priority[id]
		if p, ok := placementByTrainset[id]; ok {
			d.AssignedBay = p.ToBay
		}
		if m, ok := movesByTrainset[id]; ok {
			d.ShuntingMoves = []domain.ShuntingMove{m}
			d.PlacementState = domain.PlacementMovePending
		} else {
			d.PlacementState = domain.PlacementPlaced
		}
	}

	return Result{Decisions: decisions, Waves: waves}
}

// AdvanceMove transitions a Decision's placement state machine as a
// move executes: MOVE_PENDING -> MOVE_IN_PROGRESS -> MOVE_DONE, or
// BLOCKED if a dependency has not cleared, cycling back to
// MOVE_PENDING once it does.
func AdvanceMove(d *domain.Decision, blockerClear func(trainsetID string) bool) {
	switch d.PlacementState {
	case domain.PlacementMovePending:
		for _, m := range d.ShuntingMoves {
			for _, blocker := range m.BlockedBy {
				if !blockerClear(blocker) {
					d.PlacementState = domain.PlacementBlocked
					return
				}
			}
		}
		d.PlacementState = domain.PlacementMoveInProgress
	case domain.PlacementBlocked:
		for _, m := range d.ShuntingMoves {
			for _, blocker := range m.BlockedBy {
				if !blockerClear(blocker) {
					return
				}
			}
		}
		d.PlacementState = domain.PlacementMovePending
	case domain.PlacementMoveInProgress:
		d.PlacementState = domain.PlacementMoveDone
	}
}

// applyLeases overrides each bay's OccupiedBy with the cache's record
// when the cache knows of a lease C1 hasn't reflected yet, so a second
// stabling run within the same cycle window doesn't re-offer a bay
// this run already assigned. A nil cache or a cache miss leaves the
// bay as C1 reported it.
func applyLeases(ctx context.Context, bays []domain.Bay, leaseCache *BayLeaseCache) []domain.Bay {
	if leaseCache == nil {
		return bays
	}
	out := make([]domain.Bay, len(bays))
	for i, b := range bays {
		if holder, ok := leaseCache.Holder(ctx, b.ID); ok {
			b.OccupiedBy = holder
		}
		out[i] = b
	}
	return out
}

// recordLeases writes this run's placements back into the cache: the
// destination bay is leased to its new occupant, and the origin bay is
// released once its occupant has actually moved out.
func recordLeases(ctx context.Context, placements []Placement, leaseCache *BayLeaseCache) {
	if leaseCache == nil {
		return
	}
	for _, p := range placements {
		if p.ToBay != "" {
			leaseCache.Lease(ctx, p.ToBay, p.TrainsetID)
		}
		if p.FromBay != "" && p.FromBay != p.ToBay {
			leaseCache.Release(ctx, p.FromBay)
		}
	}
}
