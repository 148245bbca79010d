package stabling

import (
	"math"
	"sort"

	"github.com/kmrl/induction/pkg/domain"
)

const (
	safetyCheckMinutes   = 1.0
	moveTimePer100m      = 2.0
	couplingMinutes      = 3.0
	uncouplingMinutes    = 2.0
	baseEnergyKWh        = 15.0
	energyPer100m        = 5.0
	positionOffsetMeters = 50.0
)

// bayIndex looks bays up by ID for distance/blocker computation.
type bayIndex map[string]domain.Bay

func newBayIndex(bays []domain.Bay) bayIndex {
	idx := make(bayIndex, len(bays))
	for _, b := range bays {
		idx[b.ID] = b
	}
	return idx
}

// distance implements §4.6's distance formula.
func distance(from, to domain.Bay) float64 {
	return math.Abs(to.TrackOffset-from.TrackOffset) + math.Abs(float64(to.Position-from.Position))*positionOffsetMeters
}

// blockersBetween returns the IDs of trainsets occupying bays on the
// same track strictly between `from` (exclusive) and the switch (the
// exit, i.e. position 1), excluding `from` itself.
func blockersBetween(idx bayIndex, from domain.Bay) []string {
	var blockers []string
	for _, b := range idx {
		if b.TrackID != from.TrackID {
			continue
		}
		if b.Position < from.Position && b.Position >= 1 && b.OccupiedBy != "" && b.ID != from.ID {
			blockers = append(blockers, b.OccupiedBy)
		}
	}
	sort.Strings(blockers)
	return blockers
}

// toBayBlocked reports whether the target bay is currently occupied
// by a different trainset.
func toBayBlocked(to domain.Bay, trainsetID string) bool {
	return to.OccupiedBy != "" && to.OccupiedBy != trainsetID
}

// PlanMoves converts placements into ShuntingMoves per §4.6's move
// classification and time/energy formulas. idx reflects bay occupancy
// as of the start of the cycle; moves are planned against that frozen
// state, matching the spec's non-live sequencing model.
func PlanMoves(placements []Placement, bays []domain.Bay) []domain.ShuntingMove {
	idx := newBayIndex(bays)

	var moves []domain.ShuntingMove
	for _, p := range placements {
		if p.FromBay == p.ToBay || p.FromBay == "" {
			continue
		}
		from, fromOK := idx[p.FromBay]
		to, toOK := idx[p.ToBay]
		if !fromOK || !toOK {
			continue
		}

		blockers := blockersBetween(idx, from)
		blocked := toBayBlocked(to, p.TrainsetID)

		var moveType domain.MoveType
		switch {
		case len(blockers) == 0 && !blocked:
			moveType = domain.MoveDirect
		case len(blockers) == 1 && !blocked, len(blockers) == 0 && blocked:
			moveType = domain.MovePullPush
		default:
			moveType = domain.MoveTriangle
		}

		d := distance(from, to)
		t, e := estimate(moveType, d)

		moves = append(moves, domain.ShuntingMove{
			TrainsetID:       p.TrainsetID,
			From:             p.FromBay,
			To:               p.ToBay,
			Type:             moveType,
			EstimatedMinutes: t,
			KWh:              e,
			BlockedBy:        blockers,
		})
	}

	sort.Slice(moves, func(i, j int) bool { return moves[i].TrainsetID < moves[j].TrainsetID })
	return moves
}

func estimate(moveType domain.MoveType, dist float64) (minutes, kwh float64) {
	baseTime := safetyCheckMinutes + moveTimePer100m*dist/100
	energy := baseEnergyKWh + (dist/100)*energyPer100m

	switch moveType {
	case domain.MovePullPush:
		baseTime += couplingMinutes + uncouplingMinutes
		energy *= 1.5
	case domain.MoveTriangle:
		baseTime += 2 * (couplingMinutes + uncouplingMinutes)
		energy *= 2
	}

	return baseTime, energy
}
