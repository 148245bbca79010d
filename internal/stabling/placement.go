package stabling

import (
	"sort"

	"github.com/kmrl/induction/pkg/domain"
)

// Placement maps a trainset to its assigned bay for the coming cycle.
type Placement struct {
	TrainsetID string
	FromBay    string
	ToBay      string
}

// PlaceBays assigns each decided trainset to a bay per §4.6: bays are
// sorted (track asc, position asc); trainsets needing
// inspection/cleaning fill the matching special bays in priority
// order, the remaining active trainsets fill stabling bays in
// priority order with the highest priority nearest the exit.
func PlaceBays(trainsets map[string]domain.Trainset, decisions map[string]*domain.Decision, bays []domain.Bay) []Placement {
	sorted := append([]domain.Bay(nil), bays...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TrackID != sorted[j].TrackID {
			return sorted[i].TrackID < sorted[j].TrackID
		}
		return sorted[i].Position < sorted[j].Position
	})

	var inspectionBays, cleaningBays, stablingBays []domain.Bay
	for _, b := range sorted {
		switch b.Type {
		case domain.BayInspection:
			inspectionBays = append(inspectionBays, b)
		case domain.BayCleaning:
			cleaningBays = append(cleaningBays, b)
		case domain.BayStabling:
			stablingBays = append(stablingBays, b)
		}
	}

	active := activeTrainsetIDs(trainsets, decisions)

	var inspectionNeeded, cleaningNeeded, remaining []string
	for _, id := range active {
		ts := trainsets[id]
		switch {
		case ts.NeedsInspection:
			inspectionNeeded = append(inspectionNeeded, id)
		case ts.NeedsCleaning:
			cleaningNeeded = append(cleaningNeeded, id)
		default:
			remaining = append(remaining, id)
		}
	}

	byPriorityDesc := func(ids []string) {
		sort.Slice(ids, func(i, j int) bool {
			pi, pj := DeparturePriority(trainsets[ids[i]]), DeparturePriority(trainsets[ids[j]])
			if pi != pj {
				return pi > pj
			}
			return ids[i] < ids[j]
		})
	}
	byPriorityDesc(inspectionNeeded)
	byPriorityDesc(cleaningNeeded)
	byPriorityDesc(remaining)

	var placements []Placement
	placements = append(placements, assign(trainsets, inspectionNeeded, inspectionBays)...)
	placements = append(placements, assign(trainsets, cleaningNeeded, cleaningBays)...)
	placements = append(placements, assign(trainsets, remaining, stablingBays)...)

	return placements
}

func assign(trainsets map[string]domain.Trainset, ids []string, bays []domain.Bay) []Placement {
	var out []Placement
	for i, id := range ids {
		if i >= len(bays) {
			break
		}
		out = append(out, Placement{TrainsetID: id, FromBay: trainsets[id].CurrentBay, ToBay: bays[i].ID})
	}
	return out
}

// activeTrainsetIDs returns decided trainsets sorted by ID, excluding
// none — every decided trainset (IN_SERVICE, STANDBY, MAINTENANCE,
// EMERGENCY_REPAIR) still needs a physical bay overnight.
func activeTrainsetIDs(trainsets map[string]domain.Trainset, decisions map[string]*domain.Decision) []string {
	ids := make([]string, 0, len(decisions))
	for id := range decisions {
		if _, ok := trainsets[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
