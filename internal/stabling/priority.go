// Package stabling implements the Stabling Geometry Optimizer (C6):
// departure-priority assignment, bay placement, shunting-move
// planning, and wave sequencing. Grounded on the teacher's
// internal/matching package for its ordered, dependency-aware
// sequencing of competing units over a shared resource.
package stabling

import (
	"github.com/kmrl/induction/pkg/domain"
)

// DeparturePriority assigns the §4.6 priority: 10 down to 5 by the
// hour of next departure, minus 2 for cleaning and 3 for inspection.
func DeparturePriority(ts domain.Trainset) int {
	hour := ts.NextDeparture.Hour()
	p := 5
	switch {
	case hour < 6:
		p = 10
	case hour < 7:
		p = 9
	case hour < 8:
		p = 8
	case hour < 9:
		p = 7
	case hour < 10:
		p = 6
	default:
		p = 5
	}
	if ts.NeedsCleaning {
		p -= 2
	}
	if ts.NeedsInspection {
		p -= 3
	}
	return p
}
