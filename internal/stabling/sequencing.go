package stabling

import (
	"sort"

	"github.com/kmrl/induction/pkg/domain"
)

// Sequence groups moves into waves of at most maxSimultaneousMoves,
// respecting BlockedBy dependencies. A move is ready once every
// trainset in its BlockedBy list has completed in an earlier wave (or
// isn't part of this move set at all). When no move is ready — a
// cycle — the lowest-priority pending move is forced into the wave to
// break the deadlock, per §4.6.
func Sequence(moves []domain.ShuntingMove, priority map[string]int, maxSimultaneousMoves int) [][]domain.ShuntingMove {
	if maxSimultaneousMoves <= 0 {
		maxSimultaneousMoves = 1
	}

	pending := append([]domain.ShuntingMove(nil), moves...)
	sort.Slice(pending, func(i, j int) bool { return pending[i].TrainsetID < pending[j].TrainsetID })

	moveSet := make(map[string]bool, len(pending))
	for _, m := range pending {
		moveSet[m.TrainsetID] = true
	}

	done := make(map[string]bool, len(pending))
	var waves [][]domain.ShuntingMove

	for len(pending) > 0 {
		var ready []domain.ShuntingMove
		var notReady []domain.ShuntingMove

		for _, m := range pending {
			if isReady(m, done, moveSet) {
				ready = append(ready, m)
			} else {
				notReady = append(notReady, m)
			}
		}

		if len(ready) == 0 {
			// Deadlock: force the lowest-priority pending move.
			forced := lowestPriority(pending, priority)
			ready = append(ready, forced)
			notReady = removeMove(pending, forced.TrainsetID)
		}

		sort.Slice(ready, func(i, j int) bool {
			pi, pj := priority[ready[i].TrainsetID], priority[ready[j].TrainsetID]
			if pi != pj {
				return pi > pj
			}
			return ready[i].TrainsetID < ready[j].TrainsetID
		})

		var wave []domain.ShuntingMove
		waveNum := len(waves) + 1
		for i := 0; i < len(ready) && i < maxSimultaneousMoves; i++ {
			m := ready[i]
			m.Wave = waveNum
			wave = append(wave, m)
			done[m.TrainsetID] = true
		}
		waves = append(waves, wave)

		// Anything in ready beyond the wave cap goes back to pending
		// for the next wave, alongside everything not yet ready.
		var next []domain.ShuntingMove
		next = append(next, ready[min(len(ready), maxSimultaneousMoves):]...)
		next = append(next, notReady...)
		pending = next
	}

	return waves
}

func isReady(m domain.ShuntingMove, done map[string]bool, moveSet map[string]bool) bool {
	for _, blocker := range m.BlockedBy {
		if moveSet[blocker] && !done[blocker] {
			return false
		}
	}
	return true
}

func lowestPriority(moves []domain.ShuntingMove, priority map[string]int) domain.ShuntingMove {
	best := moves[0]
	for _, m := range moves[1:] {
		if priority[m.TrainsetID] < priority[best.TrainsetID] {
			best = m
		}
	}
	return best
}

func removeMove(moves []domain.ShuntingMove, trainsetID string) []domain.ShuntingMove {
	var out []domain.ShuntingMove
	for _, m := range moves {
		if m.TrainsetID != trainsetID {
			out = append(out, m)
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
