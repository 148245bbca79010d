package scenario

import (
	"sync"
	"time"

	"github.com/kmrl/induction/pkg/domain"
)

// FeedbackEntry records what the ensemble proposed against what the
// operator actually did, plus any outcome metrics captured later. No
// live solver weight is mutated by committing one of these; per §4.9
// the log exists for later offline re-tuning only.
type FeedbackEntry struct {
	CommittedAt    time.Time
	AI             *domain.InductionPlan
	Actual         map[string]*domain.Decision
	OutcomeMetrics map[string]float64
}

// FeedbackLog is an append-only record of AI-vs-actual outcomes.
type FeedbackLog struct {
	mu      sync.RWMutex
	entries []FeedbackEntry
}

// NewFeedbackLog constructs an empty log.
func NewFeedbackLog() *FeedbackLog {
	return &FeedbackLog{}
}

// Commit appends a feedback entry. It never mutates or removes prior
// entries.
func (l *FeedbackLog) Commit(entry FeedbackEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of every committed entry, oldest first. Each
// entry's OutcomeMetrics map is copied, so mutating it cannot change the
// log; AI and Actual still refer to the committed plan and decisions.
func (l *FeedbackLog) Entries() []FeedbackEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]FeedbackEntry, len(l.entries))
	for i, e := range l.entries {
		cp := e
		cp.OutcomeMetrics = make(map[string]float64, len(e.OutcomeMetrics))
		for k, v := range e.OutcomeMetrics {
			cp.OutcomeMetrics[k] = v
		}
		out[i] = cp
	}
	return out
}

// Len reports the number of committed entries.
func (l *FeedbackLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
