package escalation

import (
	"sync"

	"github.com/steveyegge/qgate/internal/types"
)

// DefaultWindowSize is the number of check outcomes kept in the rolling window
const DefaultWindowSize = 100

// RollingWindow holds the most recent check outcomes, oldest first.
// Appending beyond the bound evicts the oldest record.
type RollingWindow struct {
	mu      sync.Mutex
	size    int
	records []types.CheckOutcome
}

// NewRollingWindow creates a window bounded to size records
func NewRollingWindow(size int) *RollingWindow {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &RollingWindow{size: size, records: make([]types.CheckOutcome, 0, size)}
}

// Append adds an outcome, evicting the oldest once the bound is exceeded
func (w *RollingWindow) Append(o types.CheckOutcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, o)
	if over := len(w.records) - w.size; over > 0 {
		w.records = append(w.records[:0], w.records[over:]...)
	}
}

// Len returns the number of records held
func (w *RollingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

// RollingEscalationRate is escalated / total over the window; 0 when empty
func (w *RollingWindow) RollingEscalationRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.records) == 0 {
		return 0
	}
	escalated := 0
	for _, r := range w.records {
		if r.WasEscalated {
			escalated++
		}
	}
	return float64(escalated) / float64(len(w.records))
}

// MeanErrorCount is the average number of errors per check; 0 when empty
func (w *RollingWindow) MeanErrorCount() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.records) == 0 {
		return 0
	}
	total := 0
	for _, r := range w.records {
		total += r.ErrorCount
	}
	return float64(total) / float64(len(w.records))
}

// Records returns a copy of the window, oldest first
func (w *RollingWindow) Records() []types.CheckOutcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]types.CheckOutcome, len(w.records))
	copy(out, w.records)
	return out
}

// Replace swaps the window contents (used when restoring persisted state).
// Only the newest records that fit the bound are kept.
func (w *RollingWindow) Replace(records []types.CheckOutcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(records) > w.size {
		records = records[len(records)-w.size:]
	}
	w.records = append(w.records[:0], records...)
}
