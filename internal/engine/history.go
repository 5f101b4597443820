package engine

import (
	"sync"
	"time"

	"evocore/internal/ring"
)

// DefaultHistoryCapacity bounds the optimization history ring.
const DefaultHistoryCapacity = 100

// HistoryEntry records the outcome of one applied patch. ActualImprovement
// stays zero until measured; Reverted is flipped by the controller when the
// patch is rolled back. PatchID keeps the suggestion↔patch pairing stable so
// revert attribution cannot drift.
type HistoryEntry struct {
	Timestamp         time.Time `json:"timestamp"`
	SuggestionID      uint32    `json:"suggestion_id"`
	PatchID           uint64    `json:"patch_id"`
	ActualImprovement float64   `json:"actual_improvement"`
	Reverted          bool      `json:"reverted"`
}

// History is the bounded circular outcome log feeding the learning step.
type History struct {
	mu  sync.Mutex
	log *ring.Ring[HistoryEntry]

	// learnedTotal is the ring total already folded into the models, so each
	// outcome trains exactly once.
	learnedTotal uint64
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{log: ring.New[HistoryEntry](capacity)}
}

func (h *History) Append(e HistoryEntry) {
	h.mu.Lock()
	h.log.Append(e)
	h.mu.Unlock()
}

// Snapshot returns a copy of the retained entries, oldest first.
func (h *History) Snapshot() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.log.Snapshot()
}

// Len is the retained entry count, saturating at capacity.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.log.Len()
}

// Total is the number of entries ever recorded, beyond the retained window.
func (h *History) Total() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.log.Total()
}

// MarkReverted flags the entry for the given patch id. Returns false when
// the entry was evicted or never existed.
func (h *History) MarkReverted(patchID uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	found := false
	h.log.Do(func(_ int, e *HistoryEntry) bool {
		if e.PatchID == patchID {
			e.Reverted = true
			found = true
			return false
		}
		return true
	})
	return found
}

// RecordImprovement sets the measured post-application improvement for the
// entry matching the patch id.
func (h *History) RecordImprovement(patchID uint64, improvement float64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	found := false
	h.log.Do(func(_ int, e *HistoryEntry) bool {
		if e.PatchID == patchID {
			e.ActualImprovement = improvement
			found = true
			return false
		}
		return true
	})
	return found
}

// unlearned returns the retained entries not yet folded into the models and
// advances the learned watermark. Entries evicted before learning are lost
// training signal; the bounded window is an accepted limit.
func (h *History) unlearned() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := h.log.Total()
	pending := total - h.learnedTotal
	if pending == 0 {
		return nil
	}
	retained := h.log.Snapshot()
	if pending > uint64(len(retained)) {
		pending = uint64(len(retained))
	}
	h.learnedTotal = total
	return retained[uint64(len(retained))-pending:]
}
