// Package rollback captures pre-patch state and reverses applied patches.
// Capture runs before the patch is marked applied, never after: a crash
// between apply and capture would leave an unrecoverable patch.
package rollback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"evocore/internal/logging"
	"evocore/internal/patch"
	"evocore/internal/ring"
	"evocore/internal/target"
)

// ErrNotFound is returned when no live rollback entry matches the patch id.
// Double rollback is a caller bug and is surfaced, not swallowed.
var ErrNotFound = errors.New("no live rollback entry for patch")

// DefaultCapacity is the rollback log size; the oldest entry is overwritten
// once the log is full.
const DefaultCapacity = 100

// Entry is the captured reversal data for one applied patch. A zero PatchID
// marks a dead entry (already rolled back).
type Entry struct {
	PatchID        uint64             `json:"patch_id"`
	ApplyTimestamp time.Time          `json:"apply_timestamp"`
	OriginalCode   []byte             `json:"-"`
	OriginalSize   uint32             `json:"original_size"`
	TargetModule   patch.TargetModule `json:"target_module"`
	TargetOffset   uint64             `json:"target_offset"`
}

// Manager owns the bounded circular rollback log. All access goes through
// the controller's cycle lock plus the manager's own mutex, so readers get
// copies and never aliases into the live ring.
type Manager struct {
	mu     sync.Mutex
	writer target.Writer
	log    *ring.Ring[Entry]
}

func NewManager(writer target.Writer) *Manager {
	return NewManagerWithCapacity(writer, DefaultCapacity)
}

func NewManagerWithCapacity(writer target.Writer, capacity int) *Manager {
	return &Manager{
		writer: writer,
		log:    ring.New[Entry](capacity),
	}
}

// CreateEntry captures the patch's original code into an independently owned
// buffer and appends it to the log. It must be invoked before the patch is
// applied. Capture is skipped when the policy does not require rollback
// capability; the caller passes that decision in.
func (m *Manager) CreateEntry(p *patch.Patch, required bool) error {
	if p == nil {
		return fmt.Errorf("rollback capture: nil patch")
	}
	if !required {
		return nil
	}
	if len(p.OriginalCode) == 0 {
		return fmt.Errorf("rollback capture: patch %d has no original code backup", p.ID)
	}

	entry := Entry{
		PatchID:        p.ID,
		ApplyTimestamp: p.Timestamp,
		OriginalCode:   append([]byte(nil), p.OriginalCode...),
		OriginalSize:   uint32(len(p.OriginalCode)),
		TargetModule:   p.TargetModule,
		TargetOffset:   p.TargetOffset,
	}

	m.mu.Lock()
	m.log.Append(entry)
	m.mu.Unlock()

	logging.GetEvolutionLogger().WithFields(logrus.Fields{
		"patch_id":      p.ID,
		"target_module": p.TargetModule.String(),
		"target_offset": p.TargetOffset,
		"backup_bytes":  entry.OriginalSize,
	}).Debug("Rollback entry captured")
	return nil
}

// RollbackPatch restores the original bytes for the given patch id and marks
// the entry dead so it cannot match twice.
func (m *Manager) RollbackPatch(patchID uint64) error {
	if patchID == 0 {
		return ErrNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollbackLocked(patchID)
}

func (m *Manager) rollbackLocked(patchID uint64) error {
	var found *Entry
	m.log.Do(func(_ int, e *Entry) bool {
		if e.PatchID == patchID {
			found = e
			return false
		}
		return true
	})
	if found == nil {
		return ErrNotFound
	}

	if err := m.writer.WriteBytes(found.TargetModule, found.TargetOffset, found.OriginalCode); err != nil {
		return fmt.Errorf("reversing patch %d: %w", patchID, err)
	}

	logging.GetEvolutionLogger().WithFields(logrus.Fields{
		"patch_id":      patchID,
		"target_module": found.TargetModule.String(),
		"target_offset": found.TargetOffset,
	}).Info("Patch rolled back")

	found.PatchID = 0
	found.OriginalCode = nil
	return nil
}

// RollbackAll reverses every live entry, most recent first, and returns the
// ids that were rolled back.
func (m *Manager) RollbackAll() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reverted []uint64
	m.log.DoReverse(func(_ int, e *Entry) bool {
		if e.PatchID == 0 {
			return true
		}
		id := e.PatchID
		if err := m.rollbackLocked(id); err != nil {
			logging.GetEvolutionLogger().WithField("patch_id", id).WithError(err).Warn("Rollback failed")
			return true
		}
		reverted = append(reverted, id)
		return true
	})
	return reverted
}

// Log returns a deep copy of the retained entries, oldest first. Dead
// entries are included so callers can audit the full window.
func (m *Manager) Log() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.log.Snapshot()
	for i := range entries {
		entries[i].OriginalCode = append([]byte(nil), entries[i].OriginalCode...)
	}
	return entries
}

// LiveCount is the number of retained entries that can still be rolled back.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	m.log.Do(func(_ int, e *Entry) bool {
		if e.PatchID != 0 {
			n++
		}
		return true
	})
	return n
}

// TotalCaptured is the monotonic count of captures ever made, independent
// of the log's bounded retention.
func (m *Manager) TotalCaptured() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.log.Total()
}

// Discard kills the live entry for a patch that was captured but never
// applied, without invoking the reversal primitive. The log must not carry
// a live entry for a patch that never mutated the target.
func (m *Manager) Discard(patchID uint64) {
	if patchID == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.Do(func(_ int, e *Entry) bool {
		if e.PatchID == patchID {
			e.PatchID = 0
			e.OriginalCode = nil
			return false
		}
		return true
	})
}
