package rollback

import (
	"bytes"
	"testing"
	"time"

	"evocore/internal/patch"
	"evocore/internal/target"
)

func capturedPatch(id uint64, store *target.Store, offset uint64) *patch.Patch {
	original, err := store.ReadBytes(patch.TargetMemoryLayout, offset, 16)
	if err != nil {
		panic(err)
	}
	return &patch.Patch{
		ID:           id,
		Timestamp:    time.Now(),
		TargetModule: patch.TargetMemoryLayout,
		TargetOffset: offset,
		Size:         16,
		OriginalCode: original,
		PatchCode:    bytes.Repeat([]byte{0xCC}, 16),
	}
}

func TestRollbackPatch_RestoresOriginalBytes(t *testing.T) {
	store := target.NewStoreWithSize(4096)
	m := NewManager(store)

	p := capturedPatch(7, store, 0x400)
	if err := m.CreateEntry(p, true); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if err := store.ApplyPatch(p.TargetModule, p.TargetOffset, p.PatchCode); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if err := m.RollbackPatch(7); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	after, _ := store.ReadBytes(p.TargetModule, p.TargetOffset, p.Size)
	if !bytes.Equal(after, p.OriginalCode) {
		t.Fatalf("target not restored: got %v, want %v", after, p.OriginalCode)
	}
}

func TestRollbackPatch_SecondAttemptReportsNotFound(t *testing.T) {
	store := target.NewStoreWithSize(4096)
	m := NewManager(store)

	p := capturedPatch(7, store, 0x400)
	if err := m.CreateEntry(p, true); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if err := m.RollbackPatch(7); err != nil {
		t.Fatalf("first rollback failed: %v", err)
	}

	if err := m.RollbackPatch(7); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on second rollback, got %v", err)
	}
	if err := m.RollbackPatch(999); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
	if err := m.RollbackPatch(0); err != ErrNotFound {
		t.Fatalf("the zero id is the dead-entry sentinel and must never match, got %v", err)
	}
}

func TestRollbackAll_MostRecentFirst(t *testing.T) {
	store := target.NewStoreWithSize(4096)
	m := NewManager(store)

	for _, id := range []uint64{1, 2, 3} {
		p := capturedPatch(id, store, 0x100*id)
		if err := m.CreateEntry(p, true); err != nil {
			t.Fatalf("capture %d failed: %v", id, err)
		}
		if err := store.ApplyPatch(p.TargetModule, p.TargetOffset, p.PatchCode); err != nil {
			t.Fatalf("apply %d failed: %v", id, err)
		}
	}

	reverted := m.RollbackAll()
	want := []uint64{3, 2, 1}
	if len(reverted) != len(want) {
		t.Fatalf("expected %v, got %v", want, reverted)
	}
	for i := range want {
		if reverted[i] != want[i] {
			t.Fatalf("expected reversal order %v, got %v", want, reverted)
		}
	}

	if m.LiveCount() != 0 {
		t.Fatalf("expected no live entries after rollback-all, got %d", m.LiveCount())
	}
	if len(m.RollbackAll()) != 0 {
		t.Fatal("second rollback-all must be a no-op")
	}
}

func TestCreateEntry_SkippedWhenNotRequired(t *testing.T) {
	store := target.NewStoreWithSize(4096)
	m := NewManager(store)

	p := capturedPatch(5, store, 0x200)
	if err := m.CreateEntry(p, false); err != nil {
		t.Fatalf("optional capture returned error: %v", err)
	}
	if m.LiveCount() != 0 {
		t.Fatalf("expected no entry when capture not required, got %d live", m.LiveCount())
	}
}

func TestCreateEntry_RejectsMissingBackup(t *testing.T) {
	store := target.NewStoreWithSize(4096)
	m := NewManager(store)

	p := capturedPatch(5, store, 0x200)
	p.OriginalCode = nil
	if err := m.CreateEntry(p, true); err == nil {
		t.Fatal("expected error for patch without original code")
	}
	if err := m.CreateEntry(nil, true); err == nil {
		t.Fatal("expected error for nil patch")
	}
}

func TestCreateEntry_OwnsBackupCopy(t *testing.T) {
	store := target.NewStoreWithSize(4096)
	m := NewManager(store)

	p := capturedPatch(5, store, 0x200)
	if err := m.CreateEntry(p, true); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	want := append([]byte(nil), p.OriginalCode...)
	for i := range p.OriginalCode {
		p.OriginalCode[i] = 0xFF
	}
	if err := store.ApplyPatch(p.TargetModule, p.TargetOffset, p.PatchCode); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if err := m.RollbackPatch(5); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	after, _ := store.ReadBytes(p.TargetModule, p.TargetOffset, p.Size)
	if !bytes.Equal(after, want) {
		t.Fatal("entry aliased the caller's backup buffer")
	}
}

func TestDiscard_KillsEntryWithoutReversal(t *testing.T) {
	store := target.NewStoreWithSize(4096)
	m := NewManager(store)

	p := capturedPatch(9, store, 0x300)
	if err := m.CreateEntry(p, true); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	before, _ := store.ReadBytes(p.TargetModule, p.TargetOffset, p.Size)

	m.Discard(9)

	after, _ := store.ReadBytes(p.TargetModule, p.TargetOffset, p.Size)
	if !bytes.Equal(before, after) {
		t.Fatal("discard must not touch the target")
	}
	if err := m.RollbackPatch(9); err != ErrNotFound {
		t.Fatalf("discarded entry must not be rollbackable, got %v", err)
	}
	if m.TotalCaptured() != 1 {
		t.Fatalf("discard must not rewind the capture counter, got %d", m.TotalCaptured())
	}
}

func TestLog_BoundedAndDeepCopied(t *testing.T) {
	store := target.NewStoreWithSize(65536)
	m := NewManagerWithCapacity(store, 3)

	for id := uint64(1); id <= 5; id++ {
		p := capturedPatch(id, store, 0x40*id)
		if err := m.CreateEntry(p, true); err != nil {
			t.Fatalf("capture %d failed: %v", id, err)
		}
	}

	entries := m.Log()
	if len(entries) != 3 {
		t.Fatalf("expected 3 retained entries, got %d", len(entries))
	}
	if entries[0].PatchID != 3 || entries[2].PatchID != 5 {
		t.Fatalf("expected window [3..5] oldest first, got %d..%d", entries[0].PatchID, entries[2].PatchID)
	}
	if m.TotalCaptured() != 5 {
		t.Fatalf("expected total 5 captures, got %d", m.TotalCaptured())
	}

	entries[2].OriginalCode[0] ^= 0xFF
	fresh := m.Log()
	if fresh[2].OriginalCode[0] == entries[2].OriginalCode[0] {
		t.Fatal("log handed out an alias into the live ring")
	}
}
