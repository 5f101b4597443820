// Package target provides the default patch application collaborator: four
// in-memory module images (kernel, driver, memory layout, scheduler) with
// bounds-checked byte access. A real machine-level patcher plugs in behind
// the same Reader/Applier/Writer contracts; this store gives the loop a
// concrete reversible surface.
package target

import (
	"fmt"
	"sync"

	"evocore/internal/patch"
)

// Reader reads the current bytes at a target location, used to capture the
// original-code backup before any mutation.
type Reader interface {
	ReadBytes(module patch.TargetModule, offset uint64, size uint32) ([]byte, error)
}

// Applier installs a patch payload at a target location.
type Applier interface {
	ApplyPatch(module patch.TargetModule, offset uint64, payload []byte) error
}

// Writer is the reversal primitive: it restores original bytes at a target
// location.
type Writer interface {
	WriteBytes(module patch.TargetModule, offset uint64, original []byte) error
}

// DefaultImageSize is the size of each in-memory module image.
const DefaultImageSize = 64 * 1024

// Store holds one byte image per target module.
type Store struct {
	mu     sync.RWMutex
	images map[patch.TargetModule][]byte
}

func NewStore() *Store {
	return NewStoreWithSize(DefaultImageSize)
}

func NewStoreWithSize(size int) *Store {
	images := make(map[patch.TargetModule][]byte, 4)
	for _, m := range []patch.TargetModule{
		patch.TargetKernel,
		patch.TargetDriver,
		patch.TargetMemoryLayout,
		patch.TargetScheduler,
	} {
		img := make([]byte, size)
		// Deterministic non-zero fill so captured backups are distinguishable
		// from zeroed payloads in tests and audit dumps.
		for i := range img {
			img[i] = byte((i + int(m)) % 251)
		}
		images[m] = img
	}
	return &Store{images: images}
}

func (s *Store) region(module patch.TargetModule, offset uint64, size uint32) ([]byte, error) {
	img, ok := s.images[module]
	if !ok {
		return nil, fmt.Errorf("unknown target module %s", module)
	}
	end := offset + uint64(size)
	if size == 0 || end > uint64(len(img)) {
		return nil, fmt.Errorf("target %s: range [%d, %d) out of bounds (image %d bytes)",
			module, offset, end, len(img))
	}
	return img[offset:end], nil
}

func (s *Store) ReadBytes(module patch.TargetModule, offset uint64, size uint32) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	region, err := s.region(module, offset, size)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), region...), nil
}

func (s *Store) ApplyPatch(module patch.TargetModule, offset uint64, payload []byte) error {
	return s.write(module, offset, payload)
}

func (s *Store) WriteBytes(module patch.TargetModule, offset uint64, original []byte) error {
	return s.write(module, offset, original)
}

func (s *Store) write(module patch.TargetModule, offset uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	region, err := s.region(module, offset, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(region, data)
	return nil
}
