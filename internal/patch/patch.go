package patch

import (
	"fmt"
	"time"
)

// Domain is the optimization category a model and its suggestions belong to.
type Domain int

const (
	DomainPerformance Domain = iota
	DomainMemory
	DomainScheduler
	DomainPower
	DomainSecurity
	DomainCode

	DomainCount = 6
)

func (d Domain) String() string {
	switch d {
	case DomainPerformance:
		return "performance"
	case DomainMemory:
		return "memory"
	case DomainScheduler:
		return "scheduler"
	case DomainPower:
		return "power"
	case DomainSecurity:
		return "security"
	case DomainCode:
		return "code"
	default:
		return fmt.Sprintf("domain(%d)", int(d))
	}
}

// TargetModule identifies the subsystem a patch mutates. The set is closed;
// the verifier maps each value against a dedicated policy allow-flag.
type TargetModule int

const (
	TargetKernel TargetModule = iota
	TargetDriver
	TargetMemoryLayout
	TargetScheduler
)

func (t TargetModule) String() string {
	switch t {
	case TargetKernel:
		return "kernel"
	case TargetDriver:
		return "driver"
	case TargetMemoryLayout:
		return "memory_layout"
	case TargetScheduler:
		return "scheduler"
	default:
		return fmt.Sprintf("module(%d)", int(t))
	}
}

// Valid reports whether t is a member of the closed target set.
func (t TargetModule) Valid() bool {
	return t >= TargetKernel && t <= TargetScheduler
}

// Suggestion is one ranked optimization recommendation from an analysis pass.
// The ID is tied to the issue category (1 = memory defragmentation,
// 2 = scheduler time slice, 3 = I/O policy), not a random handle; the
// learning step resolves the owning model through it.
type Suggestion struct {
	ID                  uint32
	Description         string
	ExpectedImprovement float64 // 0..1
	Confidence          uint32  // 0..100
	Advisory            []byte  // optional opaque advisory payload
}

// Patch is a candidate reversible mutation of a running target. OriginalCode
// is captured from the live target at synthesis time; a patch without it can
// never pass verification, which is what makes rollback possible.
type Patch struct {
	ID           uint64
	SuggestionID uint32
	Timestamp    time.Time
	TargetModule TargetModule
	TargetOffset uint64
	Size         uint32
	OriginalCode []byte
	PatchCode    []byte
	Verified     bool
	Applied      bool
}

// Clone returns a deep copy; callers handing patches across component
// boundaries must not share backing arrays.
func (p *Patch) Clone() *Patch {
	if p == nil {
		return nil
	}
	c := *p
	c.OriginalCode = append([]byte(nil), p.OriginalCode...)
	c.PatchCode = append([]byte(nil), p.PatchCode...)
	return &c
}
