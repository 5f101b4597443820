package security

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"evocore/internal/logging"
	"evocore/internal/patch"
)

// ErrPermissionDenied is returned when the active policy forbids
// self-evolution.
var ErrPermissionDenied = errors.New("self-evolution not permitted by security policy")

// DenyReason classifies why a patch failed verification.
type DenyReason int

const (
	DenyNone DenyReason = iota
	DenyOversizedOrMalformed
	DenyMissingBackupOrPayload
	DenyPolicyViolation
	DenyUnsafeOperation
)

func (r DenyReason) String() string {
	switch r {
	case DenyNone:
		return "admitted"
	case DenyOversizedOrMalformed:
		return "oversized_or_malformed"
	case DenyMissingBackupOrPayload:
		return "missing_backup_or_payload"
	case DenyPolicyViolation:
		return "policy_violation"
	case DenyUnsafeOperation:
		return "unsafe_operation"
	default:
		return fmt.Sprintf("deny(%d)", int(r))
	}
}

// SafetyAnalyzer is the extension seam for static or semantic safety
// analysis of a patch. The baseline always passes; a real analyzer returns
// false when the patch would violate a safety predicate.
type SafetyAnalyzer interface {
	Safe(p *patch.Patch) bool
}

type passAnalyzer struct{}

func (passAnalyzer) Safe(*patch.Patch) bool { return true }

// Manager owns the active security policy and verifies patches against it.
type Manager struct {
	mu       sync.RWMutex
	policy   Policy
	analyzer SafetyAnalyzer
}

func NewManager(level Level) *Manager {
	return &Manager{
		policy:   policyForLevel(level),
		analyzer: passAnalyzer{},
	}
}

// SetAnalyzer installs a safety analyzer; nil restores the always-pass
// baseline.
func (m *Manager) SetAnalyzer(a SafetyAnalyzer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a == nil {
		a = passAnalyzer{}
	}
	m.analyzer = a
}

// SetPolicy atomically swaps the whole policy bundle for the level's fixed
// table entry.
func (m *Manager) SetPolicy(level Level) {
	m.mu.Lock()
	m.policy = policyForLevel(level)
	m.mu.Unlock()

	logging.GetLogger().WithField("level", level.String()).Info("Security policy updated")
}

// Policy returns a copy of the active bundle; callers never observe
// subsequent swaps through it.
func (m *Manager) Policy() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// CheckEvolutionPermission reports whether the active policy allows the
// evolution loop to run at all.
func (m *Manager) CheckEvolutionPermission() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.policy.AllowSelfEvolution {
		return ErrPermissionDenied
	}
	return nil
}

// Verify runs the admission checks in fixed order, first failure wins:
// structural validity, integrity (reversal backup and payload present),
// per-module policy authorization, then the pluggable safety analyzer.
// On admit the patch's Verified flag is set. Verification is idempotent:
// an unchanged patch under an unchanged policy re-derives the same result.
func (m *Manager) Verify(p *patch.Patch) (bool, DenyReason) {
	m.mu.RLock()
	policy := m.policy
	analyzer := m.analyzer
	m.mu.RUnlock()

	logger := logging.GetEvolutionLogger()

	deny := func(reason DenyReason) (bool, DenyReason) {
		logger.WithFields(logrus.Fields{
			"patch_id": patchID(p),
			"reason":   reason.String(),
		}).Warn("Patch denied")
		return false, reason
	}

	if p == nil || p.Size == 0 || p.Size > policy.MaxPatchSize {
		return deny(DenyOversizedOrMalformed)
	}

	// Hard safety invariant: no patch without a present reversal backup may
	// ever be admitted. Admission is the gate before rollback capability is
	// assumed to exist.
	if len(p.OriginalCode) == 0 {
		return deny(DenyMissingBackupOrPayload)
	}
	if len(p.PatchCode) == 0 {
		return deny(DenyMissingBackupOrPayload)
	}

	allowed := false
	switch p.TargetModule {
	case patch.TargetKernel:
		allowed = policy.AllowKernelModifications
	case patch.TargetDriver:
		allowed = policy.AllowDriverModifications
	case patch.TargetMemoryLayout:
		allowed = policy.AllowMemoryLayoutChanges
	case patch.TargetScheduler:
		allowed = policy.AllowSchedulerModifications
	}
	if !allowed {
		return deny(DenyPolicyViolation)
	}

	if !analyzer.Safe(p) {
		return deny(DenyUnsafeOperation)
	}

	p.Verified = true
	logger.WithFields(logrus.Fields{
		"patch_id":      p.ID,
		"target_module": p.TargetModule.String(),
		"size":          p.Size,
	}).Debug("Patch admitted")
	return true, DenyNone
}

func patchID(p *patch.Patch) uint64 {
	if p == nil {
		return 0
	}
	return p.ID
}
