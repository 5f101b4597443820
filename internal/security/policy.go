package security

import "fmt"

// Level selects one of the fixed policy bundles. Switching level replaces
// the whole bundle atomically; there are no partial updates.
type Level int

const (
	LevelPermissive Level = iota
	LevelStandard
	LevelStrict
	LevelParanoid
)

func (l Level) String() string {
	switch l {
	case LevelPermissive:
		return "permissive"
	case LevelStandard:
		return "standard"
	case LevelStrict:
		return "strict"
	case LevelParanoid:
		return "paranoid"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps a config string to a policy level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "permissive":
		return LevelPermissive, nil
	case "standard", "":
		return LevelStandard, nil
	case "strict":
		return LevelStrict, nil
	case "paranoid":
		return LevelParanoid, nil
	default:
		return LevelStandard, fmt.Errorf("unknown security level %q", s)
	}
}

// Policy is the active security policy bundle consulted on every patch
// verification.
type Policy struct {
	Level                       Level
	AllowSelfEvolution          bool
	AllowKernelModifications    bool
	AllowDriverModifications    bool
	AllowMemoryLayoutChanges    bool
	AllowSchedulerModifications bool
	RequireVerification         bool
	RequireRollbackCapability   bool
	MaxPatchSize                uint32
	MaxPatchesPerCycle          int
}

// policyForLevel is the fixed bundle table. Verification and rollback
// capability are required at every level.
func policyForLevel(level Level) Policy {
	switch level {
	case LevelPermissive:
		return Policy{
			Level:                       LevelPermissive,
			AllowSelfEvolution:          true,
			AllowKernelModifications:    true,
			AllowDriverModifications:    true,
			AllowMemoryLayoutChanges:    true,
			AllowSchedulerModifications: true,
			RequireVerification:         true,
			RequireRollbackCapability:   true,
			MaxPatchSize:                8192,
			MaxPatchesPerCycle:          10,
		}
	case LevelStrict:
		return Policy{
			Level:                       LevelStrict,
			AllowSelfEvolution:          true,
			AllowKernelModifications:    false,
			AllowDriverModifications:    true,
			AllowMemoryLayoutChanges:    false,
			AllowSchedulerModifications: true,
			RequireVerification:         true,
			RequireRollbackCapability:   true,
			MaxPatchSize:                2048,
			MaxPatchesPerCycle:          3,
		}
	case LevelParanoid:
		return Policy{
			Level:                       LevelParanoid,
			AllowSelfEvolution:          false,
			AllowKernelModifications:    false,
			AllowDriverModifications:    false,
			AllowMemoryLayoutChanges:    false,
			AllowSchedulerModifications: false,
			RequireVerification:         true,
			RequireRollbackCapability:   true,
			MaxPatchSize:                1024,
			MaxPatchesPerCycle:          1,
		}
	default:
		return Policy{
			Level:                       LevelStandard,
			AllowSelfEvolution:          true,
			AllowKernelModifications:    true,
			AllowDriverModifications:    true,
			AllowMemoryLayoutChanges:    true,
			AllowSchedulerModifications: true,
			RequireVerification:         true,
			RequireRollbackCapability:   true,
			MaxPatchSize:                4096,
			MaxPatchesPerCycle:          5,
		}
	}
}
