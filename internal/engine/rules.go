package engine

import (
	"encoding/binary"

	"evocore/internal/metrics"
	"evocore/internal/patch"
)

// Suggestion category ids. The id is semantically tied to the issue
// category; the learning step resolves the owning model domain through
// suggestionDomains and the synthesizer derives the patch target through
// suggestionTargets.
const (
	SuggestionMemoryDefrag     = 1
	SuggestionSchedulerSlice   = 2
	SuggestionIOSchedulingPoly = 3
)

// suggestionDomains is the closed suggestion-id → model-domain table. A
// category missing here is skipped by learning, never inferred.
var suggestionDomains = map[uint32]patch.Domain{
	SuggestionMemoryDefrag:     patch.DomainMemory,
	SuggestionSchedulerSlice:   patch.DomainScheduler,
	SuggestionIOSchedulingPoly: patch.DomainPerformance,
}

// suggestionTargets derives each category's patch target descriptor.
var suggestionTargets = map[uint32]struct {
	module patch.TargetModule
	offset uint64
}{
	SuggestionMemoryDefrag:     {patch.TargetMemoryLayout, 0x400},
	SuggestionSchedulerSlice:   {patch.TargetScheduler, 0x200},
	SuggestionIOSchedulingPoly: {patch.TargetDriver, 0x600},
}

// Thresholds are the fixed trigger points of the baseline rule set. They
// are the pluggable seam where a trained analyzer would replace canned
// limits; the contract is only "snapshot in, ranked suggestions out".
type Thresholds struct {
	FragmentationRatio float64 `yaml:"fragmentation_ratio"`
	AverageWaitMs      float64 `yaml:"average_wait_ms"`
	IOOperations       uint64  `yaml:"io_operations"`
	CPUUtilization     float64 `yaml:"cpu_utilization"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		FragmentationRatio: 0.5,
		AverageWaitMs:      100,
		IOOperations:       1000,
		CPUUtilization:     0.5,
	}
}

// rule evaluates one independent condition against a snapshot and emits at
// most one suggestion. Rules run in fixed priority order, so the emitted
// batch is order-stable across cycles.
type rule func(snap *metrics.Snapshot, t Thresholds) *patch.Suggestion

var analysisRules = []rule{
	memoryFragmentationRule,
	schedulerWaitRule,
	ioPolicyRule,
}

func memoryFragmentationRule(snap *metrics.Snapshot, t Thresholds) *patch.Suggestion {
	if snap.Memory.FragmentationRatio <= t.FragmentationRatio {
		return nil
	}
	return &patch.Suggestion{
		ID:                  SuggestionMemoryDefrag,
		Description:         "Memory defragmentation recommended",
		ExpectedImprovement: 0.3,
		Confidence:          80,
	}
}

func schedulerWaitRule(snap *metrics.Snapshot, t Thresholds) *patch.Suggestion {
	if snap.Scheduler.AverageWaitTime <= t.AverageWaitMs {
		return nil
	}
	// Advisory payload: the suggested replacement time slice in ms.
	advisory := make([]byte, 4)
	binary.LittleEndian.PutUint32(advisory, 5)
	return &patch.Suggestion{
		ID:                  SuggestionSchedulerSlice,
		Description:         "Scheduler time slice adjustment recommended",
		ExpectedImprovement: 0.2,
		Confidence:          70,
		Advisory:            advisory,
	}
}

func ioPolicyRule(snap *metrics.Snapshot, t Thresholds) *patch.Suggestion {
	if snap.IOOperations <= t.IOOperations || snap.Scheduler.CPUUtilization >= t.CPUUtilization {
		return nil
	}
	return &patch.Suggestion{
		ID:                  SuggestionIOSchedulingPoly,
		Description:         "I/O scheduling policy adjustment recommended",
		ExpectedImprovement: 0.25,
		Confidence:          65,
	}
}
