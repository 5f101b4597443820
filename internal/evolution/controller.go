// Package evolution implements the controller that owns the optimization
// cycle: Collecting → Analyzing → Applying → Learning → Idle. Cycles never
// overlap, patch application is capped per cycle with requeue semantics,
// and disabling takes effect at step boundaries only — never mid-apply.
package evolution

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"evocore/internal/engine"
	"evocore/internal/logging"
	"evocore/internal/metrics"
	"evocore/internal/models"
	"evocore/internal/patch"
	"evocore/internal/rollback"
	"evocore/internal/security"
	"evocore/internal/target"
)

var (
	// ErrCycleInProgress rejects an overlapping RunCycle invocation.
	// Interleaved cycles could patch the same target offset without either
	// seeing the other's backup.
	ErrCycleInProgress = errors.New("optimization cycle already in progress")

	// ErrDisabled is returned when a cycle is requested while evolution is
	// disabled.
	ErrDisabled = errors.New("evolution is disabled")
)

// State names the controller's position in the cycle state machine.
type State int

const (
	StateDisabled State = iota
	StateIdle
	StateCollecting
	StateAnalyzing
	StateApplying
	StateLearning
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateAnalyzing:
		return "analyzing"
	case StateApplying:
		return "applying"
	case StateLearning:
		return "learning"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// cyclesPerLevel is the maturity cadence: the evolution level rises by one
// per this many completed cycles. The level gates nothing yet; it is the
// hook for admitting riskier domains as trust accumulates.
const cyclesPerLevel = 10

// Status is a point-in-time copy of the controller's state. It reflects
// last-known-good values even while a cycle is mid-failure.
type Status struct {
	Enabled           bool      `json:"enabled"`
	State             string    `json:"state"`
	LastAnalysisTime  time.Time `json:"last_analysis_time"`
	LastLearningTime  time.Time `json:"last_learning_time"`
	OptimizationCount uint64    `json:"optimization_count"`
	PatchCount        uint64    `json:"patch_count"`
	EvolutionLevel    uint8     `json:"evolution_level"`
	DeferredPatches   int       `json:"deferred_patches"`
}

// CycleReport summarizes one completed cycle for telemetry.
type CycleReport struct {
	RunID         string
	Cycle         uint64
	Start         time.Time
	End           time.Time
	Suggestions   int
	Synthesized   int
	Admitted      int
	Denied        int
	Applied       int
	Deferred      int
	ModelAccuracy map[string]float64
}

// Reporter receives cycle telemetry. Reporting failures are logged and
// never affect the cycle.
type Reporter interface {
	ReportCycle(report CycleReport) error
}

// Controller orchestrates the evolution loop over the engine, the verifier,
// the rollback manager, and the external apply primitive.
type Controller struct {
	engine   *engine.Engine
	security *security.Manager
	rollback *rollback.Manager
	applier  target.Applier
	history  *engine.History
	registry *models.Registry
	reporter Reporter
	runID    string

	mu               sync.Mutex
	inFlight         bool
	enabled          bool
	disableRequested bool
	state            State
	lastMetrics      *metrics.Snapshot
	deferred         []*patch.Patch
	lastAnalysis     time.Time
	lastLearning     time.Time
	cycleCount       uint64
	patchCount       uint64
	level            uint8
}

func NewController(eng *engine.Engine, sec *security.Manager, rb *rollback.Manager, applier target.Applier, history *engine.History, registry *models.Registry, reporter Reporter, runID string) *Controller {
	return &Controller{
		engine:   eng,
		security: sec,
		rollback: rb,
		applier:  applier,
		history:  history,
		registry: registry,
		reporter: reporter,
		runID:    runID,
		state:    StateDisabled,
	}
}

// Enable turns the evolution loop on or off. Enabling requires permission
// from the active security policy and triggers one immediate cycle.
// Disabling while a cycle is in flight takes effect at the next state
// boundary; an in-progress apply step always completes.
func (c *Controller) Enable(allow bool) error {
	if !allow {
		c.mu.Lock()
		if c.inFlight {
			c.disableRequested = true
		} else {
			c.enabled = false
			c.state = StateDisabled
		}
		c.mu.Unlock()
		logging.GetEvolutionLogger().Info("Evolution disable requested")
		return nil
	}

	if err := c.security.CheckEvolutionPermission(); err != nil {
		return err
	}

	c.mu.Lock()
	c.enabled = true
	c.disableRequested = false
	if !c.inFlight {
		c.state = StateIdle
	}
	c.mu.Unlock()

	logging.GetEvolutionLogger().Info("Evolution enabled")
	return c.RunCycle()
}

// RunCycle executes one Idle → Collecting → Analyzing → Applying → Learning
// → Idle traversal. A concurrent invocation while one is in flight is
// rejected with ErrCycleInProgress.
func (c *Controller) RunCycle() error {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return ErrDisabled
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrCycleInProgress
	}
	c.inFlight = true
	c.state = StateCollecting
	c.mu.Unlock()

	start := time.Now()
	err := c.runSteps(start)

	c.mu.Lock()
	c.inFlight = false
	if c.disableRequested {
		c.enabled = false
		c.disableRequested = false
	}
	if c.enabled {
		c.state = StateIdle
	} else {
		c.state = StateDisabled
	}
	c.mu.Unlock()

	return err
}

// stopRequested reports whether a disable arrived; consulted only at state
// boundaries so a half-applied patch can never be abandoned.
func (c *Controller) stopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disableRequested
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) runSteps(start time.Time) error {
	logger := logging.GetEvolutionLogger()

	// Collecting.
	snap, err := c.engine.CollectMetrics()
	if err != nil {
		logger.WithError(err).Error("Metric collection failed, aborting cycle")
		return err
	}
	c.mu.Lock()
	c.lastMetrics = snap
	c.mu.Unlock()

	if c.stopRequested() {
		return nil
	}

	// Analyzing.
	c.setState(StateAnalyzing)
	suggestions := c.engine.Analyze(snap)
	synthesized := c.engine.SynthesizePatches(suggestions)

	c.mu.Lock()
	queue := append(c.deferred, synthesized...)
	c.deferred = nil
	c.mu.Unlock()

	if c.stopRequested() {
		c.requeue(queue)
		return nil
	}

	// Applying.
	c.setState(StateApplying)
	applied, admitted, denied, deferred := c.applyPatches(queue)

	if !c.stopRequested() {
		// Learning folds outcomes from earlier cycles, after their
		// improvements and revert flags have had a cycle to be recorded.
		// This cycle's entries are appended afterwards and train next pass.
		c.setState(StateLearning)
		c.engine.Learn(c.history)
		c.engine.UpdateHistory(c.history, applied)
		c.mu.Lock()
		c.lastLearning = time.Now()
		c.mu.Unlock()
	} else if len(applied) > 0 {
		// Outcomes of already-applied patches must not be lost to a disable.
		c.engine.UpdateHistory(c.history, applied)
	}

	c.mu.Lock()
	c.cycleCount++
	c.lastAnalysis = time.Now()
	c.patchCount += uint64(len(applied))
	c.level = uint8(c.cycleCount / cyclesPerLevel)
	cycle := c.cycleCount
	c.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"cycle":       cycle,
		"suggestions": len(suggestions),
		"synthesized": len(synthesized),
		"admitted":    admitted,
		"denied":      denied,
		"applied":     len(applied),
		"deferred":    deferred,
		"duration":    time.Since(start).String(),
	}).Info("Optimization cycle complete")

	c.report(CycleReport{
		RunID:         c.runID,
		Cycle:         cycle,
		Start:         start,
		End:           time.Now(),
		Suggestions:   len(suggestions),
		Synthesized:   len(synthesized),
		Admitted:      admitted,
		Denied:        denied,
		Applied:       len(applied),
		Deferred:      deferred,
		ModelAccuracy: c.registry.Accuracies(),
	})

	return nil
}

// applyPatches verifies and applies the queued patches, honoring the
// per-cycle cap. Admitted patches beyond the cap are requeued for the next
// cycle, never dropped. A deny or apply failure skips that one patch; no
// rollback entry is ever created for a patch that was not applied.
func (c *Controller) applyPatches(queue []*patch.Patch) (applied []*patch.Patch, admitted, denied, deferred int) {
	logger := logging.GetEvolutionLogger()
	policy := c.security.Policy()

	for _, p := range queue {
		// The verifier logs its denial reason.
		ok, _ := c.security.Verify(p)
		if !ok {
			denied++
			continue
		}
		admitted++

		if len(applied) >= policy.MaxPatchesPerCycle {
			c.requeue([]*patch.Patch{p})
			deferred++
			continue
		}

		// Capture before apply. A failure here aborts this patch only.
		if err := c.rollback.CreateEntry(p, policy.RequireRollbackCapability); err != nil {
			logger.WithField("patch_id", p.ID).WithError(err).Warn("Rollback capture failed, skipping patch")
			continue
		}

		if err := c.applier.ApplyPatch(p.TargetModule, p.TargetOffset, p.PatchCode); err != nil {
			logger.WithFields(logrus.Fields{
				"patch_id":      p.ID,
				"target_module": p.TargetModule.String(),
			}).WithError(err).Warn("Patch application failed, skipping")
			// The target was never mutated; the log must not keep a live
			// entry for a patch that was not applied.
			c.rollback.Discard(p.ID)
			continue
		}

		p.Applied = true
		applied = append(applied, p)
		logger.WithFields(logrus.Fields{
			"patch_id":      p.ID,
			"suggestion_id": p.SuggestionID,
			"target_module": p.TargetModule.String(),
			"target_offset": p.TargetOffset,
			"size":          p.Size,
		}).Info("Patch applied")
	}
	return applied, admitted, denied, deferred
}

func (c *Controller) requeue(patches []*patch.Patch) {
	if len(patches) == 0 {
		return
	}
	c.mu.Lock()
	c.deferred = append(c.deferred, patches...)
	c.mu.Unlock()
}

func (c *Controller) report(r CycleReport) {
	if c.reporter == nil {
		return
	}
	if err := c.reporter.ReportCycle(r); err != nil {
		logging.GetLogger().WithError(err).Warn("Cycle telemetry export failed")
	}
}

// RollbackPatch reverses one applied patch and flags its history entry so
// the next learning pass decays the owning model.
func (c *Controller) RollbackPatch(patchID uint64) error {
	if err := c.rollback.RollbackPatch(patchID); err != nil {
		return err
	}
	c.history.MarkReverted(patchID)
	return nil
}

// RollbackAll reverses every live patch, newest first.
func (c *Controller) RollbackAll() int {
	ids := c.rollback.RollbackAll()
	for _, id := range ids {
		c.history.MarkReverted(id)
	}
	return len(ids)
}

// RecordOutcome stores the measured post-application improvement for a
// patch, to be folded into the owning model at the next learning pass.
func (c *Controller) RecordOutcome(patchID uint64, improvement float64) bool {
	if improvement < 0 {
		improvement = 0
	}
	if improvement > 1 {
		improvement = 1
	}
	return c.history.RecordImprovement(patchID, improvement)
}

// Status returns a copy of the controller state; it never blocks on an
// in-flight cycle beyond the brief field lock.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Enabled:           c.enabled,
		State:             c.state.String(),
		LastAnalysisTime:  c.lastAnalysis,
		LastLearningTime:  c.lastLearning,
		OptimizationCount: c.cycleCount,
		PatchCount:        c.patchCount,
		EvolutionLevel:    c.level,
		DeferredPatches:   len(c.deferred),
	}
}

// LastMetrics returns the snapshot retained from the most recent collection,
// or nil before the first cycle.
func (c *Controller) LastMetrics() *metrics.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastMetrics == nil {
		return nil
	}
	snap := *c.lastMetrics
	return &snap
}

// History returns a deep copy of the optimization history, oldest first.
func (c *Controller) History() []engine.HistoryEntry {
	return c.history.Snapshot()
}

// RollbackLog returns a deep copy of the rollback log, oldest first.
func (c *Controller) RollbackLog() []rollback.Entry {
	return c.rollback.Log()
}
