// Package engine implements the optimization engine: metric collection,
// rule-driven analysis, patch synthesis, outcome history, and the learning
// step that feeds measured outcomes back into the model registry.
package engine

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"evocore/internal/logging"
	"evocore/internal/metrics"
	"evocore/internal/models"
	"evocore/internal/patch"
	"evocore/internal/target"
)

const (
	// DefaultMaxSuggestions caps the suggestion batch per analysis pass.
	DefaultMaxSuggestions = 10

	// DefaultMinConfidence is the synthesis bar: suggestions below it are
	// silently skipped, not errors.
	DefaultMinConfidence = 60

	// patchPayloadSize is the canned payload size of the stub synthesizer. A
	// real synthesizer emits a domain-specific payload behind the same
	// contract.
	patchPayloadSize = 16
)

type Config struct {
	MaxSuggestions int
	MinConfidence  uint32
	Thresholds     Thresholds
}

func DefaultConfig() Config {
	return Config{
		MaxSuggestions: DefaultMaxSuggestions,
		MinConfidence:  DefaultMinConfidence,
		Thresholds:     DefaultThresholds(),
	}
}

// Engine consumes metric snapshots and the model registry and produces
// ranked suggestions, then patches. Analysis and synthesis never fail on
// bad input; they degrade to "no suggestion". A missed optimization is
// safe, a crash in the loop that is optimizing the host is not.
type Engine struct {
	cfg       Config
	memory    metrics.MemoryProvider
	scheduler metrics.SchedulerProvider
	io        metrics.IOProvider
	reader    target.Reader
	registry  *models.Registry

	start       time.Time
	nextPatchID uint64
	degraded    uint64
}

func New(cfg Config, mem metrics.MemoryProvider, sched metrics.SchedulerProvider, io metrics.IOProvider, reader target.Reader, registry *models.Registry) *Engine {
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = DefaultMaxSuggestions
	}
	return &Engine{
		cfg:         cfg,
		memory:      mem,
		scheduler:   sched,
		io:          io,
		reader:      reader,
		registry:    registry,
		start:       time.Now(),
		nextPatchID: 1,
	}
}

// CollectMetrics builds one snapshot from the providers. Memory and
// scheduler are critical: their failure aborts the cycle with
// metrics.ErrUnavailable. The I/O provider is non-critical: on failure its
// fields stay zero and the snapshot is still usable.
func (e *Engine) CollectMetrics() (*metrics.Snapshot, error) {
	logger := logging.GetLogger()

	mem, err := e.memory.MemoryMetrics()
	if err != nil {
		return nil, fmt.Errorf("%w: memory provider: %v", metrics.ErrUnavailable, err)
	}

	sched, err := e.scheduler.SchedulerMetrics()
	if err != nil {
		return nil, fmt.Errorf("%w: scheduler provider: %v", metrics.ErrUnavailable, err)
	}

	snap := &metrics.Snapshot{
		Timestamp: time.Now(),
		Memory:    mem,
		Scheduler: sched,
		Uptime:    time.Since(e.start),
	}

	if io, err := e.io.IOMetrics(); err != nil {
		e.degraded++
		logger.WithError(err).Warn("I/O metrics unavailable, continuing with zeroed fields")
	} else {
		snap.IOOperations = io.Operations
		snap.NetworkBytes = io.NetworkBytes
	}
	snap.ErrorCount = e.degraded

	return snap, nil
}

// Analyze evaluates the fixed rule set against the snapshot in priority
// order. Each rule emits at most one suggestion; the batch is capped at
// MaxSuggestions.
func (e *Engine) Analyze(snap *metrics.Snapshot) []patch.Suggestion {
	if snap == nil {
		return nil
	}

	logger := logging.GetEvolutionLogger()
	var suggestions []patch.Suggestion

	for _, r := range analysisRules {
		if len(suggestions) >= e.cfg.MaxSuggestions {
			break
		}
		s := r(snap, e.cfg.Thresholds)
		if s == nil {
			continue
		}
		suggestions = append(suggestions, *s)
		logger.WithFields(logrus.Fields{
			"suggestion_id":        s.ID,
			"confidence":           s.Confidence,
			"expected_improvement": s.ExpectedImprovement,
		}).Info(s.Description)
	}

	return suggestions
}

// SynthesizePatches converts suggestions at or above the confidence bar
// into patches, one per suggestion. The original-code backup is captured
// from the live target before any mutation; a suggestion whose category the
// synthesizer does not recognize is skipped, never fatal.
func (e *Engine) SynthesizePatches(suggestions []patch.Suggestion) []*patch.Patch {
	logger := logging.GetEvolutionLogger()
	var patches []*patch.Patch

	for _, s := range suggestions {
		if s.Confidence < e.cfg.MinConfidence {
			continue
		}

		tgt, ok := suggestionTargets[s.ID]
		if !ok {
			logger.WithField("suggestion_id", s.ID).Debug("No synthesizer for suggestion category, skipping")
			continue
		}

		payload := synthesizePayload(s)

		original, err := e.reader.ReadBytes(tgt.module, tgt.offset, uint32(len(payload)))
		if err != nil {
			logger.WithFields(logrus.Fields{
				"suggestion_id": s.ID,
				"target_module": tgt.module.String(),
			}).WithError(err).Warn("Backup capture failed, skipping patch")
			continue
		}

		p := &patch.Patch{
			ID:           e.nextPatchID,
			SuggestionID: s.ID,
			Timestamp:    time.Now(),
			TargetModule: tgt.module,
			TargetOffset: tgt.offset,
			Size:         uint32(len(payload)),
			OriginalCode: original,
			PatchCode:    payload,
		}
		e.nextPatchID++
		patches = append(patches, p)
	}

	return patches
}

// synthesizePayload emits the canned patch payload for a suggestion: a
// marker byte, the category id, and the advisory bytes, padded to the fixed
// stub size.
func synthesizePayload(s patch.Suggestion) []byte {
	payload := make([]byte, patchPayloadSize)
	for i := range payload {
		payload[i] = 0xCC
	}
	payload[0] = 0xE8
	payload[1] = byte(s.ID)
	copy(payload[2:], s.Advisory)
	return payload
}

// UpdateHistory appends one outcome entry per applied patch, tagged with the
// suggestion id that produced it. The pairing is carried on the patch itself
// so it cannot be lost between synthesis and application.
func (e *Engine) UpdateHistory(h *History, applied []*patch.Patch) {
	now := time.Now()
	for _, p := range applied {
		if p == nil || !p.Applied {
			continue
		}
		h.Append(HistoryEntry{
			Timestamp:    now,
			SuggestionID: p.SuggestionID,
			PatchID:      p.ID,
		})
	}
}

// Learn folds every not-yet-trained history entry into the owning domain
// model: EMA toward the measured improvement, pure decay when the patch was
// reverted. Each touched domain's inference count increments once per pass.
func (e *Engine) Learn(h *History) {
	entries := h.unlearned()
	if len(entries) == 0 {
		return
	}

	touched := make(map[patch.Domain]bool)
	for _, entry := range entries {
		domain, ok := suggestionDomains[entry.SuggestionID]
		if !ok {
			continue
		}
		e.registry.UpdateAccuracy(domain, entry.ActualImprovement, entry.Reverted)
		touched[domain] = true
	}

	for domain := range touched {
		e.registry.RecordInference(domain)
	}

	logging.GetEvolutionLogger().WithFields(logrus.Fields{
		"entries":         len(entries),
		"domains_touched": len(touched),
	}).Debug("Learning pass complete")
}
