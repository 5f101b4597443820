package metrics

import (
	"errors"
	"time"
)

// ErrUnavailable is returned when a critical metrics provider (memory or
// scheduler) fails. The current optimization cycle aborts before any patch
// is applied.
var ErrUnavailable = errors.New("metrics unavailable")

// MemoryMetrics aggregates the memory subsystem counters for one sample.
type MemoryMetrics struct {
	TotalPhysical      uint64  `json:"total_physical"`
	FreePhysical       uint64  `json:"free_physical"`
	TotalVirtual       uint64  `json:"total_virtual"`
	FreeVirtual        uint64  `json:"free_virtual"`
	PageFaultCount     uint64  `json:"page_fault_count"`
	AllocationCount    uint64  `json:"allocation_count"`
	FreeCount          uint64  `json:"free_count"`
	PeakUsage          uint64  `json:"peak_usage"`
	FragmentationRatio float64 `json:"fragmentation_ratio"` // 0..1
}

// SchedulerMetrics aggregates CPU scheduling counters for one sample.
type SchedulerMetrics struct {
	TotalCPUTime          uint64  `json:"total_cpu_time_ms"`
	IdleCPUTime           uint64  `json:"idle_cpu_time_ms"`
	ContextSwitchCount    uint64  `json:"context_switch_count"`
	PreemptionCount       uint64  `json:"preemption_count"`
	CPUUtilization        float64 `json:"cpu_utilization"` // 0..1
	AverageWaitTime       float64 `json:"average_wait_time_ms"`
	AverageTurnaroundTime float64 `json:"average_turnaround_time_ms"`
	AverageResponseTime   float64 `json:"average_response_time_ms"`
	PriorityInversions    uint64  `json:"priority_inversions"`
}

// Snapshot is an immutable, timestamped aggregate of one monitoring cycle.
// It is owned exclusively by the cycle that collected it; the controller
// retains the previous one as last_metrics for delta comparison only.
type Snapshot struct {
	Timestamp    time.Time        `json:"timestamp"`
	Memory       MemoryMetrics    `json:"memory"`
	Scheduler    SchedulerMetrics `json:"scheduler"`
	IOOperations uint64           `json:"io_operations"`
	NetworkBytes uint64           `json:"network_bytes"`
	PowerUsage   float64          `json:"power_usage_watts"`
	ErrorCount   uint64           `json:"error_count"`
	Uptime       time.Duration    `json:"uptime"`
}

// MemoryProvider and SchedulerProvider are critical sources: a failure
// propagates as ErrUnavailable. IOProvider is non-critical: a failure
// degrades the snapshot fields to zero.
type MemoryProvider interface {
	MemoryMetrics() (MemoryMetrics, error)
}

type SchedulerProvider interface {
	SchedulerMetrics() (SchedulerMetrics, error)
}

type IOMetrics struct {
	Operations   uint64
	NetworkBytes uint64
}

type IOProvider interface {
	IOMetrics() (IOMetrics, error)
}
