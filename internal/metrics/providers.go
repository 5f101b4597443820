package metrics

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// HostMemoryProvider samples the host memory subsystem via gopsutil, with
// fragmentation estimated from /proc/buddyinfo where available.
type HostMemoryProvider struct {
	mu        sync.Mutex
	peakUsage uint64
}

func NewHostMemoryProvider() *HostMemoryProvider {
	return &HostMemoryProvider{}
}

func (p *HostMemoryProvider) MemoryMetrics() (MemoryMetrics, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return MemoryMetrics{}, fmt.Errorf("virtual memory stats: %w", err)
	}
	sw, err := mem.SwapMemory()
	if err != nil {
		return MemoryMetrics{}, fmt.Errorf("swap memory stats: %w", err)
	}

	p.mu.Lock()
	if vm.Used > p.peakUsage {
		p.peakUsage = vm.Used
	}
	peak := p.peakUsage
	p.mu.Unlock()

	m := MemoryMetrics{
		TotalPhysical:      vm.Total,
		FreePhysical:       vm.Available,
		TotalVirtual:       vm.Total + sw.Total,
		FreeVirtual:        vm.Available + sw.Free,
		PageFaultCount:     readProcCounter("/proc/vmstat", "pgfault"),
		AllocationCount:    readProcCounter("/proc/vmstat", "pgalloc_normal"),
		FreeCount:          readProcCounter("/proc/vmstat", "pgfree"),
		PeakUsage:          peak,
		FragmentationRatio: buddyinfoFragmentation("/proc/buddyinfo"),
	}
	return m, nil
}

// HostSchedulerProvider samples CPU scheduling behavior. Utilization is
// computed from the delta of cumulative CPU times between calls, so the
// first sample reports zero utilization.
type HostSchedulerProvider struct {
	mu        sync.Mutex
	prevTotal float64
	prevIdle  float64
	hasPrev   bool
}

func NewHostSchedulerProvider() *HostSchedulerProvider {
	return &HostSchedulerProvider{}
}

func (p *HostSchedulerProvider) SchedulerMetrics() (SchedulerMetrics, error) {
	times, err := cpu.Times(false)
	if err != nil {
		return SchedulerMetrics{}, fmt.Errorf("cpu times: %w", err)
	}
	if len(times) == 0 {
		return SchedulerMetrics{}, fmt.Errorf("cpu times: no aggregate sample")
	}
	t := times[0]
	total := t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
	idle := t.Idle + t.Iowait

	p.mu.Lock()
	var utilization float64
	if p.hasPrev {
		dTotal := total - p.prevTotal
		dIdle := idle - p.prevIdle
		if dTotal > 0 {
			utilization = (dTotal - dIdle) / dTotal
			if utilization < 0 {
				utilization = 0
			}
			if utilization > 1 {
				utilization = 1
			}
		}
	}
	p.prevTotal = total
	p.prevIdle = idle
	p.hasPrev = true
	p.mu.Unlock()

	m := SchedulerMetrics{
		TotalCPUTime:       uint64(total * 1000),
		IdleCPUTime:        uint64(idle * 1000),
		ContextSwitchCount: readProcCounter("/proc/stat", "ctxt"),
		CPUUtilization:     utilization,
	}

	// Runnable backlog beyond the core count is the best host-level stand-in
	// for queueing delay: every excess runnable task waits a full slice.
	if avg, err := load.Avg(); err == nil {
		ncpu := float64(runtime.NumCPU())
		backlog := avg.Load1/ncpu - 1
		if backlog > 0 {
			m.AverageWaitTime = backlog * 100
			m.AverageTurnaroundTime = backlog * 150
			m.AverageResponseTime = backlog * 50
		}
	}

	return m, nil
}

// HostIOProvider samples disk operation counts and network byte totals.
// It is a non-critical source; callers degrade to zeroed fields on error.
type HostIOProvider struct{}

func NewHostIOProvider() *HostIOProvider {
	return &HostIOProvider{}
}

func (p *HostIOProvider) IOMetrics() (IOMetrics, error) {
	var m IOMetrics

	counters, err := disk.IOCounters()
	if err != nil {
		return IOMetrics{}, fmt.Errorf("disk io counters: %w", err)
	}
	for _, c := range counters {
		m.Operations += c.ReadCount + c.WriteCount
	}

	netCounters, err := net.IOCounters(false)
	if err != nil {
		return IOMetrics{}, fmt.Errorf("net io counters: %w", err)
	}
	for _, c := range netCounters {
		m.NetworkBytes += c.BytesSent + c.BytesRecv
	}

	return m, nil
}

// readProcCounter returns the value of a single "key value" line from a
// /proc file, or zero when the file or key is absent (non-Linux hosts).
func readProcCounter(path, key string) uint64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == key {
			if v, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				return v
			}
			return 0
		}
	}
	return 0
}

// buddyinfoFragmentation estimates external fragmentation as the share of
// free pages stranded in low-order (0..2) blocks. Returns 0 when the file
// is unreadable.
func buddyinfoFragmentation(path string) float64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	var lowPages, totalPages float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// Line format: Node 0, zone   Normal   <order-0> <order-1> ...
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "Node" {
			continue
		}
		for order, field := range fields[4:] {
			count, err := strconv.ParseFloat(field, 64)
			if err != nil {
				continue
			}
			pages := count * float64(uint64(1)<<uint(order))
			totalPages += pages
			if order <= 2 {
				lowPages += pages
			}
		}
	}
	if totalPages == 0 {
		return 0
	}
	return lowPages / totalPages
}
