package process

import (
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"sync/atomic"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/Bowen577/KNMI-EPW-Generator/internal/observability"
)

// Pressure thresholds as a percentage of the soft limit.
const (
	pressureWarnPercent     = 80
	pressureCriticalPercent = 90
)

// MemoryGovernor samples the process resident set size during streaming
// transforms and reclaims memory when usage climbs toward the soft limit.
// Safe for concurrent use.
type MemoryGovernor struct {
	proc        *gopsproc.Process // nil when RSS sampling is unavailable
	softLimitMB float64
	logger      *slog.Logger
	metrics     *observability.Metrics

	peakMB atomic.Int64
}

// NewMemoryGovernor builds a governor with the given soft limit in MB.
// When the platform offers no RSS introspection the governor degrades to a
// no-op sampler.
func NewMemoryGovernor(softLimitMB int, logger *slog.Logger, metrics *observability.Metrics) *MemoryGovernor {
	g := &MemoryGovernor{
		softLimitMB: float64(softLimitMB),
		logger:      logger,
		metrics:     metrics,
	}
	proc, err := gopsproc.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn("memory sampling unavailable", "error", err)
		return g
	}
	g.proc = proc
	return g
}

// CurrentUsageMB samples the resident set size in MB, updating the observed
// peak. Returns 0 when sampling is unavailable.
func (g *MemoryGovernor) CurrentUsageMB() float64 {
	if g.proc == nil {
		return 0
	}
	info, err := g.proc.MemoryInfo()
	if err != nil {
		return 0
	}
	mb := float64(info.RSS) / (1024 * 1024)

	for {
		old := g.peakMB.Load()
		if int64(mb) <= old || g.peakMB.CompareAndSwap(old, int64(mb)) {
			break
		}
	}
	g.metrics.MemoryPeakMB.Set(float64(g.peakMB.Load()))
	return mb
}

// CheckPressure warns when usage crosses 80% of the soft limit and forces a
// reclaim above 90%.
func (g *MemoryGovernor) CheckPressure() {
	usage := g.CurrentUsageMB()
	if usage == 0 || g.softLimitMB <= 0 {
		return
	}
	percent := usage / g.softLimitMB * 100
	switch {
	case percent > pressureCriticalPercent:
		g.logger.Warn("memory critically high, forcing reclaim",
			"usage_mb", int64(usage), "limit_mb", int64(g.softLimitMB), "percent", int64(percent))
		g.Reclaim()
	case percent > pressureWarnPercent:
		g.logger.Warn("memory usage high",
			"usage_mb", int64(usage), "limit_mb", int64(g.softLimitMB), "percent", int64(percent))
	}
}

// Reclaim runs a GC cycle and returns freed pages to the OS. Without the
// explicit FreeOSMemory the runtime keeps freed heap pages and RSS stays
// inflated between chunks.
func (g *MemoryGovernor) Reclaim() {
	runtime.GC()
	debug.FreeOSMemory()
}

// PeakMB reports the highest usage observed so far.
func (g *MemoryGovernor) PeakMB() float64 {
	return float64(g.peakMB.Load())
}
