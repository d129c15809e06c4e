package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	processCPU = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_cpu_percent",
		Help:      "CPU usage of the changepipe process (per core, may exceed 100)",
	})

	processRSS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_rss_bytes",
		Help:      "Resident memory of the changepipe process",
	})
)

func init() {
	Registry.MustRegister(processCPU, processRSS)
}

// SystemMetrics holds one snapshot of host and process usage
type SystemMetrics struct {
	CPUPercent        float64 // system-wide, 0-100
	ProcessCPUPercent float64
	ProcessRSSBytes   uint64
	MemoryUsedBytes   uint64
	MemoryPercent     float64
	Goroutines        int
	Timestamp         time.Time
}

// Collector periodically samples system metrics and logs them
type Collector struct {
	interval    time.Duration
	logger      *zap.Logger
	proc        *process.Process
	mu          sync.RWMutex
	lastMetrics *SystemMetrics
}

// NewCollector creates a new metrics collector
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}

	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
	}
}

// Start samples until ctx is cancelled
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// GetMetrics returns the last snapshot, or nil before the first sample
func (c *Collector) GetMetrics() *SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMetrics
}

func (c *Collector) collect() {
	m := c.sample()

	c.mu.Lock()
	c.lastMetrics = m
	c.mu.Unlock()

	processCPU.Set(m.ProcessCPUPercent)
	processRSS.Set(float64(m.ProcessRSSBytes))

	c.logger.Info("System metrics",
		zap.Float64("sys_cpu", m.CPUPercent),
		zap.Float64("proc_cpu", m.ProcessCPUPercent),
		zap.String("proc_rss", formatBytes(m.ProcessRSSBytes)),
		zap.Float64("mem_pct", m.MemoryPercent),
		zap.String("mem_used", formatBytes(m.MemoryUsedBytes)),
		zap.Int("goroutines", m.Goroutines),
	)
}

func (c *Collector) sample() *SystemMetrics {
	m := &SystemMetrics{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		m.CPUPercent = pct[0]
	}

	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			m.ProcessCPUPercent = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil {
			m.ProcessRSSBytes = info.RSS
		}
	}

	if vmem, err := mem.VirtualMemory(); err == nil {
		m.MemoryPercent = vmem.UsedPercent
		m.MemoryUsedBytes = vmem.Used
	}

	return m
}

// formatBytes renders a byte count with one decimal place
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
