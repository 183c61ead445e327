// Package sensor watches disk and memory usage and raises alerts the upload
// path checks before accepting new data.
package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"clipshare/pkg/config"
	"clipshare/pkg/state/logger"
	"clipshare/pkg/timeutil"
)

// Usage is one reading, in percent.
type Usage struct {
	DiskPct float64
	MemPct  float64
}

// Sampler takes a reading.
type Sampler func(ctx context.Context) (Usage, error)

// HostSampler reads disk usage of the filesystem holding path and system
// memory usage.
func HostSampler(path string) Sampler {
	return func(ctx context.Context) (Usage, error) {
		du, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return Usage{}, err
		}
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return Usage{}, err
		}
		return Usage{DiskPct: du.UsedPercent, MemPct: vm.UsedPercent}, nil
	}
}

// monitor config
type MonitorConfig struct {
	PollInterval   time.Duration
	DiskHighPct    int
	DiskLowPct     int
	MemHighPct     int
	RecoveryWindow time.Duration
}

// FromConfig converts the sensor section of the service config.
func FromConfig(cfg config.SensorConfig) MonitorConfig {
	m := cfg.Monitor
	return MonitorConfig{
		PollInterval:   m.PollInterval.Duration(),
		DiskHighPct:    m.DiskHighPct,
		DiskLowPct:     m.DiskLowPct,
		MemHighPct:     m.MemHighPct,
		RecoveryWindow: m.RecoveryWindow.Duration(),
	}
}

type Sensor struct {
	config   MonitorConfig
	sample   Sampler
	stopCh   chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	last      Usage
	diskAlert bool
	memAlert  bool
	// last time usage was seen above the high mark
	lastDiskHigh time.Time
	lastMemHigh  time.Time
}

func NewSensor(config MonitorConfig, sample Sampler) *Sensor {
	return &Sensor{config: config, sample: sample, stopCh: make(chan struct{})}
}

func (s *Sensor) Start() {
	s.Check(context.Background())
	go s.run()
}

func (s *Sensor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Sensor) run() {
	interval := s.config.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Check(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// DiskAlert reports whether disk usage is above the high mark and has not
// yet recovered.
func (s *Sensor) DiskAlert() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diskAlert
}

// MemAlert is DiskAlert for memory.
func (s *Sensor) MemAlert() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memAlert
}

// Last returns the most recent reading.
func (s *Sensor) Last() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Check takes one reading and updates the alerts. An alert clears only once
// usage stayed below the low mark for the recovery window.
func (s *Sensor) Check(ctx context.Context) {
	u, err := s.sample(ctx)
	if err != nil {
		logger.Error("sensor_sample_failed", "error", err)
		return
	}
	now := timeutil.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = u
	usageGauge.WithLabelValues("disk").Set(u.DiskPct)
	usageGauge.WithLabelValues("memory").Set(u.MemPct)

	switch {
	case u.DiskPct > float64(s.config.DiskHighPct):
		s.lastDiskHigh = now
		if !s.diskAlert {
			logger.Warn("disk_usage_high", "usage_pct", u.DiskPct, "threshold", s.config.DiskHighPct)
			s.diskAlert = true
		}
	case s.diskAlert && u.DiskPct < float64(s.config.DiskLowPct):
		if now.Sub(s.lastDiskHigh) >= s.config.RecoveryWindow {
			logger.Info("disk_usage_recovered", "usage_pct", u.DiskPct, "threshold", s.config.DiskLowPct)
			s.diskAlert = false
		}
	}

	switch {
	case u.MemPct > float64(s.config.MemHighPct):
		s.lastMemHigh = now
		if !s.memAlert {
			logger.Warn("memory_usage_high", "usage_pct", u.MemPct, "threshold", s.config.MemHighPct)
			s.memAlert = true
		}
	case s.memAlert:
		if now.Sub(s.lastMemHigh) >= s.config.RecoveryWindow {
			logger.Info("memory_usage_recovered", "usage_pct", u.MemPct, "threshold", s.config.MemHighPct)
			s.memAlert = false
		}
	}
	alertGauge.WithLabelValues("disk").Set(boolGauge(s.diskAlert))
	alertGauge.WithLabelValues("memory").Set(boolGauge(s.memAlert))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
