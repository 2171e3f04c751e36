package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/pressbench/pressbench-core/internal/device"
	"github.com/pressbench/pressbench-core/internal/events"
	"github.com/pressbench/pressbench-core/internal/infrastructure/config"
)

// Logger defines the logging interface used by the Monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Monitor polls device links on a fixed interval.
type Monitor struct {
	registry *device.Registry
	notifier events.Notifier
	interval time.Duration
	logger   Logger

	// Shutdown coordination (stopOnce prevents double-close panics).
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a monitor. notifier and logger may be nil.
func New(registry *device.Registry, notifier events.Notifier, cfg config.MonitorConfig, logger Logger) *Monitor {
	interval := cfg.GetInterval()
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if notifier == nil {
		notifier = events.Nop{}
	}
	if logger == nil {
		logger = noopLogger{}
	}

	return &Monitor{
		registry: registry,
		notifier: notifier,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins periodic polling. Call Stop to shut down.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.pollLoop(ctx)
}

// Stop gracefully stops polling. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Monitor) pollLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.Poll()
		}
	}
}

// Poll runs one connectivity pass: reclassify dropped links, then recompute
// the aggregate readiness flag. Exported so tests and callers can force a
// check between ticks.
func (m *Monitor) Poll() {
	for _, d := range m.registry.Devices() {
		if d.Status == device.StatusDisconnected {
			continue
		}
		if d.Connected() {
			continue
		}

		m.logger.Info("link lost", "device", d.ID, "status", d.Status)
		if err := m.registry.MarkDisconnected(d.ID, device.LinkLost); err != nil {
			m.logger.Warn("reclassification failed", "device", d.ID, "error", err)
			continue
		}
		m.notifier.DeviceStatusChanged(d.ID, device.StatusDisconnected, "link lost")
		m.notifier.ConnectivityLost(d.ID)
	}

	m.recomputeBatchReady()
}

// recomputeBatchReady updates the registry flag and publishes changes.
// The batch is ready when every managed device finished setup and its link
// is up; an empty batch is never ready.
func (m *Monitor) recomputeBatchReady() {
	count := m.registry.Count()
	ready := count > 0 && len(m.registry.Ready()) == count

	if ready == m.registry.BatchReady() {
		return
	}

	m.registry.SetBatchReady(ready)
	m.notifier.BatchReady(ready)
	m.logger.Info("batch readiness changed", "ready", ready)
}
