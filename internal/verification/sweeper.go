package verification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pressbench/pressbench-core/internal/device"
	"github.com/pressbench/pressbench-core/internal/events"
	"github.com/pressbench/pressbench-core/internal/infrastructure/config"
	"github.com/pressbench/pressbench-core/internal/reference"
)

// Logger defines the logging interface used by the Sweeper.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder persists sweep telemetry. The InfluxDB client satisfies it;
// recording is optional and best-effort.
type Recorder interface {
	RecordSweepPoint(runID, deviceID string, target, reference, reading float64, at time.Time)
	RecordCertification(runID, deviceID string, certified bool, avgDiscrepancy float64, totalReadings int)
}

type nopRecorder struct{}

func (nopRecorder) RecordSweepPoint(string, string, float64, float64, float64, time.Time) {}
func (nopRecorder) RecordCertification(string, string, bool, float64, int)                {}

// ventTimeout bounds the terminal safety vent, which must run even when
// the run's own context is already cancelled.
const ventTimeout = 60 * time.Second

// Sweeper steps the reference through the pressure ladder and certifies
// each device against it.
type Sweeper struct {
	registry   *device.Registry
	controller reference.Controller
	notifier   events.Notifier
	recorder   Recorder
	cfg        config.VerificationConfig
	logger     Logger

	mu     sync.Mutex
	active bool
}

// New creates a sweeper. notifier, recorder and logger may be nil.
func New(registry *device.Registry, controller reference.Controller, notifier events.Notifier, recorder Recorder, cfg config.VerificationConfig, logger Logger) *Sweeper {
	if notifier == nil {
		notifier = events.Nop{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sweeper{
		registry:   registry,
		controller: controller,
		notifier:   notifier,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger,
	}
}

// Running reports whether a sweep is in flight.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stop requests a cooperative cancel. No certification is computed for a
// cancelled sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

func (s *Sweeper) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Run executes one full sweep and returns the certification results in
// batch order. At most one sweep may be active.
func (s *Sweeper) Run(ctx context.Context) ([]CertificationResult, error) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.active = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	ready := s.registry.Ready()
	if len(ready) == 0 {
		return nil, ErrNoDevices
	}

	runID := uuid.NewString()
	targets := ladder(s.cfg.MaxPressure)

	s.logger.Info("verification sweep started",
		"run", runID,
		"devices", len(ready),
		"steps", len(targets),
		"max_pressure", s.cfg.MaxPressure,
	)
	s.notifier.VerificationStarted(runID, targets)

	for _, d := range ready {
		s.setStatus(d.ID, device.StatusVerifying, "sweeping")
	}

	// Terminal safety: the reference goes back to zero whatever happens.
	defer s.vent(runID)

	if err := s.controller.EnsurePrerequisites(ctx); err != nil {
		return nil, s.fail(runID, err)
	}

	points := make(map[string][]SweepDataPoint)

	for _, target := range targets {
		if !s.isActive() {
			return nil, s.cancelled(runID)
		}

		if err := s.controller.SetPressure(ctx, target); err != nil {
			return nil, s.fail(runID, fmt.Errorf("driving reference to %.1f: %w", target, err))
		}
		if err := s.controller.WaitUntilAtTarget(ctx); err != nil {
			return nil, s.fail(runID, fmt.Errorf("waiting for reference at %.1f: %w", target, err))
		}

		if err := sleepCtx(ctx, s.cfg.GetStabilizationDelay()); err != nil {
			return nil, s.cancelled(runID)
		}

		s.capture(runID, target, points)
	}

	results := s.certifyAll(runID, points)

	s.logger.Info("verification sweep completed", "run", runID, "devices", len(results))
	return results, nil
}

// capture samples every connected device's latest streamed reading at one
// ladder step. Verification trusts the live stream; it never issues a
// fresh read.
func (s *Sweeper) capture(runID string, target float64, points map[string][]SweepDataPoint) {
	for _, d := range s.registry.Sessionable() {
		if !d.Connected() {
			continue
		}

		reading, ok := s.registry.LatestReading(d.ID)
		if !ok {
			s.logger.Warn("no streamed reading to capture", "device", d.Label(), "target", target)
			continue
		}

		point := SweepDataPoint{
			DeviceID:          d.ID,
			ReferencePressure: target,
			DeviceReading:     reading.Pressure,
			Timestamp:         reading.At,
		}
		points[d.ID] = append(points[d.ID], point)

		s.notifier.VerificationReading(runID, d.ID, target, reading.Pressure, reading.At)
		s.recorder.RecordSweepPoint(runID, d.ID, target, target, reading.Pressure, reading.At)
	}
}

// certifyAll folds the captured points into per-device results, publishes
// them and restores device status.
func (s *Sweeper) certifyAll(runID string, points map[string][]SweepDataPoint) []CertificationResult {
	var results []CertificationResult

	for _, d := range s.registry.Devices() {
		if d.Status != device.StatusVerifying {
			continue
		}

		result := certify(d.ID, points[d.ID], s.cfg.Tolerance)
		results = append(results, result)

		stage := "certified"
		if !result.Certified {
			stage = "certification failed"
		}
		s.setStatus(d.ID, device.StatusReady, stage)

		s.notifier.Certification(runID, d.ID, result.Certified, result.AverageDiscrepancy, result.Reason, result.TotalReadings)
		s.recorder.RecordCertification(runID, d.ID, result.Certified, result.AverageDiscrepancy, result.TotalReadings)

		s.logger.Info("certification computed",
			"run", runID,
			"device", d.Label(),
			"certified", result.Certified,
			"avg_discrepancy", result.AverageDiscrepancy,
		)
	}

	return results
}

// cancelled handles an operator stop mid-sweep.
func (s *Sweeper) cancelled(runID string) error {
	s.Stop()
	s.restoreStatuses("verification cancelled")
	s.logger.Info("verification sweep cancelled", "run", runID)
	s.notifier.VerificationStopped(runID, "cancelled")
	return ErrStopped
}

// fail handles a reference failure mid-sweep.
func (s *Sweeper) fail(runID string, cause error) error {
	s.Stop()
	s.restoreStatuses("verification failed")
	s.logger.Error("verification sweep failed", "run", runID, "error", cause)
	s.notifier.VerificationStopped(runID, cause.Error())
	return cause
}

func (s *Sweeper) restoreStatuses(stage string) {
	for _, d := range s.registry.Devices() {
		if d.Status == device.StatusVerifying {
			s.setStatus(d.ID, device.StatusReady, stage)
		}
	}
}

// vent returns the reference to zero with its own context; the run's
// context may already be dead by the time cleanup runs.
func (s *Sweeper) vent(runID string) {
	vctx, cancel := context.WithTimeout(context.Background(), ventTimeout)
	defer cancel()

	if err := s.controller.Vent(vctx); err != nil {
		s.logger.Warn("terminal vent failed", "run", runID, "error", err)
	}
}

func (s *Sweeper) setStatus(id string, status device.Status, stage string) {
	if err := s.registry.SetStatus(id, status, stage); err != nil {
		return
	}
	s.notifier.DeviceStatusChanged(id, status, stage)
}

// sleepCtx pauses for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
