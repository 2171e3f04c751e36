package calibration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pressbench/pressbench-core/internal/device"
	"github.com/pressbench/pressbench-core/internal/events"
	"github.com/pressbench/pressbench-core/internal/infrastructure/config"
	"github.com/pressbench/pressbench-core/internal/protocol"
	"github.com/pressbench/pressbench-core/internal/reference"
	"github.com/pressbench/pressbench-core/internal/transport"
)

// Logger defines the logging interface used by the Sequencer.
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

// Pauser lets the sequencer suspend a concurrently running setup queue
// around forced device removals. The setup Orchestrator satisfies it.
type Pauser interface {
	Pause()
	Resume()
}

// phase is one calibration step applied to every surviving device.
type phase struct {
	name    string
	prepare func(ctx context.Context) error
	request func(target int32) protocol.Request
}

// dropped queues one device for removal at the end of a phase.
type dropped struct {
	id     string
	reason string
}

// Sequencer runs three-point calibration over the registry's ready devices.
type Sequencer struct {
	registry   *device.Registry
	controller reference.Controller
	notifier   events.Notifier
	cfg        config.CalibrationConfig
	logger     Logger
	pauser     Pauser

	mu     sync.Mutex
	active bool
}

// New creates a sequencer. notifier, logger and pauser may be nil.
func New(registry *device.Registry, controller reference.Controller, notifier events.Notifier, cfg config.CalibrationConfig, logger Logger) *Sequencer {
	if notifier == nil {
		notifier = events.Nop{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sequencer{
		registry:   registry,
		controller: controller,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
	}
}

// SetPauser wires the setup queue suspension used around forced removals.
func (s *Sequencer) SetPauser(p Pauser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauser = p
}

// Running reports whether a calibration run is in flight.
func (s *Sequencer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stop requests a cooperative stop. The run exits at its next check of the
// active flag; in-flight device commands finish their timeout first.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// isActive reads the run flag.
func (s *Sequencer) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// deactivate clears the run flag, returning whether it was still set.
// Fatal aborts go through here so the flag flips atomically with the abort
// decision.
func (s *Sequencer) deactivate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.active
	s.active = false
	return was
}

// Run executes Zero → Low → High and marks survivors calibrated.
// At most one run may be active.
func (s *Sequencer) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrRunInProgress
	}
	s.active = true
	s.mu.Unlock()
	defer s.deactivate()

	ready := s.registry.Ready()
	if len(ready) == 0 {
		return ErrNoDevices
	}

	runID := uuid.NewString()
	target := int32(s.cfg.SweepPressure)

	s.logger.Info("calibration run started", "run", runID, "devices", len(ready), "sweep_pressure", s.cfg.SweepPressure)
	s.notifier.CalibrationStarted(runID, len(ready))

	for _, d := range ready {
		s.setStatus(d.ID, device.StatusCalibrating, "queued")
	}

	phases := []phase{
		{
			name: "zero",
			request: func(int32) protocol.Request {
				return protocol.Request{Command: protocol.CmdReadZeroOffset}
			},
		},
		{
			name: "low",
			request: func(int32) protocol.Request {
				return protocol.Request{Command: protocol.CmdWriteLowerCal, Value: 0}
			},
		},
		{
			name:    "high",
			prepare: func(ctx context.Context) error { return s.driveReference(ctx) },
			request: func(target int32) protocol.Request {
				return protocol.Request{Command: protocol.CmdWriteUpperCal, Value: target}
			},
		},
	}

	for i, p := range phases {
		if !s.isActive() {
			return s.stopRun(runID, "stopped by operator")
		}

		if i > 0 {
			// Device-side flash writes need time to settle between phases.
			if err := sleepCtx(ctx, s.cfg.GetInterPhaseDelay()); err != nil {
				return s.stopRun(runID, "cancelled")
			}
		}

		if err := s.runPhase(ctx, runID, p, target); err != nil {
			return err
		}
	}

	calibrated := 0
	for _, d := range s.registry.Sessionable() {
		s.registry.MarkCalibrated(d.ID)
		s.setStatus(d.ID, device.StatusReady, "calibrated")
		calibrated++
	}

	s.logger.Info("calibration run completed", "run", runID, "calibrated", calibrated)
	s.notifier.CalibrationCompleted(runID, calibrated)
	return nil
}

// runPhase applies one phase to every surviving device, then removes the
// devices that failed or disconnected during it.
func (s *Sequencer) runPhase(ctx context.Context, runID string, p phase, target int32) error {
	s.logger.Info("calibration phase started", "run", runID, "phase", p.name)

	if p.prepare != nil {
		if err := p.prepare(ctx); err != nil {
			return s.abort(runID, fmt.Errorf("phase %s: %w", p.name, err))
		}
	}

	var drops []dropped

	for i, d := range s.registry.Sessionable() {
		if !s.isActive() {
			return s.stopRun(runID, "stopped by operator")
		}

		if i > 0 {
			if err := sleepCtx(ctx, s.cfg.GetInterDeviceDelay()); err != nil {
				return s.stopRun(runID, "cancelled")
			}
		}

		// Status may have changed underneath us since the snapshot; the
		// monitor is allowed to reclassify from the side.
		current, err := s.registry.Get(d.ID)
		if err != nil || !current.Sessionable() || !current.Connected() {
			drops = append(drops, dropped{id: d.ID, reason: "disconnected"})
			continue
		}

		if err := s.commandDevice(ctx, current, p.request(target)); err != nil {
			s.logger.Warn("calibration command failed",
				"run", runID,
				"phase", p.name,
				"device", current.Label(),
				"error", err,
			)
			s.registry.SetLastError(d.ID, fmt.Sprintf("%s phase: %v", p.name, err))
			drops = append(drops, dropped{id: d.ID, reason: err.Error()})
		}
	}

	s.removeDropped(runID, p.name, drops)

	if len(s.registry.Sessionable()) == 0 {
		s.deactivate()
		s.logger.Error("calibration run fatal", "run", runID, "reason", "no devices remaining")
		s.notifier.CalibrationStopped(runID, "no devices remaining")
		return ErrNoDevicesRemaining
	}

	return nil
}

// driveReference brings the shared reference to the sweep pressure before
// any upper-calibration command is issued.
func (s *Sequencer) driveReference(ctx context.Context) error {
	if err := s.controller.EnsurePrerequisites(ctx); err != nil {
		return err
	}
	if err := s.controller.SetPressure(ctx, s.cfg.SweepPressure); err != nil {
		return err
	}
	return s.controller.WaitUntilAtTarget(ctx)
}

// commandDevice runs one command exchange with retries. A disconnect
// short-circuits the retry loop; a dead link will not answer a retry.
func (s *Sequencer) commandDevice(ctx context.Context, d device.Device, req protocol.Request) error {
	var lastErr error

	for attempt := 1; attempt <= s.cfg.CommandRetries; attempt++ {
		lastErr = s.exchange(ctx, d, req)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, transport.ErrDisconnected) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", req.Command, s.cfg.CommandRetries, lastErr)
}

// exchange writes one request to the control endpoint and decodes the
// response read back from it.
func (s *Sequencer) exchange(ctx context.Context, d device.Device, req protocol.Request) error {
	if d.Endpoints == nil || d.Endpoints.Control == nil {
		return transport.ErrEndpointNotFound
	}

	data, err := req.Marshal()
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.GetCommandTimeout())
	defer cancel()

	if err := d.Link.Write(cctx, d.Endpoints.Control, data); err != nil {
		return fmt.Errorf("writing %s to %s: %w", req.Command, d.Label(), err)
	}

	raw, err := d.Link.Read(cctx, d.Endpoints.Control)
	if err != nil {
		return fmt.Errorf("reading %s response from %s: %w", req.Command, d.Label(), err)
	}

	if _, err := protocol.DecodeResponse(req.Command, raw); err != nil {
		return fmt.Errorf("decoding %s response from %s: %w", req.Command, d.Label(), err)
	}

	return nil
}

// removeDropped excises the phase's casualties through the same removal
// path as a manual disconnect and reports them once, consolidated.
func (s *Sequencer) removeDropped(runID, phaseName string, drops []dropped) {
	if len(drops) == 0 {
		return
	}

	if s.pauser != nil {
		s.pauser.Pause()
		defer s.pauser.Resume()
	}

	ids := make([]string, 0, len(drops))
	reason := drops[0].reason
	for _, drop := range drops {
		s.setStatus(drop.id, device.StatusFailed, fmt.Sprintf("dropped during %s phase", phaseName))
		if err := s.registry.Remove(drop.id); err != nil {
			s.logger.Warn("removal failed", "device", drop.id, "error", err)
			continue
		}
		ids = append(ids, drop.id)
	}

	s.logger.Info("devices dropped from calibration",
		"run", runID,
		"phase", phaseName,
		"count", len(ids),
	)
	s.notifier.DevicesDropped(runID, phaseName, ids, reason)
}

// abort is the batch-fatal path: the active flag flips atomically with the
// abort decision, and every surviving device is rolled back to a
// reviewable failed state.
func (s *Sequencer) abort(runID string, cause error) error {
	s.deactivate()

	for _, d := range s.registry.Devices() {
		if d.Status == device.StatusCalibrating {
			s.setStatus(d.ID, device.StatusFailed, "calibration aborted")
		}
	}

	s.logger.Error("calibration run aborted", "run", runID, "error", cause)
	s.notifier.CalibrationStopped(runID, cause.Error())
	return cause
}

// stopRun handles an operator stop: remaining devices are reset to a
// reviewable state rather than left mid-transition.
func (s *Sequencer) stopRun(runID, reason string) error {
	for _, d := range s.registry.Devices() {
		if d.Status == device.StatusCalibrating {
			s.setStatus(d.ID, device.StatusFailed, "calibration stopped")
		}
	}

	s.logger.Info("calibration run stopped", "run", runID, "reason", reason)
	s.notifier.CalibrationStopped(runID, reason)
	return fmt.Errorf("%w: %s", ErrStopped, reason)
}

func (s *Sequencer) setStatus(id string, status device.Status, stage string) {
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
