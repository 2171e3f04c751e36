package setup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pressbench/pressbench-core/internal/device"
	"github.com/pressbench/pressbench-core/internal/events"
	"github.com/pressbench/pressbench-core/internal/infrastructure/config"
	"github.com/pressbench/pressbench-core/internal/protocol"
	"github.com/pressbench/pressbench-core/internal/transport"
)

// Logger defines the logging interface used by the Orchestrator.
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

// ReadingSink receives every decoded live pressure sample, in addition to
// the registry. The InfluxDB client satisfies it.
type ReadingSink interface {
	RecordLiveReading(deviceID string, pressure float64, at time.Time)
}

// Orchestrator drives the per-device setup state machine over the registry's
// queue.
type Orchestrator struct {
	registry *device.Registry
	central  transport.Central
	notifier events.Notifier
	cfg      config.SetupConfig
	logger   Logger
	sink     ReadingSink

	mu      sync.Mutex
	running bool
	paused  bool
	resume  chan struct{}
}

// New creates an orchestrator. notifier and logger may be nil.
func New(registry *device.Registry, central transport.Central, notifier events.Notifier, cfg config.SetupConfig, logger Logger) *Orchestrator {
	if notifier == nil {
		notifier = events.Nop{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Orchestrator{
		registry: registry,
		central:  central,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetReadingSink forwards live samples to an additional consumer, such as
// the time-series recorder. Must be set before Run.
func (o *Orchestrator) SetReadingSink(sink ReadingSink) {
	o.sink = sink
}

// Running reports whether a setup run is in flight.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Pause suspends queue processing after the current device resolves.
// Used while a device is being forcibly removed mid-run.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.paused {
		return
	}
	o.paused = true
	o.resume = make(chan struct{})
	o.logger.Info("setup queue paused")
}

// Resume continues queue processing from the next unresolved position.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.paused {
		return
	}
	o.paused = false
	close(o.resume)
	o.resume = nil
	o.logger.Info("setup queue resumed")
}

// Run registers the batch and processes the setup queue sequentially until
// every device is ready or failed. At most one run may be active.
func (o *Orchestrator) Run(ctx context.Context, batch []device.Seed) error {
	if len(batch) == 0 {
		return ErrEmptyBatch
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrRunInProgress
	}
	o.running = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	o.registry.RegisterBatch(batch)
	o.logger.Info("setup run started", "devices", len(batch))

	first := true
	for {
		if err := o.waitIfPaused(ctx); err != nil {
			return err
		}

		id, ok := o.registry.NextInQueue()
		if !ok {
			break
		}

		// Pacing delay between devices, not before the first.
		if !first {
			if err := sleepCtx(ctx, o.cfg.GetInterDeviceDelay()); err != nil {
				return err
			}
		}
		first = false

		o.setupDevice(ctx, id)

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	o.logger.Info("setup run finished",
		"ready", len(o.registry.Ready()),
		"total", o.registry.Count(),
	)
	return nil
}

// setupDevice runs the whole-device retry loop. A device that fails every
// attempt is marked failed but stays in the batch.
func (o *Orchestrator) setupDevice(ctx context.Context, id string) {
	var lastErr error

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			o.registry.IncrementRetry(id)
			o.notifier.SetupNotice(id, fmt.Sprintf("retrying setup (attempt %d of %d)", attempt, o.cfg.MaxAttempts))
			if err := sleepCtx(ctx, o.cfg.GetRetryDelay()); err != nil {
				lastErr = err
				break
			}
		}

		lastErr = o.attempt(ctx, id)
		if lastErr == nil {
			o.registry.ResetRetries(id)
			return
		}

		o.logger.Warn("setup attempt failed",
			"device", id,
			"attempt", attempt,
			"error", lastErr,
		)

		// A dead link will not come back between attempts; stop retrying.
		if errors.Is(lastErr, transport.ErrDisconnected) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	if !errors.Is(lastErr, transport.ErrDisconnected) && ctx.Err() == nil {
		lastErr = fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
	}

	msg := fmt.Sprintf("setup failed: %v", lastErr)
	o.registry.SetLastError(id, msg)
	o.setStatus(id, device.StatusFailed, "setup failed")
	o.notifier.SetupNotice(id, msg)
	o.logger.Error("device setup failed", "device", id, "error", lastErr)
}

// attempt walks one pass of the state machine for one device.
func (o *Orchestrator) attempt(ctx context.Context, id string) error {
	dev, err := o.registry.Get(id)
	if err != nil {
		return err
	}

	link, err := o.connect(ctx, id, dev.Link)
	if err != nil {
		return fmt.Errorf("connecting %s: %w", id, err)
	}

	endpoints, err := o.discover(ctx, id, link)
	if err != nil {
		return fmt.Errorf("discovering endpoints on %s: %w", id, err)
	}

	// Metadata is cosmetic; failures are logged and setup continues.
	o.readMetadata(ctx, id, link, endpoints)

	if err := o.subscribe(ctx, id, link, endpoints); err != nil {
		return fmt.Errorf("subscribing to %s: %w", id, err)
	}

	o.setStatus(id, device.StatusReady, "setup complete")
	o.notifier.SetupNotice(id, "device ready")
	return nil
}

// connect ensures the device's link is up, acquiring a fresh handle when
// none exists. An already-connected link is success, not an error.
func (o *Orchestrator) connect(ctx context.Context, id string, link transport.Link) (transport.Link, error) {
	o.setStatus(id, device.StatusConnecting, "connecting")

	if link != nil && link.IsConnected() {
		return link, nil
	}

	if link == nil {
		fresh, err := o.central.Link(ctx, id)
		if err != nil {
			return nil, err
		}
		link = fresh
		if err := o.registry.SetLink(id, link); err != nil {
			return nil, err
		}
	}

	cctx, cancel := context.WithTimeout(ctx, o.cfg.GetConnectTimeout())
	defer cancel()

	err := link.Connect(cctx)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrAlreadyConnected):
		// Idempotent connect: the link came up underneath us.
	case errors.Is(err, context.DeadlineExceeded):
		return nil, transport.ErrConnectionTimeout
	default:
		return nil, err
	}

	return link, nil
}

func (o *Orchestrator) discover(ctx context.Context, id string, link transport.Link) (*transport.Endpoints, error) {
	o.setStatus(id, device.StatusDiscovering, "discovering endpoints")

	dctx, cancel := context.WithTimeout(ctx, o.cfg.GetDiscoveryTimeout())
	defer cancel()

	endpoints, err := link.Discover(dctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, transport.ErrDiscoveryTimeout
		}
		return nil, err
	}

	if err := o.registry.SetEndpoints(id, endpoints); err != nil {
		return nil, err
	}
	return endpoints, nil
}

// readMetadata fetches the descriptive fields best-effort, a few tries per
// field with a short delay between tries.
func (o *Orchestrator) readMetadata(ctx context.Context, id string, link transport.Link, eps *transport.Endpoints) {
	o.setStatus(id, device.StatusDiscovering, "reading metadata")

	meta := device.Metadata{
		DisplayName:     o.readField(ctx, link, eps.DeviceName),
		FirmwareVersion: o.readField(ctx, link, eps.FirmwareVersion),
		SerialNumber:    o.readField(ctx, link, eps.SerialNumber),
		ModelNumber:     o.readField(ctx, link, eps.ModelNumber),
	}

	if err := o.registry.SetMetadata(id, meta); err != nil {
		o.logger.Warn("storing metadata failed", "device", id, "error", err)
	}
}

func (o *Orchestrator) readField(ctx context.Context, link transport.Link, ep transport.Endpoint) string {
	if ep == nil {
		return ""
	}

	var lastErr error
	for try := 0; try < o.cfg.MetadataRetries; try++ {
		if try > 0 {
			if err := sleepCtx(ctx, o.cfg.GetMetadataRetryDelay()); err != nil {
				return ""
			}
		}

		data, err := link.Read(ctx, ep)
		if err == nil {
			return strings.TrimRight(string(data), "\x00")
		}
		lastErr = err
	}

	o.logger.Warn("metadata read failed",
		"device", link.DeviceID(),
		"endpoint", ep.ID(),
		"error", lastErr,
	)
	return ""
}

// subscribe attaches the live stream handler and registers its teardown.
func (o *Orchestrator) subscribe(ctx context.Context, id string, link transport.Link, eps *transport.Endpoints) error {
	o.setStatus(id, device.StatusSubscribing, "subscribing to stream")

	sctx, cancel := context.WithTimeout(ctx, o.cfg.GetSubscribeTimeout())
	defer cancel()

	teardown, err := link.Subscribe(sctx, eps.Stream, func(payload []byte) {
		pressure, err := protocol.DecodeSample(payload)
		if err != nil {
			o.logger.Warn("dropping malformed sample", "device", id, "error", err)
			return
		}
		at := time.Now()
		o.registry.RecordReading(id, pressure, at)
		if o.sink != nil {
			o.sink.RecordLiveReading(id, pressure, at)
		}
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return transport.ErrSubscriptionTimeout
		}
		return err
	}

	return o.registry.SetSubscription(id, teardown)
}

// setStatus records the transition and publishes it.
func (o *Orchestrator) setStatus(id string, status device.Status, stage string) {
	if err := o.registry.SetStatus(id, status, stage); err != nil {
		o.logger.Warn("status update failed", "device", id, "error", err)
		return
	}
	o.notifier.DeviceStatusChanged(id, status, stage)
}

// waitIfPaused blocks until the queue is resumed or the context ends.
func (o *Orchestrator) waitIfPaused(ctx context.Context) error {
	o.mu.Lock()
	resume := o.resume
	paused := o.paused
	o.mu.Unlock()

	if !paused {
		return nil
	}

	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
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
