package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/pressbench/pressbench-core/internal/transport"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Seed describes one device handed to the registry at batch registration:
// its external id and the transport handle the link layer already opened.
type Seed struct {
	ID   string
	Link transport.Link
}

// Registry is the in-memory catalogue of devices under management.
//
// All public methods are thread-safe. Reads hand out snapshots; mutation
// goes through dedicated methods so status, subscriptions and the setup
// queue stay consistent when the connectivity monitor interleaves with an
// active sequence.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	order   []string // batch order, also the setup order
	queue   SetupQueue
	subs    map[string]func() error // stream teardown per device

	batchReady bool

	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		subs:    make(map[string]func() error),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RegisterBatch replaces the whole collection with a new batch. Retry
// counters are reset, the setup queue is rebuilt in batch order, and any
// surviving subscriptions from the previous batch are torn down.
func (r *Registry) RegisterBatch(batch []Seed) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, teardown := range r.subs {
		if err := teardown(); err != nil {
			r.logger.Warn("stale subscription teardown failed", "device", id, "error", err)
		}
	}

	r.devices = make(map[string]*Device, len(batch))
	r.subs = make(map[string]func() error, len(batch))
	r.order = r.order[:0]
	r.batchReady = false

	ids := make([]string, 0, len(batch))
	for _, seed := range batch {
		r.devices[seed.ID] = &Device{
			ID:          seed.ID,
			Link:        seed.Link,
			Status:      StatusPending,
			LinkQuality: LinkUnknown,
		}
		r.order = append(r.order, seed.ID)
		ids = append(ids, seed.ID)
	}
	r.queue.Reset(ids)

	r.logger.Info("device batch registered", "count", len(batch))
}

// Get returns a snapshot of one device.
func (r *Registry) Get(id string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return snapshot(d), nil
}

// Devices returns snapshots of every device in batch order.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		if d, ok := r.devices[id]; ok {
			out = append(out, snapshot(d))
		}
	}
	return out
}

// Ready returns snapshots of devices whose setup completed and whose link is
// still up, in batch order.
func (r *Registry) Ready() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Device
	for _, id := range r.order {
		d, ok := r.devices[id]
		if !ok {
			continue
		}
		if d.Status == StatusReady && d.Link != nil && d.Link.IsConnected() {
			out = append(out, snapshot(d))
		}
	}
	return out
}

// Sessionable returns snapshots of devices the calibration/verification
// engines may currently touch, in batch order.
func (r *Registry) Sessionable() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Device
	for _, id := range r.order {
		if d, ok := r.devices[id]; ok && snapshot(d).Sessionable() {
			out = append(out, snapshot(d))
		}
	}
	return out
}

// Count returns the number of managed devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// SetStatus records a status and stage for a device. Transitions are not
// validated: any state may follow any state, so externally reset devices
// re-enter cleanly.
func (r *Registry) SetStatus(id string, status Status, stage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	d.Status = status
	d.Stage = stage
	r.logger.Debug("device status", "device", id, "status", status, "stage", stage)
	return nil
}

// SetLinkQuality records the radio condition of a device.
func (r *Registry) SetLinkQuality(id string, q LinkQuality) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	d.LinkQuality = q
	return nil
}

// SetLink installs a fresh connection handle after a reconnect. The cached
// endpoints are invalidated and any live subscription is torn down first;
// the device record itself survives, it is never recreated.
func (r *Registry) SetLink(id string, link transport.Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	r.dropSubscriptionLocked(id)
	d.Link = link
	d.Endpoints = nil
	return nil
}

// SetEndpoints caches the endpoints found by discovery.
func (r *Registry) SetEndpoints(id string, eps *transport.Endpoints) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	d.Endpoints = eps
	return nil
}

// SetMetadata stores the descriptive fields read during setup.
func (r *Registry) SetMetadata(id string, meta Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	d.Meta = meta
	return nil
}

// SetSubscription records the teardown for a device's live stream. Exactly
// one subscription exists per device; installing a new one tears down the
// previous first.
func (r *Registry) SetSubscription(id string, teardown func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.dropSubscriptionLocked(id)
	r.subs[id] = teardown
	return nil
}

// DropSubscription tears down a device's stream subscription, if any.
func (r *Registry) DropSubscription(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropSubscriptionLocked(id)
}

func (r *Registry) dropSubscriptionLocked(id string) {
	teardown, ok := r.subs[id]
	if !ok {
		return
	}
	delete(r.subs, id)
	if err := teardown(); err != nil {
		r.logger.Warn("subscription teardown failed", "device", id, "error", err)
	}
}

// RecordReading stores the most recent streamed sample, overwriting the
// previous one.
func (r *Registry) RecordReading(id string, pressure float64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return // stream raced a removal; drop the sample
	}
	d.Latest = &Reading{Pressure: pressure, At: at}
}

// LatestReading returns the most recent streamed sample for a device.
func (r *Registry) LatestReading(id string) (Reading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok || d.Latest == nil {
		return Reading{}, false
	}
	return *d.Latest, true
}

// IncrementRetry bumps and returns the device's retry counter.
func (r *Registry) IncrementRetry(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return 0
	}
	d.RetryCount++
	return d.RetryCount
}

// ResetRetries zeroes the device's retry counter.
func (r *Registry) ResetRetries(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[id]; ok {
		d.RetryCount = 0
	}
}

// SetLastError records the most recent failure message for the operator.
func (r *Registry) SetLastError(id string, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[id]; ok {
		d.LastError = msg
	}
}

// MarkCalibrated flags a device as having passed all three calibration
// steps.
func (r *Registry) MarkCalibrated(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[id]; ok {
		d.Calibrated = true
	}
}

// MarkDisconnected reclassifies a silently dropped device: status becomes
// disconnected, the stream subscription is torn down and the link quality
// recorded. The device stays in the batch; removal is a separate explicit
// operation.
func (r *Registry) MarkDisconnected(id string, quality LinkQuality) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	r.dropSubscriptionLocked(id)
	d.Status = StatusDisconnected
	d.Stage = ""
	d.LinkQuality = quality
	r.logger.Info("device reclassified as disconnected", "device", id, "link", quality)
	return nil
}

// Remove drops a device from management: its subscription is torn down, it
// leaves the setup queue (adjusting the cursor) and the record is deleted.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	r.dropSubscriptionLocked(id)
	r.queue.Remove(id)
	delete(r.devices, id)
	for i, ordered := range r.order {
		if ordered == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Info("device removed", "device", id)
	return nil
}

// NextInQueue hands out the next unresolved setup queue entry.
func (r *Registry) NextInQueue() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Next()
}

// QueueRemaining returns how many queue entries setup has not yet resolved.
func (r *Registry) QueueRemaining() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queue.Remaining()
}

// SetBatchReady records the aggregate readiness flag computed by the
// connectivity monitor.
func (r *Registry) SetBatchReady(ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batchReady = ready
}

// BatchReady reports whether every managed device is set up and connected.
func (r *Registry) BatchReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.batchReady
}

// snapshot copies a device record for handing out. The Latest pointer is
// cloned; Link and Endpoints are shared handles owned by the transport.
func snapshot(d *Device) Device {
	cpy := *d
	if d.Latest != nil {
		reading := *d.Latest
		cpy.Latest = &reading
	}
	return cpy
}
