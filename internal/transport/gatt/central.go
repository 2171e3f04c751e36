package gatt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	bt "github.com/fako1024/gatt"

	"github.com/pressbench/pressbench-core/internal/transport"
)

// Logger defines the logging interface used by the adapter.
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

// Central owns the host adapter and routes peripheral callbacks to the
// Link registered for each device id. One Central serves the whole bench.
type Central struct {
	device bt.Device
	logger Logger

	powered     chan struct{}
	poweredOnce sync.Once

	mu    sync.Mutex
	links map[string]*Link
}

// NewCentral initializes the host adapter and registers the peripheral
// handlers. It returns before the radio reports powered on; Link
// acquisition waits for that.
func NewCentral(logger Logger) (*Central, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	c := &Central{
		logger:  logger,
		powered: make(chan struct{}),
		links:   make(map[string]*Link),
	}

	device, err := bt.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("initializing host adapter: %w", err)
	}
	c.device = device

	device.Handle(
		bt.AddPeripheralDiscovered(c.onDiscovered),
		bt.AddPeripheralConnected(c.onConnected),
		bt.AddPeripheralDisconnected(c.onDisconnected),
	)

	if err := device.Init(c.onStateChanged); err != nil {
		return nil, fmt.Errorf("initializing host adapter: %w", err)
	}

	return c, nil
}

// Link returns a fresh handle for the given device id. Any previously
// issued handle for the same id is invalidated so its callbacks no longer
// route anywhere.
func (c *Central) Link(ctx context.Context, deviceID string) (transport.Link, error) {
	select {
	case <-c.powered:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for host adapter: %w", ctx.Err())
	}

	l := &Link{
		central: c,
		id:      deviceID,
		logger:  c.logger,
	}

	c.mu.Lock()
	key := strings.ToLower(deviceID)
	if old := c.links[key]; old != nil {
		old.invalidate()
	}
	c.links[key] = l
	c.mu.Unlock()

	return l, nil
}

// Close stops scanning and releases the host adapter.
func (c *Central) Close() error {
	if err := c.device.StopScanning(); err != nil {
		c.logger.Warn("failed to stop scanning on close", "error", err)
	}
	return c.device.RemoveAllServices()
}

func (c *Central) startScan() error {
	return c.device.Scan([]bt.UUID{bt.MustParseUUID(benchService)}, false)
}

func (c *Central) stopScan() error {
	return c.device.StopScanning()
}

func (c *Central) lookup(p bt.Peripheral) *Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.links[strings.ToLower(p.ID())]
}

func (c *Central) onStateChanged(d bt.Device, s bt.State) {
	c.logger.Debug("host adapter state changed", "state", s)

	switch s {
	case bt.StatePoweredOn:
		c.poweredOnce.Do(func() { close(c.powered) })
	default:
		if err := d.StopScanning(); err != nil {
			c.logger.Warn("failed to stop scanning on state change", "error", err)
		}
	}
}

func (c *Central) onDiscovered(p bt.Peripheral, _ *bt.Advertisement, _ int) {
	l := c.lookup(p)
	if l == nil || !l.wantsConnect() {
		return
	}

	c.logger.Debug("peripheral discovered", "device", p.ID(), "name", p.Name())

	if err := p.Device().StopScanning(); err != nil {
		c.logger.Warn("failed to stop scanning", "device", p.ID(), "error", err)
	}
	if err := p.Device().Connect(p); err != nil {
		l.failConnect(fmt.Errorf("connecting peripheral: %w", err))
	}
}

// onConnected parks the peripheral for as long as the link stays up. The
// stack releases the connection when this handler returns.
func (c *Central) onConnected(p bt.Peripheral, err error) {
	l := c.lookup(p)
	if l == nil {
		return
	}
	if err != nil {
		l.failConnect(fmt.Errorf("connection rejected: %w", err))
		return
	}

	c.logger.Info("peripheral connected", "device", p.ID())
	l.hold(p)
	p.Device().CancelConnection(p)
	c.logger.Info("peripheral released", "device", p.ID())
}

func (c *Central) onDisconnected(p bt.Peripheral, err error) {
	l := c.lookup(p)
	if l == nil {
		return
	}

	c.logger.Warn("peripheral disconnected", "device", p.ID(), "error", err)
	l.dropped()
}
