package gatt

import (
	"context"
	"fmt"
	"sync"

	bt "github.com/fako1024/gatt"

	"github.com/pressbench/pressbench-core/internal/transport"
)

// scanner is the slice of Central the link drives during connect.
type scanner interface {
	startScan() error
	stopScan() error
}

// Link is one connection to a pressure instrument. The peripheral handle
// is only valid while the connected callback parks in hold; every
// operation re-checks it under the mutex.
type Link struct {
	central scanner
	id      string
	logger  Logger

	mu         sync.Mutex
	connected  bool
	wanting    bool
	stale      bool
	attempt    chan error
	peripheral bt.Peripheral
	release    chan struct{}
}

// DeviceID returns the peer's stable identifier.
func (l *Link) DeviceID() string { return l.id }

// IsConnected reports the last known link condition.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Connect scans for the peripheral and waits until the stack hands it
// over, or the context ends. Connecting an already-connected link returns
// ErrAlreadyConnected.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.stale {
		l.mu.Unlock()
		return transport.ErrDisconnected
	}
	if l.connected {
		l.mu.Unlock()
		return transport.ErrAlreadyConnected
	}
	attempt := make(chan error, 1)
	l.attempt = attempt
	l.wanting = true
	l.mu.Unlock()

	if err := l.central.startScan(); err != nil {
		l.mu.Lock()
		l.attempt = nil
		l.wanting = false
		l.mu.Unlock()
		return fmt.Errorf("starting scan for %s: %w", l.id, err)
	}

	select {
	case err := <-attempt:
		return err
	case <-ctx.Done():
		l.mu.Lock()
		l.attempt = nil
		l.wanting = false
		l.mu.Unlock()
		if err := l.central.stopScan(); err != nil {
			l.logger.Warn("failed to stop scanning after connect timeout", "device", l.id, "error", err)
		}
		return ctx.Err()
	}
}

// Discover enumerates the instrument's services and characteristics and
// maps them to bench endpoints. Control and Stream are mandatory;
// metadata channels are best-effort.
func (l *Link) Discover(ctx context.Context) (*transport.Endpoints, error) {
	p, err := l.active()
	if err != nil {
		return nil, err
	}

	type result struct {
		eps *transport.Endpoints
		err error
	}
	done := make(chan result, 1)
	go func() {
		eps, err := discoverEndpoints(p, l.logger)
		done <- result{eps, err}
	}()

	select {
	case r := <-done:
		return r.eps, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Read fetches the current value of an endpoint.
func (l *Link) Read(ctx context.Context, ep transport.Endpoint) ([]byte, error) {
	p, err := l.active()
	if err != nil {
		return nil, err
	}
	e, err := resolve(ep)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = runWithCtx(ctx, func() error {
		var readErr error
		if e.long {
			if _, err := p.DiscoverDescriptors(nil, e.char); err != nil {
				l.logger.Debug("descriptor discovery failed", "device", l.id, "endpoint", e.name, "error", err)
			}
			data, readErr = p.ReadLongCharacteristic(e.char)
		} else {
			data, readErr = p.ReadCharacteristic(e.char)
		}
		return readErr
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", e.name, err)
	}
	return data, nil
}

// Write sends a payload to an endpoint and waits for the ack.
func (l *Link) Write(ctx context.Context, ep transport.Endpoint, data []byte) error {
	p, err := l.active()
	if err != nil {
		return err
	}
	e, err := resolve(ep)
	if err != nil {
		return err
	}

	err = runWithCtx(ctx, func() error {
		return p.WriteCharacteristic(e.char, data, false)
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", e.name, err)
	}
	return nil
}

// Subscribe enables notifications on a streaming endpoint. Payloads are
// handed to fn from the stack's delivery goroutine.
func (l *Link) Subscribe(ctx context.Context, ep transport.Endpoint, fn func(payload []byte)) (func() error, error) {
	p, err := l.active()
	if err != nil {
		return nil, err
	}
	e, err := resolve(ep)
	if err != nil {
		return nil, err
	}

	err = runWithCtx(ctx, func() error {
		return p.SetNotifyValue(e.char, func(_ *bt.Characteristic, payload []byte, err error) {
			if err != nil || len(payload) == 0 {
				return
			}
			fn(payload)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing %s: %w", e.name, err)
	}

	teardown := func() error {
		l.mu.Lock()
		p := l.peripheral
		up := l.connected
		l.mu.Unlock()
		if !up || p == nil {
			return nil
		}
		return p.SetNotifyValue(e.char, nil)
	}
	return teardown, nil
}

// Close releases the parked peripheral, which lets the stack tear the
// connection down. Closing a down link is a no-op.
func (l *Link) Close() error {
	l.dropped()
	return nil
}

// active returns the parked peripheral or ErrDisconnected.
func (l *Link) active() (bt.Peripheral, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected || l.peripheral == nil {
		return nil, transport.ErrDisconnected
	}
	return l.peripheral, nil
}

func (l *Link) wantsConnect() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wanting
}

// failConnect resolves a pending connect attempt with an error.
func (l *Link) failConnect(err error) {
	l.mu.Lock()
	attempt := l.attempt
	l.attempt = nil
	l.wanting = false
	l.mu.Unlock()

	if attempt != nil {
		attempt <- err
	}
}

// hold parks the caller (the connected callback) until the link is closed
// or the peripheral drops. The pending connect attempt resolves once the
// peripheral is stored.
func (l *Link) hold(p bt.Peripheral) {
	l.mu.Lock()
	release := make(chan struct{})
	l.peripheral = p
	l.connected = true
	l.wanting = false
	l.release = release
	attempt := l.attempt
	l.attempt = nil
	l.mu.Unlock()

	if attempt != nil {
		attempt <- nil
	}

	<-release
}

// dropped marks the link down and releases the parked callback.
func (l *Link) dropped() {
	l.mu.Lock()
	l.connected = false
	l.peripheral = nil
	release := l.release
	l.release = nil
	l.mu.Unlock()

	if release != nil {
		close(release)
	}
}

// invalidate retires a stale handle: any parked callback is released, any
// pending connect attempt fails, and future connects are refused.
func (l *Link) invalidate() {
	l.mu.Lock()
	l.stale = true
	l.connected = false
	l.wanting = false
	l.peripheral = nil
	attempt := l.attempt
	l.attempt = nil
	release := l.release
	l.release = nil
	l.mu.Unlock()

	if attempt != nil {
		attempt <- transport.ErrDisconnected
	}
	if release != nil {
		close(release)
	}
}

// runWithCtx executes a blocking stack call while honoring the context.
// An abandoned call finishes in the background.
func runWithCtx(ctx context.Context, op func() error) error {
	done := make(chan error, 1)
	go func() { done <- op() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
