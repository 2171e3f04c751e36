package gatt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	bt "github.com/fako1024/gatt"

	"github.com/pressbench/pressbench-core/internal/transport"
)

type fakeScanner struct {
	mu      sync.Mutex
	scans   int
	stops   int
	scanErr error
}

func (s *fakeScanner) startScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	return s.scanErr
}

func (s *fakeScanner) stopScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeScanner) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans, s.stops
}

func newTestLink(s scanner) *Link {
	return &Link{central: s, id: "aa:bb:cc:dd:ee:ff", logger: noopLogger{}}
}

func TestConnect_AlreadyConnected(t *testing.T) {
	l := newTestLink(&fakeScanner{})
	l.connected = true

	if err := l.Connect(context.Background()); !errors.Is(err, transport.ErrAlreadyConnected) {
		t.Errorf("Connect() error = %v, want ErrAlreadyConnected", err)
	}
}

func TestConnect_StaleHandleRefused(t *testing.T) {
	l := newTestLink(&fakeScanner{})
	l.invalidate()

	if err := l.Connect(context.Background()); !errors.Is(err, transport.ErrDisconnected) {
		t.Errorf("Connect() error = %v, want ErrDisconnected", err)
	}
}

func TestConnect_ScanFailure(t *testing.T) {
	cause := errors.New("adapter busy")
	l := newTestLink(&fakeScanner{scanErr: cause})

	if err := l.Connect(context.Background()); !errors.Is(err, cause) {
		t.Errorf("Connect() error = %v, want wrapped scan error", err)
	}
	if l.wantsConnect() {
		t.Error("failed connect must not leave the link wanting")
	}
}

func TestConnect_Timeout(t *testing.T) {
	s := &fakeScanner{}
	l := newTestLink(s)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect() error = %v, want DeadlineExceeded", err)
	}

	if scans, stops := s.counts(); scans != 1 || stops != 1 {
		t.Errorf("scanner = %d scans %d stops, want 1 and 1", scans, stops)
	}
	if l.wantsConnect() {
		t.Error("timed-out connect must not leave the link wanting")
	}
}

func TestConnect_ResolvedByHold(t *testing.T) {
	l := newTestLink(&fakeScanner{})

	done := make(chan error, 1)
	go func() { done <- l.Connect(context.Background()) }()

	// Wait for the attempt to become pending, then simulate the stack
	// handing the peripheral over.
	waitFor(t, l.wantsConnect)

	held := make(chan struct{})
	go func() {
		var p bt.Peripheral
		l.hold(p)
		close(held)
	}()

	if err := <-done; err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !l.IsConnected() {
		t.Error("IsConnected() = false after hold")
	}

	l.Close()
	select {
	case <-held:
	case <-time.After(time.Second):
		t.Fatal("Close() did not release the parked callback")
	}

	if l.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestConnect_ResolvedByFailure(t *testing.T) {
	l := newTestLink(&fakeScanner{})
	cause := errors.New("connection rejected")

	done := make(chan error, 1)
	go func() { done <- l.Connect(context.Background()) }()

	waitFor(t, l.wantsConnect)
	l.failConnect(cause)

	if err := <-done; !errors.Is(err, cause) {
		t.Errorf("Connect() error = %v, want %v", err, cause)
	}
	if l.IsConnected() {
		t.Error("IsConnected() = true after failed connect")
	}
}

func TestDropped_ReleasesAndDisconnects(t *testing.T) {
	l := newTestLink(&fakeScanner{})

	held := make(chan struct{})
	go func() {
		var p bt.Peripheral
		l.hold(p)
		close(held)
	}()

	waitFor(t, l.IsConnected)
	l.dropped()

	select {
	case <-held:
	case <-time.After(time.Second):
		t.Fatal("dropped() did not release the parked callback")
	}
	if l.IsConnected() {
		t.Error("IsConnected() = true after drop")
	}

	// A second drop (or Close after drop) is a no-op.
	l.dropped()
	if err := l.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestOperations_RequireConnection(t *testing.T) {
	l := newTestLink(&fakeScanner{})
	ctx := context.Background()
	ep := &endpoint{name: "control"}

	if _, err := l.Discover(ctx); !errors.Is(err, transport.ErrDisconnected) {
		t.Errorf("Discover() error = %v, want ErrDisconnected", err)
	}
	if _, err := l.Read(ctx, ep); !errors.Is(err, transport.ErrDisconnected) {
		t.Errorf("Read() error = %v, want ErrDisconnected", err)
	}
	if err := l.Write(ctx, ep, []byte{0x01}); !errors.Is(err, transport.ErrDisconnected) {
		t.Errorf("Write() error = %v, want ErrDisconnected", err)
	}
	if _, err := l.Subscribe(ctx, ep, func([]byte) {}); !errors.Is(err, transport.ErrDisconnected) {
		t.Errorf("Subscribe() error = %v, want ErrDisconnected", err)
	}
}

func TestResolve(t *testing.T) {
	if _, err := resolve(nil); !errors.Is(err, transport.ErrEndpointNotFound) {
		t.Errorf("resolve(nil) error = %v, want ErrEndpointNotFound", err)
	}

	if _, err := resolve(foreignEndpoint("other")); !errors.Is(err, transport.ErrEndpointNotFound) {
		t.Errorf("resolve(foreign) error = %v, want ErrEndpointNotFound", err)
	}

	ep := &endpoint{name: "stream"}
	got, err := resolve(ep)
	if err != nil || got != ep {
		t.Errorf("resolve(endpoint) = %v, %v, want the endpoint back", got, err)
	}
	if ep.ID() != "stream" {
		t.Errorf("ID() = %q, want stream", ep.ID())
	}
}

func TestInstrumentUUIDs(t *testing.T) {
	for _, raw := range []string{
		genericAccessService,
		deviceNameCharacteristic,
		deviceInfoService,
		modelNumberCharacteristic,
		serialNumberCharacteristic,
		firmwareRevisionCharacteristic,
		benchService,
		controlCharacteristic,
		streamCharacteristic,
	} {
		if got := bt.MustParseUUID(raw).String(); got != raw {
			t.Errorf("UUID %q round-trips as %q", raw, got)
		}
	}
}

func TestRunWithCtx(t *testing.T) {
	if err := runWithCtx(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("runWithCtx() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := make(chan struct{})
	defer close(block)

	err := runWithCtx(ctx, func() error { <-block; return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("runWithCtx() error = %v, want Canceled", err)
	}
}

type foreignEndpoint string

func (f foreignEndpoint) ID() string { return string(f) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
