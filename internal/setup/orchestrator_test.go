package setup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pressbench/pressbench-core/internal/device"
	"github.com/pressbench/pressbench-core/internal/infrastructure/config"
	"github.com/pressbench/pressbench-core/internal/protocol"
	"github.com/pressbench/pressbench-core/internal/transport"
)

type fakeEndpoint string

func (e fakeEndpoint) ID() string { return string(e) }

// fakeLink scripts one device's transport behaviour.
type fakeLink struct {
	mu sync.Mutex

	id          string
	connected   bool
	connectErr  error
	connectHook func() error

	discoverErr   error
	discoverCalls int

	readData map[string][]byte
	readErr  error

	subscribeErr  error
	streamFn      func([]byte)
	teardownCalls int

	noMetadata bool
}

func (l *fakeLink) DeviceID() string { return l.id }

func (l *fakeLink) Connect(ctx context.Context) error {
	if l.connectHook != nil {
		return l.connectHook()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connectErr != nil {
		return l.connectErr
	}
	l.connected = true
	return nil
}

func (l *fakeLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *fakeLink) Discover(ctx context.Context) (*transport.Endpoints, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.discoverCalls++
	if l.discoverErr != nil {
		return nil, l.discoverErr
	}

	eps := &transport.Endpoints{
		Control: fakeEndpoint("control"),
		Stream:  fakeEndpoint("stream"),
	}
	if !l.noMetadata {
		eps.DeviceName = fakeEndpoint("name")
		eps.FirmwareVersion = fakeEndpoint("firmware")
		eps.SerialNumber = fakeEndpoint("serial")
		eps.ModelNumber = fakeEndpoint("model")
	}
	return eps, nil
}

func (l *fakeLink) Read(ctx context.Context, ep transport.Endpoint) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.readErr != nil {
		return nil, l.readErr
	}
	return l.readData[ep.ID()], nil
}

func (l *fakeLink) Write(ctx context.Context, ep transport.Endpoint, data []byte) error {
	return nil
}

func (l *fakeLink) Subscribe(ctx context.Context, ep transport.Endpoint, fn func(payload []byte)) (func() error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.subscribeErr != nil {
		return nil, l.subscribeErr
	}
	l.streamFn = fn
	return func() error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.teardownCalls++
		return nil
	}, nil
}

func (l *fakeLink) Close() error { return nil }

func (l *fakeLink) pushSample(payload []byte) {
	l.mu.Lock()
	fn := l.streamFn
	l.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

type fakeCentral struct {
	mu    sync.Mutex
	links map[string]*fakeLink
	calls []string
	err   error
}

func (c *fakeCentral) Link(ctx context.Context, deviceID string) (transport.Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, deviceID)
	if c.err != nil {
		return nil, c.err
	}
	link, ok := c.links[deviceID]
	if !ok {
		return nil, errors.New("unknown device")
	}
	return link, nil
}

func testSetupConfig() config.SetupConfig {
	return config.SetupConfig{
		ConnectTimeoutSecs:       1,
		DiscoveryTimeoutSecs:     1,
		SubscribeTimeoutSecs:     1,
		MetadataRetries:          1,
		MetadataRetryDelayMillis: 0,
		MaxAttempts:              3,
		RetryDelaySecs:           0,
		InterDeviceDelayMillis:   0,
	}
}

func TestRun_HappyPath(t *testing.T) {
	linkA := &fakeLink{id: "pt-a", readData: map[string][]byte{
		"name":     []byte("Transducer A\x00\x00"),
		"firmware": []byte("2.1.0"),
	}}
	linkB := &fakeLink{id: "pt-b"}

	reg := device.NewRegistry()
	o := New(reg, &fakeCentral{}, nil, testSetupConfig(), nil)

	err := o.Run(context.Background(), []device.Seed{
		{ID: "pt-a", Link: linkA},
		{ID: "pt-b", Link: linkB},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, id := range []string{"pt-a", "pt-b"} {
		d, err := reg.Get(id)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", id, err)
		}
		if d.Status != device.StatusReady {
			t.Errorf("%s status = %v, want ready", id, d.Status)
		}
	}

	a, _ := reg.Get("pt-a")
	if a.Meta.DisplayName != "Transducer A" {
		t.Errorf("DisplayName = %q, want %q (null padding trimmed)", a.Meta.DisplayName, "Transducer A")
	}
	if a.Meta.FirmwareVersion != "2.1.0" {
		t.Errorf("FirmwareVersion = %q", a.Meta.FirmwareVersion)
	}

	// Streamed samples flow through the subscription into the registry.
	linkA.pushSample(protocol.EncodeSample(123.5))
	reading, ok := reg.LatestReading("pt-a")
	if !ok || reading.Pressure != 123.5 {
		t.Errorf("LatestReading = %v, %v; want 123.5", reading, ok)
	}
}

func TestRun_AcquiresLinkWhenSeedHasNone(t *testing.T) {
	link := &fakeLink{id: "pt-a"}
	central := &fakeCentral{links: map[string]*fakeLink{"pt-a": link}}

	reg := device.NewRegistry()
	o := New(reg, central, nil, testSetupConfig(), nil)

	if err := o.Run(context.Background(), []device.Seed{{ID: "pt-a"}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(central.calls) != 1 || central.calls[0] != "pt-a" {
		t.Errorf("central calls = %v, want [pt-a]", central.calls)
	}

	d, _ := reg.Get("pt-a")
	if d.Status != device.StatusReady {
		t.Errorf("status = %v, want ready", d.Status)
	}
}

func TestRun_AlreadyConnectedIsSuccess(t *testing.T) {
	link := &fakeLink{id: "pt-a", connectErr: transport.ErrAlreadyConnected}

	reg := device.NewRegistry()
	o := New(reg, &fakeCentral{}, nil, testSetupConfig(), nil)

	if err := o.Run(context.Background(), []device.Seed{{ID: "pt-a", Link: link}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	d, _ := reg.Get("pt-a")
	if d.Status != device.StatusReady {
		t.Errorf("status = %v, want ready", d.Status)
	}
}

func TestRun_FailureIsolatedToDevice(t *testing.T) {
	bad := &fakeLink{id: "pt-bad", discoverErr: errors.New("gatt failure")}
	good := &fakeLink{id: "pt-good"}

	reg := device.NewRegistry()
	o := New(reg, &fakeCentral{}, nil, testSetupConfig(), nil)

	err := o.Run(context.Background(), []device.Seed{
		{ID: "pt-bad", Link: bad},
		{ID: "pt-good", Link: good},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	badDev, _ := reg.Get("pt-bad")
	if badDev.Status != device.StatusFailed {
		t.Errorf("pt-bad status = %v, want failed", badDev.Status)
	}
	if badDev.LastError == "" {
		t.Error("pt-bad should carry a last-error message")
	}
	if bad.discoverCalls != 3 {
		t.Errorf("discover attempts = %d, want 3 (whole-device retries)", bad.discoverCalls)
	}

	goodDev, _ := reg.Get("pt-good")
	if goodDev.Status != device.StatusReady {
		t.Errorf("pt-good status = %v, want ready", goodDev.Status)
	}
}

func TestRun_DisconnectShortCircuitsRetries(t *testing.T) {
	attempts := 0
	link := &fakeLink{id: "pt-a"}
	link.connectHook = func() error {
		attempts++
		return transport.ErrDisconnected
	}

	reg := device.NewRegistry()
	o := New(reg, &fakeCentral{}, nil, testSetupConfig(), nil)

	if err := o.Run(context.Background(), []device.Seed{{ID: "pt-a", Link: link}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if attempts != 1 {
		t.Errorf("connect attempts = %d, want 1 (dead links are not retried)", attempts)
	}

	d, _ := reg.Get("pt-a")
	if d.Status != device.StatusFailed {
		t.Errorf("status = %v, want failed", d.Status)
	}
}

func TestRun_MetadataFailureDoesNotFailSetup(t *testing.T) {
	link := &fakeLink{id: "pt-a", readErr: errors.New("read failed")}

	reg := device.NewRegistry()
	o := New(reg, &fakeCentral{}, nil, testSetupConfig(), nil)

	if err := o.Run(context.Background(), []device.Seed{{ID: "pt-a", Link: link}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	d, _ := reg.Get("pt-a")
	if d.Status != device.StatusReady {
		t.Errorf("status = %v, want ready despite metadata failure", d.Status)
	}
	if d.Meta.DisplayName != "" {
		t.Errorf("DisplayName = %q, want empty", d.Meta.DisplayName)
	}
}

func TestRun_EmptyBatch(t *testing.T) {
	o := New(device.NewRegistry(), &fakeCentral{}, nil, testSetupConfig(), nil)

	if err := o.Run(context.Background(), nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("Run() error = %v, want ErrEmptyBatch", err)
	}
}

func TestRun_SecondRunRejected(t *testing.T) {
	release := make(chan struct{})
	link := &fakeLink{id: "pt-a"}
	link.connectHook = func() error {
		<-release
		return nil
	}

	reg := device.NewRegistry()
	o := New(reg, &fakeCentral{}, nil, testSetupConfig(), nil)

	done := make(chan error, 1)
	go func() {
		done <- o.Run(context.Background(), []device.Seed{{ID: "pt-a", Link: link}})
	}()

	// Wait for the first run to take the guard.
	for !o.Running() {
		time.Sleep(time.Millisecond)
	}

	if err := o.Run(context.Background(), []device.Seed{{ID: "pt-b"}}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second Run() error = %v, want ErrRunInProgress", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
}

func TestPauseResume(t *testing.T) {
	linkA := &fakeLink{id: "pt-a"}
	linkB := &fakeLink{id: "pt-b"}

	reg := device.NewRegistry()
	o := New(reg, &fakeCentral{}, nil, testSetupConfig(), nil)

	o.Pause()

	done := make(chan error, 1)
	go func() {
		done <- o.Run(context.Background(), []device.Seed{
			{ID: "pt-a", Link: linkA},
			{ID: "pt-b", Link: linkB},
		})
	}()

	// Paused before the first queue entry: nothing may progress.
	time.Sleep(20 * time.Millisecond)
	d, err := reg.Get("pt-a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.Status != device.StatusPending {
		t.Fatalf("pt-a status = %v while paused, want pending", d.Status)
	}

	o.Resume()

	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, id := range []string{"pt-a", "pt-b"} {
		d, _ := reg.Get(id)
		if d.Status != device.StatusReady {
			t.Errorf("%s status = %v, want ready", id, d.Status)
		}
	}
}

func TestRun_CancelledContext(t *testing.T) {
	link := &fakeLink{id: "pt-a"}
	reg := device.NewRegistry()
	o := New(reg, &fakeCentral{}, nil, testSetupConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := o.Run(ctx, []device.Seed{{ID: "pt-a", Link: link}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

type recordingSink struct {
	mu       sync.Mutex
	readings []float64
}

func (s *recordingSink) RecordLiveReading(_ string, pressure float64, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, pressure)
}

func TestRun_StreamedSamplesReachSink(t *testing.T) {
	link := &fakeLink{id: "pt-a"}
	reg := device.NewRegistry()
	sink := &recordingSink{}

	o := New(reg, &fakeCentral{}, nil, testSetupConfig(), nil)
	o.SetReadingSink(sink)

	if err := o.Run(context.Background(), []device.Seed{{ID: "pt-a", Link: link}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	link.pushSample(protocol.EncodeSample(42.25))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.readings) != 1 || sink.readings[0] != 42.25 {
		t.Errorf("sink readings = %v, want [42.25]", sink.readings)
	}
}
