package calibration

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/pressbench/pressbench-core/internal/device"
	"github.com/pressbench/pressbench-core/internal/events"
	"github.com/pressbench/pressbench-core/internal/infrastructure/config"
	"github.com/pressbench/pressbench-core/internal/protocol"
	"github.com/pressbench/pressbench-core/internal/transport"
)

type fakeEndpoint string

func (e fakeEndpoint) ID() string { return string(e) }

// fakeLink answers every control write with a well-formed response echoing
// the written command id, unless scripted to fail.
type fakeLink struct {
	mu        sync.Mutex
	id        string
	connected bool

	written   []protocol.Command
	lastCmd   protocol.Command
	failOn    map[protocol.Command]error
	writeHook func(cmd protocol.Command)
}

func (l *fakeLink) DeviceID() string { return l.id }

func (l *fakeLink) Connect(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = true
	return nil
}

func (l *fakeLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *fakeLink) drop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
}

func (l *fakeLink) Discover(context.Context) (*transport.Endpoints, error) {
	return &transport.Endpoints{
		Control: fakeEndpoint("control"),
		Stream:  fakeEndpoint("stream"),
	}, nil
}

func (l *fakeLink) Read(ctx context.Context, ep transport.Endpoint) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return makeResponse(l.lastCmd, 0), nil
}

func (l *fakeLink) Write(ctx context.Context, ep transport.Endpoint, data []byte) error {
	cmd := protocol.Command(binary.BigEndian.Uint16(data[:2]))

	l.mu.Lock()
	hook := l.writeHook
	err := l.failOn[cmd]
	if err == nil {
		l.written = append(l.written, cmd)
		l.lastCmd = cmd
	}
	l.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}
	return err
}

func (l *fakeLink) Subscribe(context.Context, transport.Endpoint, func([]byte)) (func() error, error) {
	return func() error { return nil }, nil
}

func (l *fakeLink) Close() error { return nil }

func (l *fakeLink) commands() []protocol.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]protocol.Command, len(l.written))
	copy(out, l.written)
	return out
}

// makeResponse builds a valid 20-byte response for a command.
func makeResponse(cmd protocol.Command, value int32) []byte {
	resp := make([]byte, protocol.PacketSize)
	binary.BigEndian.PutUint16(resp[0:2], uint16(cmd))
	resp[2] = protocol.PacketSize
	binary.BigEndian.PutUint32(resp[3:7], uint32(value))
	resp[15] = protocol.ServerID
	return resp
}

// fakeController records the drive sequence.
type fakeController struct {
	mu        sync.Mutex
	calls     []string
	setpoints []float64

	prereqErr error
	setErr    error
	waitErr   error
}

func (c *fakeController) EnsurePrerequisites(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "prereq")
	return c.prereqErr
}

func (c *fakeController) SetPressure(_ context.Context, v float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "set")
	c.setpoints = append(c.setpoints, v)
	return c.setErr
}

func (c *fakeController) WaitUntilAtTarget(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "wait")
	return c.waitErr
}

func (c *fakeController) Vent(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "vent")
	return nil
}

// recordingNotifier captures drop and lifecycle events.
type recordingNotifier struct {
	events.Nop
	mu        sync.Mutex
	started   int
	stopped   []string
	completed []int
	drops     []struct {
		phase string
		ids   []string
	}
}

func (n *recordingNotifier) CalibrationStarted(runID string, devices int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started++
}

func (n *recordingNotifier) CalibrationStopped(runID, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = append(n.stopped, reason)
}

func (n *recordingNotifier) CalibrationCompleted(runID string, calibrated int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, calibrated)
}

func (n *recordingNotifier) DevicesDropped(runID, phase string, ids []string, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drops = append(n.drops, struct {
		phase string
		ids   []string
	}{phase, ids})
}

func testCalConfig() config.CalibrationConfig {
	return config.CalibrationConfig{
		SweepPressure:          250,
		CommandTimeoutSecs:     1,
		CommandRetries:         3,
		InterDeviceDelayMillis: 0,
		InterPhaseDelaySecs:    0,
	}
}

// readyRegistry registers links as ready devices with cached endpoints.
func readyRegistry(t *testing.T, links ...*fakeLink) *device.Registry {
	t.Helper()

	reg := device.NewRegistry()
	seeds := make([]device.Seed, 0, len(links))
	for _, l := range links {
		l.connected = true
		seeds = append(seeds, device.Seed{ID: l.id, Link: l})
	}
	reg.RegisterBatch(seeds)
	for _, l := range links {
		if err := reg.SetEndpoints(l.id, &transport.Endpoints{
			Control: fakeEndpoint("control"),
			Stream:  fakeEndpoint("stream"),
		}); err != nil {
			t.Fatalf("SetEndpoints(%s) error = %v", l.id, err)
		}
		if err := reg.SetStatus(l.id, device.StatusReady, "setup complete"); err != nil {
			t.Fatalf("SetStatus(%s) error = %v", l.id, err)
		}
	}
	return reg
}

func TestRun_HappyPath(t *testing.T) {
	linkA := &fakeLink{id: "pt-a"}
	linkB := &fakeLink{id: "pt-b"}
	reg := readyRegistry(t, linkA, linkB)
	ctrl := &fakeController{}
	notifier := &recordingNotifier{}

	s := New(reg, ctrl, notifier, testCalConfig(), nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []protocol.Command{protocol.CmdReadZeroOffset, protocol.CmdWriteLowerCal, protocol.CmdWriteUpperCal}
	for _, l := range []*fakeLink{linkA, linkB} {
		got := l.commands()
		if len(got) != len(want) {
			t.Fatalf("%s commands = %v, want %v", l.id, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s command[%d] = %v, want %v", l.id, i, got[i], want[i])
			}
		}
	}

	for _, id := range []string{"pt-a", "pt-b"} {
		d, err := reg.Get(id)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", id, err)
		}
		if !d.Calibrated {
			t.Errorf("%s not marked calibrated", id)
		}
		if d.Status != device.StatusReady {
			t.Errorf("%s status = %v, want ready", id, d.Status)
		}
	}

	// Reference driven to the shared sweep pressure exactly once.
	if len(ctrl.setpoints) != 1 || ctrl.setpoints[0] != 250 {
		t.Errorf("setpoints = %v, want [250]", ctrl.setpoints)
	}

	if len(notifier.completed) != 1 || notifier.completed[0] != 2 {
		t.Errorf("completed events = %v, want [2]", notifier.completed)
	}
}

// 3 devices ready, B fails during the Low phase: Zero/Low complete for A
// and C, High proceeds, final batch size 2.
func TestRun_FailureDuringLowIsolated(t *testing.T) {
	linkA := &fakeLink{id: "pt-a"}
	linkB := &fakeLink{id: "pt-b", failOn: map[protocol.Command]error{
		protocol.CmdWriteLowerCal: errors.New("write rejected"),
	}}
	linkC := &fakeLink{id: "pt-c"}
	reg := readyRegistry(t, linkA, linkB, linkC)
	ctrl := &fakeController{}
	notifier := &recordingNotifier{}

	s := New(reg, ctrl, notifier, testCalConfig(), nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if _, err := reg.Get("pt-b"); err == nil {
		t.Error("pt-b should be removed from the registry")
	}
	if reg.Count() != 2 {
		t.Errorf("final batch size = %d, want 2", reg.Count())
	}

	for _, id := range []string{"pt-a", "pt-c"} {
		d, _ := reg.Get(id)
		if !d.Calibrated {
			t.Errorf("%s not calibrated", id)
		}
	}

	if len(notifier.drops) != 1 {
		t.Fatalf("drop events = %d, want 1 consolidated notice", len(notifier.drops))
	}
	if notifier.drops[0].phase != "low" {
		t.Errorf("drop phase = %q, want low", notifier.drops[0].phase)
	}
	if len(notifier.drops[0].ids) != 1 || notifier.drops[0].ids[0] != "pt-b" {
		t.Errorf("dropped ids = %v, want [pt-b]", notifier.drops[0].ids)
	}

	// B never saw the upper command.
	for _, cmd := range linkB.commands() {
		if cmd == protocol.CmdWriteUpperCal {
			t.Error("pt-b received an upper-calibration command after being dropped")
		}
	}
}

func TestRun_ReferenceFailureAbortsBatch(t *testing.T) {
	linkA := &fakeLink{id: "pt-a"}
	linkB := &fakeLink{id: "pt-b"}
	reg := readyRegistry(t, linkA, linkB)
	ctrl := &fakeController{waitErr: errors.New("reference: controller failure: no response")}
	notifier := &recordingNotifier{}

	s := New(reg, ctrl, notifier, testCalConfig(), nil)

	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("Run() expected error on reference failure")
	}

	if s.Running() {
		t.Error("run-active flag must be false after abort")
	}

	// No upper-calibration command was issued to any device.
	for _, l := range []*fakeLink{linkA, linkB} {
		for _, cmd := range l.commands() {
			if cmd == protocol.CmdWriteUpperCal {
				t.Errorf("%s received an upper-calibration command after abort", l.id)
			}
		}
	}

	// Devices are rolled back to a reviewable state, not left mid-transition.
	for _, id := range []string{"pt-a", "pt-b"} {
		d, _ := reg.Get(id)
		if d.Status != device.StatusFailed {
			t.Errorf("%s status = %v, want failed", id, d.Status)
		}
		if d.Calibrated {
			t.Errorf("%s must not be calibrated", id)
		}
	}

	if len(notifier.stopped) != 1 {
		t.Errorf("stopped events = %v, want 1", notifier.stopped)
	}
}

func TestRun_NoReadyDevices(t *testing.T) {
	s := New(device.NewRegistry(), &fakeController{}, nil, testCalConfig(), nil)

	if err := s.Run(context.Background()); !errors.Is(err, ErrNoDevices) {
		t.Errorf("Run() error = %v, want ErrNoDevices", err)
	}
}

func TestRun_AllDevicesDropped(t *testing.T) {
	link := &fakeLink{id: "pt-a", failOn: map[protocol.Command]error{
		protocol.CmdReadZeroOffset: errors.New("no response"),
	}}
	reg := readyRegistry(t, link)
	s := New(reg, &fakeController{}, nil, testCalConfig(), nil)

	if err := s.Run(context.Background()); !errors.Is(err, ErrNoDevicesRemaining) {
		t.Errorf("Run() error = %v, want ErrNoDevicesRemaining", err)
	}
}

func TestRun_OperatorStop(t *testing.T) {
	linkA := &fakeLink{id: "pt-a"}
	linkB := &fakeLink{id: "pt-b"}
	reg := readyRegistry(t, linkA, linkB)
	s := New(reg, &fakeController{}, nil, testCalConfig(), nil)

	// Stop during the first device's zero command; the flag is checked
	// before the next device.
	linkA.writeHook = func(protocol.Command) { s.Stop() }

	if err := s.Run(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Run() error = %v, want ErrStopped", err)
	}

	if got := linkB.commands(); len(got) != 0 {
		t.Errorf("pt-b commands = %v, want none after stop", got)
	}
}

func TestRun_DisconnectShortCircuitsCommandRetries(t *testing.T) {
	attempts := 0
	link := &fakeLink{id: "pt-a", failOn: map[protocol.Command]error{
		protocol.CmdReadZeroOffset: transport.ErrDisconnected,
	}}
	link.writeHook = func(cmd protocol.Command) {
		if cmd == protocol.CmdReadZeroOffset {
			attempts++
		}
	}
	reg := readyRegistry(t, link)
	s := New(reg, &fakeController{}, nil, testCalConfig(), nil)

	if err := s.Run(context.Background()); !errors.Is(err, ErrNoDevicesRemaining) {
		t.Errorf("Run() error = %v, want ErrNoDevicesRemaining", err)
	}

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (disconnects are not retried)", attempts)
	}
}

func TestRun_SecondRunRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	link := &fakeLink{id: "pt-a"}
	link.writeHook = func(protocol.Command) {
		once.Do(func() { close(started) })
		<-release
	}
	reg := readyRegistry(t, link)
	s := New(reg, &fakeController{}, nil, testCalConfig(), nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	<-started
	if err := s.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second Run() error = %v, want ErrRunInProgress", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
}
