package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pressbench/pressbench-core/internal/transport"
)

// fakeLink is a minimal transport.Link for registry tests.
type fakeLink struct {
	id        string
	connected bool
}

func (f *fakeLink) DeviceID() string                { return f.id }
func (f *fakeLink) Connect(context.Context) error   { f.connected = true; return nil }
func (f *fakeLink) IsConnected() bool               { return f.connected }
func (f *fakeLink) Close() error                    { f.connected = false; return nil }
func (f *fakeLink) Discover(context.Context) (*transport.Endpoints, error) {
	return &transport.Endpoints{}, nil
}
func (f *fakeLink) Read(context.Context, transport.Endpoint) ([]byte, error) { return nil, nil }
func (f *fakeLink) Write(context.Context, transport.Endpoint, []byte) error  { return nil }
func (f *fakeLink) Subscribe(context.Context, transport.Endpoint, func([]byte)) (func() error, error) {
	return func() error { return nil }, nil
}

func seedBatch(ids ...string) []Seed {
	batch := make([]Seed, 0, len(ids))
	for _, id := range ids {
		batch = append(batch, Seed{ID: id, Link: &fakeLink{id: id, connected: true}})
	}
	return batch
}

func TestRegisterBatch_ReplacesCollection(t *testing.T) {
	r := NewRegistry()
	r.RegisterBatch(seedBatch("a", "b"))

	if err := r.SetStatus("a", StatusFailed, ""); err != nil {
		t.Fatalf("SetStatus() error: %v", err)
	}
	r.IncrementRetry("a")

	// Re-registering replaces everything and resets retries and the queue.
	r.RegisterBatch(seedBatch("a", "c"))

	d, err := r.Get("a")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if d.Status != StatusPending {
		t.Errorf("Status = %q, want pending", d.Status)
	}
	if d.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", d.RetryCount)
	}
	if _, err := r.Get("b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(b) error = %v, want ErrNotFound", err)
	}
	if got := r.QueueRemaining(); got != 2 {
		t.Errorf("QueueRemaining() = %d, want 2", got)
	}
}

func TestRegisterBatch_TearsDownStaleSubscriptions(t *testing.T) {
	r := NewRegistry()
	r.RegisterBatch(seedBatch("a"))

	torn := false
	if err := r.SetSubscription("a", func() error { torn = true; return nil }); err != nil {
		t.Fatalf("SetSubscription() error: %v", err)
	}

	r.RegisterBatch(seedBatch("a"))
	if !torn {
		t.Error("previous batch subscription was not torn down")
	}
}

func TestSetStatus_DoesNotValidateTransitions(t *testing.T) {
	r := NewRegistry()
	r.RegisterBatch(seedBatch("a"))

	// Any state may follow any state.
	for _, s := range []Status{StatusReady, StatusPending, StatusFailed, StatusCalibrating} {
		if err := r.SetStatus("a", s, "x"); err != nil {
			t.Fatalf("SetStatus(%q) error: %v", s, err)
		}
		d, _ := r.Get("a")
		if d.Status != s {
			t.Errorf("Status = %q, want %q", d.Status, s)
		}
	}
}

func TestRemove_TearsDownSubscriptionAndQueue(t *testing.T) {
	r := NewRegistry()
	r.RegisterBatch(seedBatch("a", "b", "c"))

	// Resolve "a", leaving the cursor before "b".
	if id, ok := r.NextInQueue(); !ok || id != "a" {
		t.Fatalf("NextInQueue() = %q (ok=%v), want a", id, ok)
	}

	torn := false
	if err := r.SetSubscription("b", func() error { torn = true; return nil }); err != nil {
		t.Fatalf("SetSubscription() error: %v", err)
	}

	if err := r.Remove("b"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if !torn {
		t.Error("Remove() did not tear down the subscription")
	}
	if _, err := r.Get("b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(b) error = %v, want ErrNotFound", err)
	}

	// The queue must continue with "c", not skip it.
	if id, ok := r.NextInQueue(); !ok || id != "c" {
		t.Errorf("NextInQueue() = %q (ok=%v), want c", id, ok)
	}
}

func TestSetLink_InvalidatesEndpointsAndSubscription(t *testing.T) {
	r := NewRegistry()
	r.RegisterBatch(seedBatch("a"))

	if err := r.SetEndpoints("a", &transport.Endpoints{}); err != nil {
		t.Fatalf("SetEndpoints() error: %v", err)
	}
	torn := false
	if err := r.SetSubscription("a", func() error { torn = true; return nil }); err != nil {
		t.Fatalf("SetSubscription() error: %v", err)
	}

	if err := r.SetLink("a", &fakeLink{id: "a", connected: true}); err != nil {
		t.Fatalf("SetLink() error: %v", err)
	}
	if !torn {
		t.Error("SetLink() did not tear down the old subscription")
	}

	d, _ := r.Get("a")
	if d.Endpoints != nil {
		t.Error("SetLink() did not invalidate cached endpoints")
	}
}

func TestRecordReading_OverwritesLatest(t *testing.T) {
	r := NewRegistry()
	r.RegisterBatch(seedBatch("a"))

	t0 := time.Now()
	r.RecordReading("a", 100.5, t0)
	r.RecordReading("a", 101.5, t0.Add(time.Second))

	reading, ok := r.LatestReading("a")
	if !ok {
		t.Fatal("LatestReading() found nothing")
	}
	if reading.Pressure != 101.5 {
		t.Errorf("Pressure = %v, want 101.5", reading.Pressure)
	}

	// Samples for removed devices are dropped silently.
	r.RecordReading("ghost", 1, t0)
	if _, ok := r.LatestReading("ghost"); ok {
		t.Error("LatestReading() returned a sample for an unknown device")
	}
}

func TestMarkDisconnected(t *testing.T) {
	r := NewRegistry()
	r.RegisterBatch(seedBatch("a"))

	torn := false
	if err := r.SetSubscription("a", func() error { torn = true; return nil }); err != nil {
		t.Fatalf("SetSubscription() error: %v", err)
	}

	if err := r.MarkDisconnected("a", LinkLost); err != nil {
		t.Fatalf("MarkDisconnected() error: %v", err)
	}
	if !torn {
		t.Error("MarkDisconnected() did not tear down the subscription")
	}

	d, _ := r.Get("a")
	if d.Status != StatusDisconnected {
		t.Errorf("Status = %q, want disconnected", d.Status)
	}
	if d.LinkQuality != LinkLost {
		t.Errorf("LinkQuality = %q, want lost", d.LinkQuality)
	}

	// The device remains in the batch: reclassification is not removal.
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestReady_FiltersStatusAndLink(t *testing.T) {
	r := NewRegistry()
	batch := seedBatch("a", "b", "c")
	r.RegisterBatch(batch)

	r.SetStatus("a", StatusReady, "")
	r.SetStatus("b", StatusReady, "")
	r.SetStatus("c", StatusFailed, "")

	// Drop b's link out from under its ready status.
	batch[1].Link.(*fakeLink).connected = false

	ready := r.Ready()
	if len(ready) != 1 || ready[0].ID != "a" {
		t.Fatalf("Ready() = %+v, want just a", ready)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	r.RegisterBatch(seedBatch("a"))
	r.RecordReading("a", 50, time.Now())

	d, _ := r.Get("a")
	d.Latest.Pressure = 999
	d.Status = StatusFailed

	fresh, _ := r.Get("a")
	if fresh.Latest.Pressure != 50 {
		t.Errorf("registry reading mutated through snapshot: %v", fresh.Latest.Pressure)
	}
	if fresh.Status != StatusPending {
		t.Errorf("registry status mutated through snapshot: %q", fresh.Status)
	}
}
