package influxdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pressbench/pressbench-core/internal/infrastructure/config"
)

func TestConnect_Disabled(t *testing.T) {
	cfg := config.InfluxDBConfig{
		Enabled: false,
		URL:     "http://localhost:8086",
	}

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{}

	err := c.HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestFlushAfterClose(t *testing.T) {
	c := &Client{}
	// Must not panic with no write API.
	c.Flush()
}

// Writes on a disconnected client are silently dropped rather than
// panicking; recording is best-effort.
func TestRecordSweepPoint_NotConnected(t *testing.T) {
	c := &Client{}
	c.RecordSweepPoint("run-1", "pt-01", 125, 125.1, 124.4, time.Now())
	c.RecordCertification("run-1", "pt-01", true, 0.4, 9)
	c.RecordLiveReading("pt-01", 124.4, time.Now())
}
