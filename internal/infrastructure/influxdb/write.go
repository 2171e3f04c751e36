package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordSweepPoint writes one verification sweep reading.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Tags carry the run, device and target so drift can be charted per device
// across calibration runs; the measured values live in fields.
func (c *Client) RecordSweepPoint(runID, deviceID string, target, reference, reading float64, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sweep_point",
		map[string]string{
			"run_id":    runID,
			"device_id": deviceID,
		},
		map[string]interface{}{
			"target":      target,
			"reference":   reference,
			"reading":     reading,
			"discrepancy": reading - reference,
		},
		at,
	)

	c.writeAPI.WritePoint(point)
}

// RecordCertification writes the final verification outcome for one device.
func (c *Client) RecordCertification(runID, deviceID string, certified bool, avgDiscrepancy float64, totalReadings int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"certification",
		map[string]string{
			"run_id":    runID,
			"device_id": deviceID,
		},
		map[string]interface{}{
			"certified":       certified,
			"avg_discrepancy": avgDiscrepancy,
			"total_readings":  totalReadings,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// RecordLiveReading writes one streamed pressure reading.
//
// Used for ad-hoc charting of the live stream outside calibration runs.
func (c *Client) RecordLiveReading(deviceID string, pressure float64, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"live_reading",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"pressure": pressure,
		},
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
