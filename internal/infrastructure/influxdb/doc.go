// Package influxdb records bench measurements to InfluxDB v2.
//
// It wraps influxdb-client-go with connection management, non-blocking
// batched writes, and health monitoring. The verification sweep uses it to
// persist per-device sweep points and certification outcomes so lab staff
// can chart sensor drift across calibration runs.
//
// The integration is optional: when disabled in configuration the rest of
// the service runs without it.
package influxdb
