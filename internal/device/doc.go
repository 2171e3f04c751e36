// Package device holds the in-memory catalogue of instruments under
// calibration.
//
// The Registry owns every mutable per-device field: connection handle,
// cached endpoints, status, retry counter, streamed readings and the
// stream-subscription teardown. Components never share Device pointers;
// reads return snapshots and all mutation goes through Registry methods, so
// the connectivity monitor can reclassify devices concurrently with an
// active setup or calibration sequence.
//
// Status is append-only metadata: the registry records whatever status a
// caller sets without validating transition legality, so an externally reset
// instrument can re-enter the flow from any state.
package device
