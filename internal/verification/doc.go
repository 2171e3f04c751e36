// Package verification runs the post-calibration certification sweep.
//
// The engine steps the reference controller through an ascending then
// descending pressure ladder derived from a configured maximum. At each
// step, after the reference settles and a stabilization delay passes, it
// samples every connected device's latest streamed reading into an
// immutable SweepDataPoint. After the sweep each device's mean absolute
// discrepancy against the reference is compared to the tolerance to yield
// a CertificationResult. The reference is always returned to zero as a
// terminal safety action, whatever the outcome.
package verification
