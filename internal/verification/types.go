package verification

import (
	"fmt"
	"math"
	"time"
)

// SweepDataPoint is one captured reading: which device, what the reference
// was holding, what the device reported. Appended during the sweep, never
// mutated.
type SweepDataPoint struct {
	DeviceID          string
	ReferencePressure float64
	DeviceReading     float64
	Timestamp         time.Time
}

// CertificationResult is the derived pass/fail outcome for one device.
// Recomputed once per run and handed to reporting; never persisted here.
type CertificationResult struct {
	DeviceID           string
	Certified          bool
	AverageDiscrepancy float64
	Reason             string
	TotalReadings      int
}

// certify folds a device's sweep points into its result. A device is
// certified iff the mean absolute discrepancy across all points is within
// tolerance; a device with no captured readings never certifies.
func certify(deviceID string, points []SweepDataPoint, tolerance float64) CertificationResult {
	if len(points) == 0 {
		return CertificationResult{
			DeviceID: deviceID,
			Reason:   "no readings captured",
		}
	}

	var sum float64
	for _, p := range points {
		sum += math.Abs(p.DeviceReading - p.ReferencePressure)
	}
	avg := sum / float64(len(points))

	result := CertificationResult{
		DeviceID:           deviceID,
		AverageDiscrepancy: avg,
		TotalReadings:      len(points),
	}

	if avg <= tolerance {
		result.Certified = true
		result.Reason = fmt.Sprintf("mean discrepancy %.3f within tolerance %.3f", avg, tolerance)
	} else {
		result.Reason = fmt.Sprintf("mean discrepancy %.3f exceeds tolerance %.3f", avg, tolerance)
	}
	return result
}

// ladder builds the sweep targets: up from zero to max in quarter steps,
// then back down.
func ladder(max float64) []float64 {
	fractions := []float64{0, 0.25, 0.5, 0.75, 1, 0.75, 0.5, 0.25, 0}
	targets := make([]float64, len(fractions))
	for i, f := range fractions {
		targets[i] = max * f
	}
	return targets
}
