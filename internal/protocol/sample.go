package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleSize is the fixed length of a streamed sensor notification payload.
const SampleSize = 4

// DecodeSample decodes one streamed sensor notification into a pressure
// value. The payload is a single little-endian IEEE-754 float32; any other
// length returns ErrMalformedSample.
func DecodeSample(data []byte) (float64, error) {
	if len(data) != SampleSize {
		return 0, fmt.Errorf("%w: payload is %d bytes, want %d", ErrMalformedSample, len(data), SampleSize)
	}

	bits := binary.LittleEndian.Uint32(data)
	value := math.Float32frombits(bits)

	if math.IsNaN(float64(value)) || math.IsInf(float64(value), 0) {
		return 0, fmt.Errorf("%w: non-finite pressure value", ErrMalformedSample)
	}

	return float64(value), nil
}

// EncodeSample builds the notification payload for a pressure value.
// Used by bench simulators and tests; real samples originate on the device.
func EncodeSample(pressure float64) []byte {
	data := make([]byte, SampleSize)
	binary.LittleEndian.PutUint32(data, math.Float32bits(float32(pressure)))
	return data
}
