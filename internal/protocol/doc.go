// Package protocol implements the binary command protocol spoken by the
// wireless pressure-sensor instruments.
//
// Every command and response is a fixed 20-byte packet:
//
//	Byte 0-1:  Command id (big-endian)
//	Byte 2:    Packet length constant (always 20)
//	Byte 3+:   Command payload (big-endian numeric fields)
//	Byte 15:   Server/subsystem id
//	Byte 16+:  Padding (zero)
//
// Responses share the layout of the command they answer. Decoding verifies
// both the command id and the server id against what the caller expected;
// a mismatch is never silently accepted.
//
// Streamed sensor samples use a separate 4-byte notification payload holding
// a single little-endian IEEE-754 float32 pressure value.
package protocol
