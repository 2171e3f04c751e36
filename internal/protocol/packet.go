package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Command identifies one instrument command. The value is the 16-bit command
// id carried in the first two packet bytes.
type Command uint16

// Known instrument commands.
const (
	CmdReadName       Command = 0x0101
	CmdWriteName      Command = 0x0102
	CmdReadZeroOffset Command = 0x0201
	CmdWriteLowerCal  Command = 0x0301
	CmdReadLowerCal   Command = 0x0302
	CmdWriteUpperCal  Command = 0x0401
	CmdReadUpperCal   Command = 0x0402
	CmdSoftReset      Command = 0x0F01
)

// Packet layout constants. Offsets are fixed by the instrument firmware.
const (
	// PacketSize is the fixed size of every command and response packet.
	PacketSize = 20

	// ServerID is the pressure subsystem id carried in every packet.
	ServerID byte = 0x21

	offCommand  = 0  // big-endian uint16
	offLength   = 2  // always PacketSize
	offPayload  = 3  // command payload
	offServerID = 15 // ServerID
	maxPayload  = offServerID - offPayload

	// nameFieldSize is the NUL-padded device name payload width.
	nameFieldSize = 12

	// valueFieldSize is the width of a signed 32-bit numeric payload field.
	valueFieldSize = 4
)

// String returns the command mnemonic, or the raw id for unknown commands.
func (c Command) String() string {
	switch c {
	case CmdReadName:
		return "read-name"
	case CmdWriteName:
		return "write-name"
	case CmdReadZeroOffset:
		return "read-zero-offset"
	case CmdWriteLowerCal:
		return "write-lower-cal"
	case CmdReadLowerCal:
		return "read-lower-cal"
	case CmdWriteUpperCal:
		return "write-upper-cal"
	case CmdReadUpperCal:
		return "read-upper-cal"
	case CmdSoftReset:
		return "soft-reset"
	default:
		return fmt.Sprintf("command(0x%04X)", uint16(c))
	}
}

// Request describes one command to encode. Name is consumed by CmdWriteName
// only; Value by CmdWriteLowerCal and CmdWriteUpperCal only. All other
// commands carry an empty payload.
type Request struct {
	Command Command
	Name    string
	Value   int32
}

// Marshal builds the 20-byte wire packet for the request.
// Unknown commands return ErrUnsupportedCommand.
func (r Request) Marshal() ([]byte, error) {
	var payload []byte

	switch r.Command {
	case CmdWriteName:
		payload = encodeName(r.Name)
	case CmdWriteLowerCal, CmdWriteUpperCal:
		payload = encodeValue(r.Value)
	case CmdReadName, CmdReadZeroOffset, CmdReadLowerCal, CmdReadUpperCal, CmdSoftReset:
		// Empty payload.
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCommand, r.Command)
	}

	return buildPacket(r.Command, payload)
}

// Response holds the decoded fields of an instrument response.
// Name is populated for name reads; RawValue for zero-offset and
// calibration-pressure reads and for calibration-write echoes.
type Response struct {
	Command  Command
	Name     string
	RawValue int32
}

// DecodeResponse validates a raw response against the command it is expected
// to answer and extracts the typed payload fields.
//
// The command id and server id must both match; a mismatch returns
// ErrProtocolMismatch. Numeric fields are big-endian 32-bit signed values,
// so negative zero offsets survive the round trip.
func DecodeResponse(want Command, data []byte) (Response, error) {
	if len(data) != PacketSize {
		return Response{}, fmt.Errorf("%w: response is %d bytes, want %d", ErrMalformedPacket, len(data), PacketSize)
	}
	if data[offLength] != PacketSize {
		return Response{}, fmt.Errorf("%w: length byte is %d, want %d", ErrMalformedPacket, data[offLength], PacketSize)
	}

	got := Command(binary.BigEndian.Uint16(data[offCommand : offCommand+2]))
	if got != want {
		return Response{}, fmt.Errorf("%w: got command %s, want %s", ErrProtocolMismatch, got, want)
	}
	if data[offServerID] != ServerID {
		return Response{}, fmt.Errorf("%w: got server id 0x%02X, want 0x%02X", ErrProtocolMismatch, data[offServerID], ServerID)
	}

	resp := Response{Command: got}

	switch want {
	case CmdReadName, CmdWriteName:
		resp.Name = decodeName(data[offPayload : offPayload+nameFieldSize])
	case CmdReadZeroOffset, CmdWriteLowerCal, CmdReadLowerCal, CmdWriteUpperCal, CmdReadUpperCal:
		// int32 conversion sign-extends the raw big-endian word.
		resp.RawValue = int32(binary.BigEndian.Uint32(data[offPayload : offPayload+valueFieldSize]))
	case CmdSoftReset:
		// Acknowledgement only, no payload.
	default:
		return Response{}, fmt.Errorf("%w: %s", ErrUnsupportedCommand, want)
	}

	return resp, nil
}

// buildPacket lays the payload into a zeroed 20-byte frame.
func buildPacket(cmd Command, payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), maxPayload)
	}

	pkt := make([]byte, PacketSize)
	binary.BigEndian.PutUint16(pkt[offCommand:offCommand+2], uint16(cmd))
	pkt[offLength] = PacketSize
	copy(pkt[offPayload:], payload)
	pkt[offServerID] = ServerID
	return pkt, nil
}

// encodeName NUL-pads (or truncates) the device name to the fixed field width.
func encodeName(name string) []byte {
	field := make([]byte, nameFieldSize)
	copy(field, name)
	return field
}

// decodeName strips the NUL padding from a name field.
func decodeName(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

// encodeValue writes a signed 32-bit value big-endian.
func encodeValue(v int32) []byte {
	field := make([]byte, valueFieldSize)
	binary.BigEndian.PutUint32(field, uint32(v))
	return field
}
