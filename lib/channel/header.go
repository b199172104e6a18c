// Package channel implements the named-method channel between a host runtime
// and a native plugin: one side invokes methods by name and receives exactly
// one result per invocation, the other side may push unsolicited events.
package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MessageType represents the type of message being sent
type MessageType uint8

const (
	MessageTypeRequest        MessageType = 0x01 // Method invocation (expects exactly one reply)
	MessageTypeResponse       MessageType = 0x02 // Successful reply
	MessageTypeNotify         MessageType = 0x03 // Event, no reply expected
	MessageTypeAck            MessageType = 0x04 // Control acknowledgment
	MessageTypeError          MessageType = 0x05 // Error reply
	MessageTypeNotImplemented MessageType = 0x06 // Reply for an unknown method
)

// String returns the string representation of MessageType
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeRequest:
		return "Request"
	case MessageTypeResponse:
		return "Response"
	case MessageTypeNotify:
		return "Notify"
	case MessageTypeAck:
		return "Ack"
	case MessageTypeError:
		return "Error"
	case MessageTypeNotImplemented:
		return "NotImplemented"
	default:
		return "Unknown"
	}
}

// Control message names exchanged outside of method dispatch.
const (
	nameReady            = "ready"
	nameRequestReady     = "request_ready"
	nameRequestReadyAck  = "request_ready_ack"
	nameShutdown         = "shutdown"
	nameShutdownAck      = "shutdown_ack"
	nameForceShutdown    = "force_shutdown"
	nameForceShutdownAck = "force_shutdown_ack"
)

var errShortHeader = errors.New("header truncated")

// Header is the envelope of every message: a method or event name, the
// message type and an encoded payload.
type Header struct {
	Name        string
	IsError     bool
	MessageType MessageType
	Payload     []byte
}

// MarshalBinary encodes the header as
// name length (4) | name | is-error (1) | type (1) | payload length (4) | payload.
func (h *Header) MarshalBinary() ([]byte, error) {
	if uint64(len(h.Name)) > math.MaxUint32 || uint64(len(h.Payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("header field too large")
	}

	buf := make([]byte, 0, 4+len(h.Name)+2+4+len(h.Payload))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(h.Name)))
	buf = append(buf, h.Name...)

	var isError byte
	if h.IsError {
		isError = 1
	}
	buf = append(buf, isError, byte(h.MessageType))

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(h.Payload)))
	buf = append(buf, h.Payload...)

	return buf, nil
}

// UnmarshalBinary decodes the header from binary format.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("failed to read name length: %w", errShortHeader)
	}
	nameLen := binary.BigEndian.Uint32(data)
	data = data[4:]

	if uint64(len(data)) < uint64(nameLen) {
		return fmt.Errorf("failed to read name: %w", errShortHeader)
	}
	h.Name = string(data[:nameLen])
	data = data[nameLen:]

	if len(data) < 2 {
		return fmt.Errorf("failed to read flags: %w", errShortHeader)
	}
	h.IsError = data[0] == 1
	h.MessageType = MessageType(data[1])
	data = data[2:]

	if len(data) < 4 {
		return fmt.Errorf("failed to read payload length: %w", errShortHeader)
	}
	payloadLen := binary.BigEndian.Uint32(data)
	data = data[4:]

	if uint64(len(data)) < uint64(payloadLen) {
		return fmt.Errorf("failed to read payload: %w", errShortHeader)
	}
	h.Payload = append([]byte(nil), data[:payloadLen]...)

	return nil
}
