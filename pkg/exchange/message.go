package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type MessageType string

const (
	TypeMessage         MessageType = "gcm"
	TypeSendError       MessageType = "send_error"
	TypeDeletedMessages MessageType = "deleted_messages"
)

// Push payload keys, as sent by the monitoring server.
const (
	KeyMessageType    = "message_type"
	KeyWhichName      = "WhichName"
	KeySensorType     = "SensorType"
	KeySensorTypeName = "SensorTypeName"
	KeyEventName      = "EventName"
	KeyWhen           = "When"
	KeyEventID        = "EventId"
)

// MotionSensorType is the SensorType value reported by motion sensors.
const MotionSensorType = 2

// TimestampLayout is the zone-less local time format used in When.
const TimestampLayout = "2006-01-02T15:04:05"

// Message is one decoded push delivery.
type Message struct {
	Type           MessageType
	WhichName      string
	SensorType     string
	SensorTypeName string
	EventName      string
	When           string
	EventID        string
}

// Decode builds a Message from raw push fields. Unknown keys are ignored and
// a missing message type means a regular sensor message.
func Decode(fields map[string]string) (*Message, error) {
	msg := &Message{
		Type:           MessageType(strings.TrimSpace(fields[KeyMessageType])),
		WhichName:      strings.TrimSpace(fields[KeyWhichName]),
		SensorType:     strings.TrimSpace(fields[KeySensorType]),
		SensorTypeName: strings.TrimSpace(fields[KeySensorTypeName]),
		EventName:      strings.TrimSpace(fields[KeyEventName]),
		When:           strings.TrimSpace(fields[KeyWhen]),
		EventID:        strings.TrimSpace(fields[KeyEventID]),
	}
	if msg.Type == "" {
		msg.Type = TypeMessage
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// DecodeJSON decodes a flat JSON object of push fields. Scalar values of any
// JSON type are accepted and converted to their string form.
func DecodeJSON(data []byte) (*Message, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal push payload: %w", err)
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			fields[k] = val
		case float64:
			fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			fields[k] = strconv.FormatBool(val)
		default:
			return nil, fmt.Errorf("push field %s is not a scalar", k)
		}
	}
	return Decode(fields)
}

// IsControl reports whether the message is push-protocol chatter rather than
// a sensor event.
func (m *Message) IsControl() bool {
	return m.Type != TypeMessage
}

func (m *Message) IsMotion() bool {
	n, err := strconv.Atoi(m.SensorType)
	return err == nil && n == MotionSensorType
}

func (m *Message) Validate() error {
	if m.IsControl() {
		return nil
	}
	if m.WhichName == "" {
		return &MissingFieldError{Field: KeyWhichName}
	}
	if m.SensorTypeName == "" {
		return &MissingFieldError{Field: KeySensorTypeName}
	}
	if m.EventName == "" {
		return &MissingFieldError{Field: KeyEventName}
	}
	if _, err := strconv.Atoi(m.SensorType); err != nil {
		return &SensorTypeError{Value: m.SensorType}
	}
	return nil
}
