// Package bus provides the direction-scoped publish/subscribe bus that
// decouples the widget relay from the staff notifier.
package bus

import (
	"encoding/json"
	"fmt"
)

// Direction tells which side of the relay a message travels toward.
type Direction int

const (
	ToWidget Direction = iota
	ToStaff
)

func (d Direction) String() string {
	switch d {
	case ToWidget:
		return "to-widget"
	case ToStaff:
		return "to-staff"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == ToWidget || d == ToStaff
}

// RoutingKey returns the subscription key for a channel and direction.
// Two directions on the same channel are independent topics.
func RoutingKey(channel string, dir Direction) string {
	return fmt.Sprintf("%d:%s", int(dir), channel)
}

// Message is an immutable bus envelope.
type Message struct {
	channel   string
	direction Direction
	data      json.RawMessage
}

// envelope is the canonical wire form of a Message.
type envelope struct {
	Channel   string          `json:"channel"`
	Direction Direction       `json:"direction"`
	Data      json.RawMessage `json:"data"`
}

// NewMessage builds a message, encoding payload as JSON.
func NewMessage(channel string, dir Direction, payload any) (Message, error) {
	if channel == "" {
		return Message{}, fmt.Errorf("bus message: empty channel")
	}
	if !dir.Valid() {
		return Message{}, fmt.Errorf("bus message: invalid %s", dir)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("bus message: encode payload: %w", err)
	}
	return Message{channel: channel, direction: dir, data: data}, nil
}

// Channel returns the channel the message was published on.
func (m Message) Channel() string { return m.channel }

// Direction returns the direction the message travels toward.
func (m Message) Direction() Direction { return m.direction }

// RoutingKey returns the key the message is routed by.
func (m Message) RoutingKey() string { return RoutingKey(m.channel, m.direction) }

// Data returns a copy of the raw payload.
func (m Message) Data() []byte {
	return append([]byte(nil), m.data...)
}

// Decode unmarshals the payload into out.
func (m Message) Decode(out any) error {
	if err := json.Unmarshal(m.data, out); err != nil {
		return fmt.Errorf("bus message %s: decode payload: %w", m.RoutingKey(), err)
	}
	return nil
}

// Encode returns the canonical wire encoding used by distributed backends.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(envelope{Channel: m.channel, Direction: m.direction, Data: m.data})
}

// DecodeMessage parses the wire encoding produced by Encode.
func DecodeMessage(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("decode bus message: %w", err)
	}
	if env.Channel == "" || !env.Direction.Valid() {
		return Message{}, fmt.Errorf("decode bus message: missing channel or direction")
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage("null")
	}
	return Message{channel: env.Channel, direction: env.Direction, data: env.Data}, nil
}
