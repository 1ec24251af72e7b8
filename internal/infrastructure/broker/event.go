package broker

import "encoding/json"

// Channel is the well-known bus channel shared by all room traffic.
const Channel = "agentroom.events"

type EventType string

const (
	EventJoin    EventType = "join"
	EventLeave   EventType = "leave"
	EventMessage EventType = "message"
)

// Event is the wire format exchanged over the event bus. Events are
// transient: published once, consumed by whichever instances are subscribed
// at that moment, never persisted.
type Event struct {
	Type             EventType       `json:"type"`
	RoomKey          string          `json:"roomKey"`
	ConnectionID     string          `json:"connectionId,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	OriginInstanceID string          `json:"originInstanceId"`
}
