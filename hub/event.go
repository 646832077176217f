package hub

import "encoding/json"

// Event is the wire envelope both directions: a named event plus its payload.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// E builds an outbound event. Payloads are our own structs, so a marshal
// failure is a programming error and yields an empty payload.
func E(eventType string, payload any) Event {
	if payload == nil {
		return Event{Type: eventType}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{Type: eventType}
	}
	return Event{Type: eventType, Data: data}
}

func (e Event) encode() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return b
}
