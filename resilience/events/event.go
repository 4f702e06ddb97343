package events

import (
	"encoding/json"
	"fmt"
)

// TypeKey is the event key that carries the event type. The producer forces
// it on every published event and the subscriber routes on it.
const TypeKey = "type"

// Event is an unstructured event payload: a mapping of string keys to values.
// Beyond the type key its shape is defined by the calling application.
type Event map[string]any

// Type returns the event type, or the empty string when the key is absent or
// not a string.
func (e Event) Type() string {
	eventType, _ := e[TypeKey].(string)

	return eventType
}

// Marshal serializes the event as JSON for transmission.
func (e Event) Marshal() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("events: marshal event: %w", err)
	}

	return body, nil
}

// ParseEvent deserializes a raw payload into an Event.
func ParseEvent(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("events: parse event: %w", err)
	}

	return event, nil
}
