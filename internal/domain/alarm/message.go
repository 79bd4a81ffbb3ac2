package alarm

import (
	"encoding/json"
	"fmt"
)

// Message is a payload serialised once and shared by every recipient.
// Recipients must treat both fields as read-only.
type Message struct {
	// Payload is the decoded form, used by transports that re-encode.
	Payload *Payload
	// Data is the JSON encoding of Payload.
	Data []byte
}

// NewMessage encodes payload as JSON.
func NewMessage(payload *Payload) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	return &Message{
		Payload: payload,
		Data:    data,
	}, nil
}
