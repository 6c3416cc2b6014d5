package protocol

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

var (
	// ErrMissingType is returned for frames without a "type" discriminator.
	ErrMissingType = errors.New("message has no type")

	// ErrMissingField is returned when a request lacks method or url.
	ErrMissingField = errors.New("request is missing a required field")
)

// Envelope is a decoded frame whose body has not yet been bound to a concrete message.
type Envelope struct {
	Type MessageType `json:"type"`
	raw  []byte
}

// Encode serializes an outbound message.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a text frame and reads its discriminator.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	env.raw = data
	return &env, nil
}

// Registered binds the envelope to a registration acknowledgment.
func (e *Envelope) Registered() (*RegisteredMessage, error) {
	var msg RegisteredMessage
	if err := json.Unmarshal(e.raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode registered message: %w", err)
	}
	return &msg, nil
}

// requestFields reads every request field as raw JSON so that an
// unexpected type in one field cannot fail the whole frame.
type requestFields struct {
	ID      RequestID       `json:"id"`
	Method  json.RawMessage `json:"method"`
	URL     json.RawMessage `json:"url"`
	Headers Headers         `json:"headers"`
	Body    json.RawMessage `json:"body"`
}

// Request binds the envelope to a relayed request. Optional fields are read
// leniently. Method and url are mandatory strings; when either is missing or
// not a string the partially decoded message is returned with ErrMissingField
// so the caller can still answer it.
func (e *Envelope) Request() (*RequestMessage, error) {
	var f requestFields
	if err := json.Unmarshal(e.raw, &f); err != nil {
		return nil, fmt.Errorf("failed to decode request message: %w", err)
	}

	msg := &RequestMessage{
		Type:    MessageTypeRequest,
		ID:      f.ID,
		Method:  stringField(f.Method),
		URL:     stringField(f.URL),
		Headers: f.Headers,
		Body:    f.Body,
	}
	if msg.Method == "" {
		return msg, fmt.Errorf("%w: method", ErrMissingField)
	}
	if msg.URL == "" {
		return msg, fmt.Errorf("%w: url", ErrMissingField)
	}
	return msg, nil
}

// stringField returns raw as a string, or "" when it is absent or not a JSON string.
func stringField(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}
