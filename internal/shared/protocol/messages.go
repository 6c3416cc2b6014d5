package protocol

import (
	"bytes"
	"strings"

	json "github.com/goccy/go-json"
)

// MessageType is the discriminator carried in the "type" field of every tunnel frame.
type MessageType string

const (
	MessageTypeRegister   MessageType = "register"
	MessageTypeRegistered MessageType = "registered"
	MessageTypeRequest    MessageType = "request"
	MessageTypeResponse   MessageType = "response"
)

// ClientInfo describes this client to the relay during registration.
type ClientInfo struct {
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Runtime  string `json:"runtime"`
}

// RegisterMessage is sent once per successful connection.
type RegisterMessage struct {
	Type       MessageType `json:"type"`
	LocalPort  int         `json:"localPort"`
	TunnelName string      `json:"tunnelName,omitempty"`
	ClientInfo *ClientInfo `json:"clientInfo,omitempty"`
}

// RegisteredMessage acknowledges registration and carries the public URL.
type RegisteredMessage struct {
	Type       MessageType `json:"type"`
	URL        string      `json:"url"`
	TunnelName string      `json:"tunnelName"`
}

// RequestMessage is one HTTP request relayed from the public side.
type RequestMessage struct {
	Type MessageType `json:"type"`
	// ID is optional; relays that correlate responses set it and get it echoed back.
	ID      RequestID       `json:"id,omitempty"`
	Method  string          `json:"method"`
	URL     string          `json:"url"`
	Headers Headers         `json:"headers,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// ResponseMessage is the reply to exactly one RequestMessage.
type ResponseMessage struct {
	Type       MessageType       `json:"type"`
	ID         RequestID         `json:"id,omitempty"`
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       json.RawMessage   `json:"body,omitempty"`
}

// NewRegisterMessage builds the registration frame. An empty tunnel name is omitted.
func NewRegisterMessage(localPort int, tunnelName string, info *ClientInfo) *RegisterMessage {
	return &RegisterMessage{
		Type:       MessageTypeRegister,
		LocalPort:  localPort,
		TunnelName: tunnelName,
		ClientInfo: info,
	}
}

// NewResponseMessage builds a response frame; body is embedded via ResponseBody.
func NewResponseMessage(id RequestID, statusCode int, headers map[string]string, body []byte) *ResponseMessage {
	if headers == nil {
		headers = map[string]string{}
	}
	return &ResponseMessage{
		Type:       MessageTypeResponse,
		ID:         id,
		StatusCode: statusCode,
		Headers:    headers,
		Body:       ResponseBody(body),
	}
}

// RequestID is a correlation id kept as the JSON value the relay sent,
// so a string or a number is echoed back unchanged.
type RequestID []byte

// MarshalJSON implements json.Marshaler.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return []byte("null"), nil
	}
	return id, nil
}

// UnmarshalJSON implements json.Unmarshaler. A null id is treated as absent.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = nil
		return nil
	}
	*id = append((*id)[:0], data...)
	return nil
}

// String returns a string id unquoted and any other value as JSON text.
func (id RequestID) String() string {
	if len(id) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		return s
	}
	return string(id)
}

// ErrorBody is the diagnostic payload of a synthetic error response.
type ErrorBody struct {
	Error     string `json:"error"`
	LocalPort int    `json:"localPort"`
}

// NewErrorResponse builds a synthetic response naming the failure and the local port.
func NewErrorResponse(id RequestID, statusCode int, message string, localPort int) *ResponseMessage {
	body, _ := json.Marshal(ErrorBody{Error: message, LocalPort: localPort})
	return &ResponseMessage{
		Type:       MessageTypeResponse,
		ID:         id,
		StatusCode: statusCode,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

// ResponseBody embeds raw upstream bytes: valid JSON as a JSON value,
// anything else as a JSON string. Empty input yields no body.
func ResponseBody(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out
	}
	quoted, err := json.Marshal(string(raw))
	if err != nil {
		return nil
	}
	return quoted
}

// BodyText returns the request body as raw text. A JSON string body is
// returned unquoted; any other JSON value is returned in compact form.
// The second result is false when the body is absent or null.
func (m *RequestMessage) BodyText() (string, bool) {
	raw := []byte(strings.TrimSpace(string(m.Body)))
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, true
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw), true
	}
	return buf.String(), true
}

// Headers is a header mapping decoded leniently: string values are kept,
// arrays of strings are joined with ", ", nulls are dropped and other
// scalars keep their JSON text. Anything but an object decodes as no headers.
type Headers map[string]string

// UnmarshalJSON implements json.Unmarshaler.
func (h *Headers) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &raw) != nil {
		*h = Headers{}
		return nil
	}
	out := make(Headers, len(raw))
	for name, value := range raw {
		v := strings.TrimSpace(string(value))
		if v == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			out[name] = s
			continue
		}
		var list []string
		if err := json.Unmarshal(value, &list); err == nil {
			out[name] = strings.Join(list, ", ")
			continue
		}
		out[name] = v
	}
	*h = out
	return nil
}

// Get returns the first header matching name case-insensitively.
func (h Headers) Get(name string) (string, bool) {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
