// Package protocol defines the wire format shared by the ytmc WebSocket links:
// the companion realtime channel, the embedded content link and the admin
// control plane. It is importable by companion clients.
package protocol

import "encoding/json"

// Protocol version reported by the admin connect handshake.
const ProtocolVersion = 1

// APIPrefix is the versioned prefix of every companion REST route.
const APIPrefix = "/api/v1"

// Frame types
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame invokes a method on the peer.
type RequestFrame struct {
	Type   string          `json:"type"`   // always "req"
	ID     string          `json:"id"`     // correlation id
	Method string          `json:"method"` // method name
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers a RequestFrame with the same ID.
type ResponseFrame struct {
	Type    string          `json:"type"` // always "res"
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"` // when ok=true
	Error   *ErrorShape     `json:"error,omitempty"`   // when ok=false
}

// ErrorShape describes a protocol error.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventFrame is pushed without a preceding request.
type EventFrame struct {
	Type    string          `json:"type"` // always "event"
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
}

// NewRequest creates a request frame. A nil params value is omitted.
func NewRequest(id, method string, params any) (*RequestFrame, error) {
	raw, err := marshalPayload(params)
	if err != nil {
		return nil, err
	}
	return &RequestFrame{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: method,
		Params: raw,
	}, nil
}

// NewOKResponse creates a success response frame.
func NewOKResponse(id string, payload any) *ResponseFrame {
	raw, err := marshalPayload(payload)
	if err != nil {
		return NewErrorResponse(id, ErrInternal, "marshal payload: "+err.Error())
	}
	return &ResponseFrame{
		Type:    FrameTypeResponse,
		ID:      id,
		OK:      true,
		Payload: raw,
	}
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id string, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Type: FrameTypeResponse,
		ID:   id,
		OK:   false,
		Error: &ErrorShape{
			Code:    code,
			Message: message,
		},
	}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any) (*EventFrame, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &EventFrame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: raw,
	}, nil
}

// ParseFrameType extracts the frame type from raw JSON bytes.
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}

func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
