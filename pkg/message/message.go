// Package message defines the wire-level message exchanged between agents
// and the metadata conventions used for request/response correlation.
package message

import (
	"encoding/json"
	"time"
)

// Type enumerates the kinds of messages an agent can receive or emit.
type Type string

const (
	TypeText                  Type = "text"
	TypeRequestCollaboration  Type = "request_collaboration"
	TypeCollaborationResponse Type = "collaboration_response"
	TypeResponse              Type = "response"
	TypeError                 Type = "error"
)

// Well-known metadata keys.
const (
	MetaRequestID  = "request_id"
	MetaResponseTo = "response_to"
	MetaTokenCount = "token_count"
	MetaErrorType  = "error_type"
	MetaHandled    = "handled_error"
	MetaRetryAfter = "retry_after_seconds"
)

// Message is a single unit of communication between two participants.
// Sender and Receiver are participant IDs; Proof is an opaque identity
// proof supplied by the transport and passed through untouched.
type Message struct {
	Sender   string         `json:"sender"`
	Receiver string         `json:"receiver"`
	Content  string         `json:"content"`
	Type     Type           `json:"type"`
	Proof    string         `json:"proof,omitempty"`
	SentAt   time.Time      `json:"sent_at,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MetaString reads a metadata value as a string, tolerating absent keys
// and non-string values. JSON decoding turns numbers into float64, so
// those are not converted; correlation keys are always strings on the wire.
func (m *Message) MetaString(key string) string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	if v, ok := m.Metadata[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// SetMeta sets a metadata value, allocating the map on first use.
func (m *Message) SetMeta(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
}

// IsErrorTagged reports whether this is an error message carrying the
// given error tag in its metadata.
func (m *Message) IsErrorTagged(tags ...string) bool {
	if m.Type != TypeError {
		return false
	}
	et := m.MetaString(MetaErrorType)
	for _, tag := range tags {
		if et == tag {
			return true
		}
	}
	return false
}

// Marshal encodes the message as JSON for transport framing.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal decodes a JSON frame into a Message.
func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
