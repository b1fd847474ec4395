package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatRequest MessageType = "chat_request"
	TypeChatDelta   MessageType = "chat_delta"
	TypeChatDone    MessageType = "chat_done"
	TypeErrorEvent  MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest asks for one streamed completion over the conversation so far.
type ChatRequest struct {
	Type      MessageType   `json:"type"`
	RequestID string        `json:"request_id,omitempty"`
	Messages  []ChatMessage `json:"messages"`
}

type ChatDelta struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Seq       int         `json:"seq"`
	TextDelta string      `json:"text_delta"`
}

type ChatDone struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Text      string      `json:"text"`
	// Streamed is false when the backend answered in a single chunk.
	Streamed bool `json:"streamed"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

var validRoles = map[string]struct{}{
	"system":    {},
	"user":      {},
	"assistant": {},
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatRequest:
		var msg ChatRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if len(msg.Messages) == 0 {
			return nil, errors.New("invalid chat_request: messages are required")
		}
		for i, m := range msg.Messages {
			if _, ok := validRoles[m.Role]; !ok {
				return nil, fmt.Errorf("invalid chat_request: message %d has role %q", i, m.Role)
			}
			if strings.TrimSpace(m.Content) == "" {
				return nil, fmt.Errorf("invalid chat_request: message %d is empty", i)
			}
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
