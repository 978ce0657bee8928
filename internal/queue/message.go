package queue

import (
	"encoding/json"
	"errors"
	"strings"
)

// Job kinds understood by the worker.
const (
	KindQuoteExecute     = "quote.execute"
	KindDocumentsExecute = "documents.execute"
)

// ErrInvalidMessage is returned when a decoded payload lacks a kind or target.
var ErrInvalidMessage = errors.New("invalid queue message")

// Message is the payload sent to downstream queue consumers.
type Message struct {
	Kind       string `json:"kind"`
	TargetID   string `json:"targetId"`
	RequestID  string `json:"requestId,omitempty"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	msg.Kind = strings.TrimSpace(msg.Kind)
	msg.TargetID = strings.TrimSpace(msg.TargetID)
	if msg.Kind == "" || msg.TargetID == "" {
		return Message{}, ErrInvalidMessage
	}
	return msg, nil
}
