package streaming

import (
	"encoding/json"
	"errors"
	"time"
)

type MessageType string

const (
	MessageTypeAddress MessageType = "address"
	MessageTypeChain   MessageType = "chain"
	MessageTypeRun     MessageType = "run"
)

// Message is the wire format for published scan results.
type Message struct {
	Type     MessageType `json:"type"`
	RunID    string      `json:"run_id"`
	Mode     string      `json:"mode,omitempty"`
	TraceID  string      `json:"trace_id,omitempty"`
	Chain    string      `json:"chain,omitempty"`
	Address  string      `json:"address,omitempty"`
	Count    uint64      `json:"count,omitempty"`
	Position int         `json:"position,omitempty"`
	Records  uint64      `json:"records,omitempty"`
	Findings uint64      `json:"findings,omitempty"`
	Unique   int         `json:"unique,omitempty"`

	// Set on run messages only.
	Total      int        `json:"total,omitempty"`
	ChainCount int        `json:"chain_count,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	WindowFrom *time.Time `json:"window_from,omitempty"`
	WindowTo   *time.Time `json:"window_to,omitempty"`
}

func Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, errors.New("message type is required")
	}
	if msg.RunID == "" {
		return nil, errors.New("run_id is required")
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Type == "" {
		return Message{}, errors.New("message type is missing")
	}
	if msg.RunID == "" {
		return Message{}, errors.New("run_id is missing")
	}
	return msg, nil
}
