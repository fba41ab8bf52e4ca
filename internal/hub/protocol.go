package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RecordSeparator terminates every frame of the JSON hub protocol.
const RecordSeparator byte = 0x1e

// MessageType identifies a hub protocol message.
type MessageType int

const (
	MsgInvocation       MessageType = 1
	MsgStreamItem       MessageType = 2
	MsgCompletion       MessageType = 3
	MsgStreamInvocation MessageType = 4
	MsgCancelInvocation MessageType = 5
	MsgPing             MessageType = 6
	MsgClose            MessageType = 7
)

// Message is the envelope for every hub protocol message after the
// handshake. Fields not used by a given type are omitted.
type Message struct {
	Type           MessageType       `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// MarshalJSON always writes the arguments array of an invocation, even
// when it is empty.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire Message
	if m.Type != MsgInvocation && m.Type != MsgStreamInvocation {
		return json.Marshal(wire(m))
	}
	args := m.Arguments
	if args == nil {
		args = []json.RawMessage{}
	}
	return json.Marshal(struct {
		wire
		Arguments []json.RawMessage `json:"arguments"`
	}{wire(m), args})
}

// HandshakeRequest is the first frame a client sends.
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse is the server's reply; an empty object means success.
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// DefaultHandshake selects the JSON protocol, version 1.
var DefaultHandshake = HandshakeRequest{Protocol: "json", Version: 1}

// EncodeFrame marshals v and appends the record separator.
func EncodeFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, RecordSeparator), nil
}

// SplitFrames splits a transport message into its frames. A single
// WebSocket message may carry several frames; empty frames are dropped.
func SplitFrames(data []byte) [][]byte {
	var out [][]byte
	for _, part := range bytes.Split(data, []byte{RecordSeparator}) {
		if len(bytes.TrimSpace(part)) == 0 {
			continue
		}
		out = append(out, part)
	}
	return out
}

// NewInvocation builds an invocation message, marshalling each argument.
func NewInvocation(id, target string, args ...any) (Message, error) {
	msg := Message{Type: MsgInvocation, InvocationID: id, Target: target, Arguments: []json.RawMessage{}}
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return Message{}, fmt.Errorf("argument %d of %s: %w", i, target, err)
		}
		msg.Arguments = append(msg.Arguments, raw)
	}
	return msg, nil
}

// Payload returns the first invocation argument, or JSON null when absent.
func (m Message) Payload() json.RawMessage {
	if len(m.Arguments) == 0 {
		return json.RawMessage("null")
	}
	return m.Arguments[0]
}
