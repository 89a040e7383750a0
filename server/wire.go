// Package server owns everything between the listening socket and the
// instance loops: the websocket handshake, the pre-login session, and the
// server actor that holds the directory of instances and users.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/lguibr/lockstep/utils"
)

// ClientMessage is the single inbound message shape. Single-letter keys are
// wire protocol shared with the client; the one-shot account kinds spell
// their names out.
type ClientMessage struct {
	K string `json:"k"`

	// Login and one-shot account fields.
	U string `json:"u"`
	P string `json:"p"`
	N string `json:"n"`
	D string `json:"d"`
	R string `json:"r"`

	// Event fields. Frame and serial stay json.Number so a non-integer is
	// detected rather than truncated.
	F json.Number `json:"f"`
	S json.Number `json:"s"`
	I string      `json:"i"`
	O string      `json:"o"`
	A string      `json:"a"`

	// Chat.
	M string `json:"m"`
}

// FrameNumber returns the f field as an integer frame number.
func (m *ClientMessage) FrameNumber() (int64, error) {
	return wholeNumber(m.F, "frame")
}

// SerialNumber returns the s field as an integer command serial.
func (m *ClientMessage) SerialNumber() (int64, error) {
	return wholeNumber(m.S, "serial")
}

func wholeNumber(n json.Number, field string) (int64, error) {
	if n == "" {
		return 0, fmt.Errorf("missing %s field", field)
	}
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", field)
	}
	return v, nil
}

// ParseClientMessages decodes one inbound text frame. A JSON array body is
// dispatched element by element; anything else is a single message. The
// caller aborts the batch on the first element that fails admission.
func ParseClientMessages(data []byte) ([]ClientMessage, error) {
	if len(data) > utils.MaxMessageBytes {
		return nil, fmt.Errorf("message too large")
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	if trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("malformed message batch")
		}
		msgs := make([]ClientMessage, 0, len(batch))
		for _, raw := range batch {
			msg, err := parseOne(raw)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
		}
		return msgs, nil
	}

	msg, err := parseOne(trimmed)
	if err != nil {
		return nil, err
	}
	return []ClientMessage{msg}, nil
}

func parseOne(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("malformed message")
	}
	if msg.K == "" {
		return ClientMessage{}, fmt.Errorf("missing message kind")
	}
	return msg, nil
}

// PreloginList ("U") answers a prelogin request with the instance names.
type PreloginList struct {
	K string   `json:"k"`
	N string   `json:"n"`
	L []string `json:"l"`
}
