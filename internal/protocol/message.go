package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message is any protocol message that can be put on the wire.
// Encoding is the serde-style tagged JSON both peers agree on:
// a nullary variant is a bare JSON string ("Create"), a variant with
// a payload is a single-key object ({"Join":42}).
type Message interface {
	encode() ([]byte, error)
}

// ClientMessage is a message sent by the game client to the server.
type ClientMessage interface {
	Message
	clientMessage()
}

// ServerMessage is a message sent by the server to the game client.
type ServerMessage interface {
	Message
	serverMessage()
}

// Create requests a new open game.
type Create struct{}

// Join requests to join the open game with the given code.
type Join struct {
	Code uint32
}

// Move submits a wager for the next turn.
type Move struct {
	Wager uint32
}

func (Create) clientMessage() {}
func (Join) clientMessage()   {}
func (Move) clientMessage()   {}

// Created tells the creator its game is open under Code.
type Created struct {
	Code uint32
}

// JoinFail tells the joiner there is no such open game.
type JoinFail struct{}

// Start announces the fixed game parameters to both players.
type Start struct {
	NumberTurns uint32 `json:"number_turns"`
	TotalPoints uint32 `json:"total_points"`
}

// TurnResult carries the sign of opponent_wager - my_wager: -1, 0 or +1.
type TurnResult struct {
	Cmp int8
}

// EndOfGame announces that all turns have been played.
type EndOfGame struct{}

// ConnectionLost announces that the partner disconnected mid-game.
type ConnectionLost struct{}

// ProtocolError announces that the last client message was invalid
// for the connection's current state.
type ProtocolError struct{}

// ServerError announces an internal server failure.
type ServerError struct{}

func (Created) serverMessage()        {}
func (JoinFail) serverMessage()       {}
func (Start) serverMessage()          {}
func (TurnResult) serverMessage()     {}
func (EndOfGame) serverMessage()      {}
func (ConnectionLost) serverMessage() {}
func (ProtocolError) serverMessage()  {}
func (ServerError) serverMessage()    {}

func unit(tag string) ([]byte, error) {
	return json.Marshal(tag)
}

func tagged(tag string, payload any) ([]byte, error) {
	data, err := json.Marshal(map[string]any{tag: payload})
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", tag, err)
	}
	return data, nil
}

func (Create) encode() ([]byte, error)         { return unit("Create") }
func (m Join) encode() ([]byte, error)         { return tagged("Join", m.Code) }
func (m Move) encode() ([]byte, error)         { return tagged("Move", m.Wager) }
func (m Created) encode() ([]byte, error)      { return tagged("Created", m.Code) }
func (JoinFail) encode() ([]byte, error)       { return unit("JoinFail") }
func (m Start) encode() ([]byte, error)        { return tagged("Start", m) }
func (m TurnResult) encode() ([]byte, error)   { return tagged("TurnResult", m.Cmp) }
func (EndOfGame) encode() ([]byte, error)      { return unit("EndOfGame") }
func (ConnectionLost) encode() ([]byte, error) { return unit("ConnectionLost") }
func (ProtocolError) encode() ([]byte, error)  { return unit("ProtocolError") }
func (ServerError) encode() ([]byte, error)    { return unit("ServerError") }

// splitTag extracts the variant tag and the optional payload from one frame.
func splitTag(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil, fmt.Errorf("empty frame")
	}
	switch data[0] {
	case '"':
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return "", nil, fmt.Errorf("decoding tag: %w", err)
		}
		return tag, nil, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", nil, fmt.Errorf("decoding tagged object: %w", err)
		}
		if len(obj) != 1 {
			return "", nil, fmt.Errorf("tagged object must have exactly one key, got %d", len(obj))
		}
		for tag, payload := range obj {
			return tag, payload, nil
		}
	}
	return "", nil, fmt.Errorf("invalid frame start byte 0x%02x", data[0])
}

func payloadInto(tag string, payload json.RawMessage, dst any) error {
	if payload == nil {
		return fmt.Errorf("%s requires a payload", tag)
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("decoding %s payload: %w", tag, err)
	}
	return nil
}

// DecodeClientMessage decodes one framed client message.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	tag, payload, err := splitTag(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case "Create":
		return Create{}, nil
	case "Join":
		var m Join
		if err := payloadInto(tag, payload, &m.Code); err != nil {
			return nil, err
		}
		return m, nil
	case "Move":
		var m Move
		if err := payloadInto(tag, payload, &m.Wager); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown client message tag %q", tag)
	}
}

// DecodeServerMessage decodes one framed server message.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	tag, payload, err := splitTag(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case "Created":
		var m Created
		if err := payloadInto(tag, payload, &m.Code); err != nil {
			return nil, err
		}
		return m, nil
	case "JoinFail":
		return JoinFail{}, nil
	case "Start":
		var m Start
		if err := payloadInto(tag, payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "TurnResult":
		var m TurnResult
		if err := payloadInto(tag, payload, &m.Cmp); err != nil {
			return nil, err
		}
		if m.Cmp < -1 || m.Cmp > 1 {
			return nil, fmt.Errorf("TurnResult out of range: %d", m.Cmp)
		}
		return m, nil
	case "EndOfGame":
		return EndOfGame{}, nil
	case "ConnectionLost":
		return ConnectionLost{}, nil
	case "ProtocolError":
		return ProtocolError{}, nil
	case "ServerError":
		return ServerError{}, nil
	default:
		return nil, fmt.Errorf("unknown server message tag %q", tag)
	}
}
