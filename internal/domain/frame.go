// Package domain contains the wire frames exchanged with the client, without logic.
package domain

import "encoding/json"

type Command string

const (
	CmdInit        Command = "INIT"
	CmdCall        Command = "CALL"
	CmdStaticCall  Command = "STATIC_CALL"
	CmdSubscribe   Command = "SUBSCRIBE"
	CmdUnsubscribe Command = "UNSUBSCRIBE"
)

type FrameType string

const (
	TypeResponse FrameType = "RESPONSE"
	TypeError    FrameType = "ERROR"
	TypeEvent    FrameType = "EVENT"
)

// InitResult is the result of a successful INIT.
const InitResult = "Initialized"

// NullID is echoed when the request id cannot be recovered.
var NullID = json.RawMessage("null")

// Request is the envelope of an inbound frame. Payload holds the whole frame
// so handlers can decode their own fields from it.
type Request struct {
	Cmd     Command         `json:"cmd"`
	ID      json.RawMessage `json:"id,omitempty"`
	Payload json.RawMessage `json:"-"`
}

type InitPayload struct {
	AuthPath string         `json:"auth_path,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

type CallPayload struct {
	Method string `json:"method" validate:"required"`
	Args   []any  `json:"args"`
}

type SubscribePayload struct {
	Event string `json:"event" validate:"required"`
}

type Response struct {
	Type   FrameType       `json:"type"`
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result"`
}

type Error struct {
	Type  FrameType       `json:"type"`
	ID    json.RawMessage `json:"id"`
	Error string          `json:"error"`
}

// Event is never correlated to a request, so it has no id.
type Event struct {
	Type FrameType `json:"type"`
	Name string    `json:"name"`
	Data any       `json:"data"`
}
