package gateway

import "encoding/json"

// Inbound message types.
const (
	TypeAuthenticate  = "authenticate"
	TypePing          = "ping"
	TypeRequestStatus = "request_status"
)

// Outbound message types. Status events keep the type tag they were
// published with (image_update / status_update).
const (
	TypeConnectionEstablished = "connection_established"
	TypePong                  = "pong"
	TypeError                 = "error"
)

// Close codes sent to clients on auth failures.
const (
	CloseInvalidToken  = 4001
	CloseNotAuthorized = 4003
	CloseAuthTimeout   = 4008
)

// inboundMessage is the envelope for every client message. Dispatch is
// purely on Type; unknown tags get an error reply, never a disconnect.
// Timestamp stays raw so a pong echoes the client's value byte for byte.
type inboundMessage struct {
	Type      string          `json:"type"`
	Token     string          `json:"token,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type establishedMessage struct {
	Type    string `json:"type"`
	MediaID string `json:"media_id"`
	Message string `json:"message"`
}

type pongMessage struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type pingMessage struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
