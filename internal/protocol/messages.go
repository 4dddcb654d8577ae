package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type              string     `json:"type"`
	ProtocolVersion   string     `json:"protocol_version"`
	SupportedVersions []string   `json:"supported_versions,omitempty"`
	Role              string     `json:"role"`
	ClientName        string     `json:"client_name,omitempty"`
	Coordinator       string     `json:"coordinator,omitempty"`
	Auth              *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	SessionID       string        `json:"session_id"`
	BookID          string        `json:"book_id"`
	Role            string        `json:"role"`
	Subscription    *Subscription `json:"subscription,omitempty"`
	Pending         int           `json:"pending"`
	Seq             uint64        `json:"seq"`
}

// Subscription mirrors the configured VRF subscription.
type Subscription struct {
	SubscriptionID       uint64 `json:"subscription_id"`
	Coordinator          string `json:"coordinator"`
	KeyHash              string `json:"key_hash"`
	CallbackGasLimit     uint32 `json:"callback_gas_limit"`
	RequestConfirmations uint16 `json:"request_confirmations"`
	NumWords             uint32 `json:"num_words"`
}

// RANDOM_REQUEST (server -> oracle)
type RandomRequestMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	RequestID       uint64       `json:"request_id"`
	Subscription    Subscription `json:"subscription"`
	// Replay is set when the request is re-sent after a reconnect.
	Replay bool `json:"replay,omitempty"`
}

// FULFILL (oracle -> server). Words are 0x-prefixed 32-byte hex strings.
type FulfillMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	RequestID       uint64   `json:"request_id"`
	RandomWords     []string `json:"random_words"`
}

// FULFILL_ACK (server -> oracle)
type FulfillAckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       uint64 `json:"request_id"`
	Accepted        bool   `json:"accepted"`
	TokenID         uint64 `json:"token_id,omitempty"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// EVENT (server -> observer)
type EventMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Event           json.RawMessage `json:"event"`
}

// ERROR (server -> client) precedes closing a connection that failed the handshake.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
