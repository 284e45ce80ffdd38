package gateway

import "encoding/json"

// Built-in envelope types. Every other type is an opaque application message
// relayed verbatim to room peers.
const (
	TypeHeartbeat     = "heartbeat"
	TypeWelcome       = "welcome"
	TypeError         = "error"
	TypePresenceJoin  = "presence.join"
	TypePresenceLeave = "presence.leave"
)

// Envelope is the wire frame exchanged with clients.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	From    string          `json:"from,omitempty"`
}

func mustEnvelope(envelopeType, from string, payload any) []byte {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			panic(err)
		}
		raw = encoded
	}
	data, err := json.Marshal(Envelope{Type: envelopeType, Payload: raw, From: from})
	if err != nil {
		panic(err)
	}
	return data
}
