// Package v1 defines the Pigeon Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server) and carries the access token.
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeSendMessage requests sending a new message into a chat (client -> server).
	TypeSendMessage = "send-message"
	// TypeMessageAck acknowledges a send request (server -> client).
	TypeMessageAck = "message-ack"
	// TypeIncomingMessage delivers a persisted message (server -> chat participants).
	TypeIncomingMessage = "incoming-message"

	// TypePlaceCall offers a call to another identity (client -> server).
	TypePlaceCall = "place-call"
	// TypeIncomingCall notifies the callee of an offer (server -> client).
	TypeIncomingCall = "incoming-call"
	// TypeAcceptCall answers an offered call (client -> server).
	TypeAcceptCall = "accept-call"
	// TypeCallAnswered forwards the answer to the caller (server -> client).
	TypeCallAnswered = "call-answered"
	// TypeICECandidate relays an ICE candidate in either direction.
	TypeICECandidate = "ice-candidate"
	// TypeEndCall hangs up an active or offered call (client -> server).
	TypeEndCall = "end-call"
	// TypeCallEnded notifies the remaining party of a hangup (server -> client).
	TypeCallEnded = "call-ended"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeSendMessage,
		TypeMessageAck,
		TypeIncomingMessage,
		TypePlaceCall,
		TypeIncomingCall,
		TypeAcceptCall,
		TypeCallAnswered,
		TypeICECandidate,
		TypeEndCall,
		TypeCallEnded,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client to associate the socket with an identity.
// The identity is always derived from the access token, never from the payload.
type HelloPayload struct {
	AccessToken string `json:"access_token"`
}

// HelloAckPayload confirms registration and echoes the server-side handle id.
type HelloAckPayload struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

// SendMessagePayload requests sending a message into a chat.
// Either Text or the media pair must be present.
type SendMessagePayload struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
}

// MessageAckPayload returns the canonical server ids for an accepted send.
type MessageAckPayload struct {
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	ServerTS  time.Time `json:"server_ts"`
}

// IncomingMessagePayload is broadcast to chat participants after persistence.
type IncomingMessagePayload struct {
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
	MediaURL  string    `json:"media_url,omitempty"`
	ServerTS  time.Time `json:"server_ts"`
}

// PlaceCallPayload offers a call. Offer is an opaque SDP blob.
type PlaceCallPayload struct {
	ToUserID string          `json:"to_user_id"`
	Offer    json.RawMessage `json:"offer"`
}

// IncomingCallPayload notifies the callee of a pending offer.
type IncomingCallPayload struct {
	FromUserID string          `json:"from_user_id"`
	Offer      json.RawMessage `json:"offer"`
}

// AcceptCallPayload answers an offered call. Answer is an opaque SDP blob.
type AcceptCallPayload struct {
	ToUserID string          `json:"to_user_id"`
	Answer   json.RawMessage `json:"answer"`
}

// CallAnsweredPayload forwards the answer to the caller.
type CallAnsweredPayload struct {
	FromUserID string          `json:"from_user_id"`
	Answer     json.RawMessage `json:"answer"`
}

// ICECandidatePayload relays a candidate. Candidate is opaque to the server;
// application order on the receiving side is the receiver's concern.
type ICECandidatePayload struct {
	ToUserID   string          `json:"to_user_id,omitempty"`
	FromUserID string          `json:"from_user_id,omitempty"`
	Candidate  json.RawMessage `json:"candidate"`
}

// EndCallPayload hangs up the call with the given party.
type EndCallPayload struct {
	ToUserID string `json:"to_user_id"`
}

// CallEndedPayload notifies the remaining party that the call is over.
type CallEndedPayload struct {
	ByUserID string `json:"by_user_id"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
