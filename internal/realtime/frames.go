package realtime

import (
	"encoding/json"
	"fmt"
)

// CloseAuthFailure is sent when authentication fails or times out.
// Normal closure (1000) and internal error (1011) come from gorilla/websocket.
const CloseAuthFailure = 4001

// Inbound frame types.
const (
	TypeAuthenticate = "authenticate"
	TypeIdentify     = "identify"
	TypeJoin         = "join"
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypePing         = "ping"
	TypeMessage      = "message"
)

// Outbound frame types.
const (
	TypeConnection    = "connection"
	TypeAuthenticated = "authenticated"
	TypeIdentified    = "identified"
	TypeSubscribed    = "subscribed"
	TypeUnsubscribed  = "unsubscribed"
	TypePong          = "pong"
	TypeError         = "error"
	TypeJobProgress   = "job_progress"
)

// envelope is the wire shape of every frame in both directions.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// inboundFrame is the closed set of client-to-server frames. Payloads are
// decoded and validated at the boundary, before any handler sees them.
type inboundFrame interface{ frameType() string }

type authenticateFrame struct {
	Token string `json:"token"`
}

func (authenticateFrame) frameType() string { return TypeAuthenticate }

type identifyFrame struct {
	UserID string `json:"userId"`
}

func (identifyFrame) frameType() string { return TypeIdentify }

type subscribeFrame struct {
	Channel       string `json:"channel"`
	OwnerClientID string `json:"ownerClientId,omitempty"`

	// verb records how the client spelt it: join and subscribe share a
	// payload but are counted separately.
	verb string
}

func (f subscribeFrame) frameType() string {
	if f.verb == TypeJoin {
		return TypeJoin
	}
	return TypeSubscribe
}

type unsubscribeFrame struct {
	Channel string `json:"channel"`
}

func (unsubscribeFrame) frameType() string { return TypeUnsubscribe }

type pingFrame struct {
	Timestamp int64 `json:"timestamp"`
}

func (pingFrame) frameType() string { return TypePing }

type relayFrame struct {
	Target string          `json:"target"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (relayFrame) frameType() string { return TypeMessage }

// frameError marks a frame that parsed as JSON but violates the protocol.
// The connection answers with an error frame and stays open.
type frameError struct {
	reason string
}

func (e *frameError) Error() string { return e.reason }

func protocolErr(format string, args ...any) error {
	return &frameError{reason: fmt.Sprintf(format, args...)}
}

// decodeFrame parses and validates one inbound frame.
func decodeFrame(data []byte) (inboundFrame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, protocolErr("malformed frame: %v", err)
	}
	if env.Type == "" {
		return nil, protocolErr("missing frame type")
	}

	switch env.Type {
	case TypeAuthenticate:
		var f authenticateFrame
		if err := decodePayload(env.Payload, &f); err != nil {
			return nil, err
		}
		if f.Token == "" {
			return nil, protocolErr("authenticate: token is required")
		}
		return f, nil

	case TypeIdentify:
		var f identifyFrame
		if err := decodePayload(env.Payload, &f); err != nil {
			return nil, err
		}
		if f.UserID == "" {
			return nil, protocolErr("identify: userId is required")
		}
		return f, nil

	case TypeJoin, TypeSubscribe:
		var f subscribeFrame
		if err := decodePayload(env.Payload, &f); err != nil {
			return nil, err
		}
		if f.Channel == "" {
			return nil, protocolErr("%s: channel is required", env.Type)
		}
		f.verb = env.Type
		return f, nil

	case TypeUnsubscribe:
		var f unsubscribeFrame
		if err := decodePayload(env.Payload, &f); err != nil {
			return nil, err
		}
		if f.Channel == "" {
			return nil, protocolErr("unsubscribe: channel is required")
		}
		return f, nil

	case TypePing:
		var f pingFrame
		if err := decodePayload(env.Payload, &f); err != nil {
			return nil, err
		}
		return f, nil

	case TypeMessage:
		var f relayFrame
		if err := decodePayload(env.Payload, &f); err != nil {
			return nil, err
		}
		if f.Target == "" {
			return nil, protocolErr("message: target is required")
		}
		return f, nil
	}

	return nil, protocolErr("unknown frame type %q", env.Type)
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return protocolErr("malformed payload: %v", err)
	}
	return nil
}

// encodeFrame serializes an outbound frame. Payload shapes are fixed per
// type, so a marshal failure indicates a programming error and is returned
// for the caller to log rather than panic on.
func encodeFrame(frameType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", frameType, err)
	}
	data, err := json.Marshal(envelope{Type: frameType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", frameType, err)
	}
	return data, nil
}

// Outbound payload shapes.

type connectionPayload struct {
	Message      string `json:"message"`
	ConnectionID string `json:"connectionId"`
	RequiresAuth bool   `json:"requiresAuth"`
}

type authenticatedPayload struct {
	Success bool `json:"success"`
}

type identifiedPayload struct {
	UserID string `json:"userId"`
}

type subscribedPayload struct {
	Channel       string `json:"channel"`
	OwnerClientID string `json:"ownerClientId,omitempty"`
}

type unsubscribedPayload struct {
	Channel string `json:"channel"`
}

type serverPingPayload struct {
	Timestamp  int64 `json:"timestamp"`
	ServerTime int64 `json:"serverTime"`
}

type pongPayload struct {
	Timestamp  int64 `json:"timestamp"`
	ServerTime int64 `json:"serverTime"`
	ClientTime int64 `json:"clientTime"`
}

type errorPayload struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type relayedPayload struct {
	Channel  string          `json:"channel"`
	SenderID string          `json:"senderId"`
	Data     json.RawMessage `json:"data,omitempty"`
}
