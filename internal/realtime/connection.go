package realtime

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// State is the connection lifecycle state. Transitions are monotonic
// (Connecting -> Authenticated -> Active); Closing and Error are absorbing.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosing
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Eligible reports whether the connection may be selected as a broadcast target.
func (s State) Eligible() bool {
	return s == StateAuthenticated || s == StateActive
}

// Terminal reports whether the state is absorbing.
func (s State) Terminal() bool {
	return s == StateClosing || s == StateError
}

// Connection is the hub-side record of one accepted transport session.
// All fields are owned by the hub goroutine; nothing here is safe to touch
// from outside it except through hub commands.
type Connection struct {
	ID            string
	OwnerUserID   string
	OwnerClientID string
	RemoteAddr    string
	UserAgent     string
	ConnectedAt   time.Time
	LastActiveAt  time.Time
	State         State
	Channels      map[string]struct{}
	LastError     string

	pendingAuthToken string
	authPending      bool // ticket validation in flight
	authTimer        clockwork.Timer
	writer           *connWriter
}

// setState applies a transition, ignoring anything after a terminal state.
func (c *Connection) setState(s State) {
	if c.State.Terminal() {
		return
	}
	c.State = s
}

// fail moves the connection to Error and records the reason. Idempotent:
// the first recorded error wins.
func (c *Connection) fail(reason string) {
	if c.State == StateError {
		return
	}
	c.setState(StateError)
	if c.LastError == "" {
		c.LastError = reason
	}
	c.pendingAuthToken = ""
}

// cancelAuthTimer stops the handshake grace timer if one is pending.
func (c *Connection) cancelAuthTimer() {
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
}
