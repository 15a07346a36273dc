/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package session

// Kind represents a session kind.
type Kind int

const (
	// Client represents a client to server session.
	Client Kind = iota + 1

	// OutgoingServer represents a locally initiated server to server session.
	OutgoingServer

	// IncomingServer represents a remotely initiated server to server session.
	IncomingServer

	// Component represents an external component session.
	Component

	// Multiplexer represents a connection manager session.
	Multiplexer
)

// String returns Kind string representation.
func (k Kind) String() string {
	switch k {
	case Client:
		return "c2s"
	case OutgoingServer:
		return "s2s_out"
	case IncomingServer:
		return "s2s_in"
	case Component:
		return "component"
	case Multiplexer:
		return "multiplexer"
	}
	return ""
}

// Status represents a session lifecycle status.
// Transitions are monotonic: a session never goes back to a former status.
type Status int32

const (
	// Connecting represents a session whose transport has just been established.
	Connecting Status = iota

	// Negotiating represents a session going through stream feature negotiation.
	Negotiating

	// Authenticated represents a ready session.
	Authenticated

	// Closed represents a terminated session.
	Closed
)

// String returns Status string representation.
func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Negotiating:
		return "negotiating"
	case Authenticated:
		return "authenticated"
	case Closed:
		return "closed"
	}
	return ""
}
