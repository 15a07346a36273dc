/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package streamerror

import (
	"github.com/jackal-im/presenced/xmpp"
)

const streamsNamespace = "urn:ietf:params:xml:ns:xmpp-streams"

// Error represents a "stream:error" element.
// Every stream error is unrecoverable: once sent the underlying stream is closed.
type Error struct {
	reason string
}

var (
	// ErrInvalidXML represents 'invalid-xml' stream error.
	ErrInvalidXML = newStreamError("invalid-xml")

	// ErrInvalidNamespace represents 'invalid-namespace' stream error.
	ErrInvalidNamespace = newStreamError("invalid-namespace")

	// ErrHostUnknown represents 'host-unknown' stream error.
	ErrHostUnknown = newStreamError("host-unknown")

	// ErrInvalidFrom represents 'invalid-from' stream error.
	ErrInvalidFrom = newStreamError("invalid-from")

	// ErrConflict represents 'conflict' stream error.
	ErrConflict = newStreamError("conflict")

	// ErrConnectionTimeout represents 'connection-timeout' stream error.
	ErrConnectionTimeout = newStreamError("connection-timeout")

	// ErrUnsupportedStanzaType represents 'unsupported-stanza-type' stream error.
	ErrUnsupportedStanzaType = newStreamError("unsupported-stanza-type")

	// ErrUnsupportedVersion represents 'unsupported-version' stream error.
	ErrUnsupportedVersion = newStreamError("unsupported-version")

	// ErrNotAuthorized represents 'not-authorized' stream error.
	ErrNotAuthorized = newStreamError("not-authorized")

	// ErrPolicyViolation represents 'policy-violation' stream error.
	ErrPolicyViolation = newStreamError("policy-violation")

	// ErrRemoteConnectionFailed represents 'remote-connection-failed' stream error.
	ErrRemoteConnectionFailed = newStreamError("remote-connection-failed")

	// ErrResourceConstraint represents 'resource-constraint' stream error.
	ErrResourceConstraint = newStreamError("resource-constraint")

	// ErrSystemShutdown represents 'system-shutdown' stream error.
	ErrSystemShutdown = newStreamError("system-shutdown")

	// ErrUndefinedCondition represents 'undefined-condition' stream error.
	ErrUndefinedCondition = newStreamError("undefined-condition")

	// ErrInternalServerError represents 'internal-server-error' stream error.
	ErrInternalServerError = newStreamError("internal-server-error")
)

func newStreamError(reason string) *Error {
	return &Error{reason: reason}
}

// Element returns stream error XML node.
func (se *Error) Element() xmpp.XElement {
	ret := xmpp.NewElementName("stream:error")
	ret.AppendElement(xmpp.NewElementNamespace(se.reason, streamsNamespace))
	return ret
}

// Error satisfies error interface.
func (se *Error) Error() string {
	return se.reason
}
