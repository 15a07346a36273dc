/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import "strconv"

const stanzaErrorNamespace = "urn:ietf:params:xml:ns:xmpp-stanzas"

// StanzaError represents a stanza "error" element.
type StanzaError struct {
	code      int
	errorType string
	reason    string
}

func newStanzaError(code int, errorType string, reason string) *StanzaError {
	return &StanzaError{code: code, errorType: errorType, reason: reason}
}

// Error satisfies error interface.
func (se *StanzaError) Error() string { return se.reason }

// Reason returns the defined condition name.
func (se *StanzaError) Reason() string { return se.reason }

// Element returns StanzaError equivalent XML element.
func (se *StanzaError) Element() *Element {
	err := NewElementName("error")
	err.SetAttribute("code", strconv.Itoa(se.code))
	err.SetAttribute("type", se.errorType)
	err.AppendElement(NewElementNamespace(se.reason, stanzaErrorNamespace))
	return err
}

const (
	authErrorType   = "auth"
	cancelErrorType = "cancel"
	modifyErrorType = "modify"
	waitErrorType   = "wait"
)

var (
	// ErrBadRequest is returned when the sender has sent XML that cannot be processed.
	ErrBadRequest = newStanzaError(400, modifyErrorType, "bad-request")

	// ErrConflict is returned when access cannot be granted because an existing
	// resource or session exists with the same name or address.
	ErrConflict = newStanzaError(409, cancelErrorType, "conflict")

	// ErrFeatureNotImplemented is returned when the requested feature is not implemented.
	ErrFeatureNotImplemented = newStanzaError(501, cancelErrorType, "feature-not-implemented")

	// ErrForbidden is returned when the requesting entity lacks the required permissions.
	ErrForbidden = newStanzaError(403, authErrorType, "forbidden")

	// ErrInternalServerError is returned on misconfiguration or an otherwise-undefined internal error.
	ErrInternalServerError = newStanzaError(500, waitErrorType, "internal-server-error")

	// ErrItemNotFound is returned when the addressed JID or item cannot be found.
	ErrItemNotFound = newStanzaError(404, cancelErrorType, "item-not-found")

	// ErrJidMalformed is returned when the sending entity communicated an
	// XMPP address that does not adhere to the addressing syntax.
	ErrJidMalformed = newStanzaError(400, modifyErrorType, "jid-malformed")

	// ErrNotAcceptable is returned when the request does not meet the defined criteria.
	ErrNotAcceptable = newStanzaError(406, modifyErrorType, "not-acceptable")

	// ErrNotAllowed is returned when no entity is allowed to perform the action.
	ErrNotAllowed = newStanzaError(405, cancelErrorType, "not-allowed")

	// ErrNotAuthorized is returned when the sender must provide proper credentials first.
	ErrNotAuthorized = newStanzaError(401, authErrorType, "not-authorized")

	// ErrPolicyViolation is returned when the entity violated a local service policy.
	ErrPolicyViolation = newStanzaError(406, modifyErrorType, "policy-violation")

	// ErrRemoteServerNotFound is returned when a remote server cannot be resolved.
	ErrRemoteServerNotFound = newStanzaError(404, cancelErrorType, "remote-server-not-found")

	// ErrRemoteServerTimeout is returned when a remote server could not be
	// contacted within a reasonable amount of time.
	ErrRemoteServerTimeout = newStanzaError(504, waitErrorType, "remote-server-timeout")

	// ErrResourceConstraint is returned when the server lacks the resources to service the request.
	ErrResourceConstraint = newStanzaError(500, waitErrorType, "resource-constraint")

	// ErrServiceUnavailable is returned when the requested service is not provided.
	ErrServiceUnavailable = newStanzaError(503, cancelErrorType, "service-unavailable")

	// ErrUnexpectedRequest is returned when the request was not expected at this time.
	ErrUnexpectedRequest = newStanzaError(400, waitErrorType, "unexpected-request")
)
