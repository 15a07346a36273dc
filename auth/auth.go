/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package auth

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/jackal-im/presenced/model"
	"github.com/jackal-im/presenced/xmpp"
	"golang.org/x/crypto/pbkdf2"
)

// SASLNamespace is the XMPP SASL namespace.
const SASLNamespace = "urn:ietf:params:xml:ns:xmpp-sasl"

// Authenticator defines a generic SASL authenticator state machine.
type Authenticator interface {
	// Mechanism returns authenticator mechanism name.
	Mechanism() string

	// Username returns authenticated username in case
	// authentication process has been completed.
	Username() string

	// Authenticated returns whether or not user has been authenticated.
	Authenticated() bool

	// UsesChannelBinding returns whether or not this authenticator
	// requires channel binding bytes.
	UsesChannelBinding() bool

	// ProcessElement processes an incoming <auth/> or <response/> element returning
	// the element to be sent back to the peer (<challenge/> or <success/>).
	ProcessElement(ctx context.Context, elem xmpp.XElement) (xmpp.XElement, error)

	// Reset resets authenticator internal state.
	Reset()
}

// SASLError represents specific SASL error type.
type SASLError struct {
	reason string
}

func newSASLError(reason string) error {
	return &SASLError{reason}
}

// Element returns the <failure/> element carrying this error condition.
func (se *SASLError) Element() xmpp.XElement {
	failure := xmpp.NewElementNamespace("failure", SASLNamespace)
	failure.AppendElement(xmpp.NewElementName(se.reason))
	return failure
}

// Error satisfies error interface.
func (se *SASLError) Error() string {
	return se.reason
}

var (
	// ErrSASLEncryptionRequired represents an 'encryption-required' authentication error.
	ErrSASLEncryptionRequired = newSASLError("encryption-required")

	// ErrSASLAborted represents an 'aborted' authentication error.
	ErrSASLAborted = newSASLError("aborted")

	// ErrSASLIncorrectEncoding represents a 'incorrect-encoding' authentication error.
	ErrSASLIncorrectEncoding = newSASLError("incorrect-encoding")

	// ErrSASLInvalidMechanism represents an 'invalid-mechanism' authentication error.
	ErrSASLInvalidMechanism = newSASLError("invalid-mechanism")

	// ErrSASLMalformedRequest represents a 'malformed-request' authentication error.
	ErrSASLMalformedRequest = newSASLError("malformed-request")

	// ErrSASLNotAuthorized represents a 'not-authorized' authentication error.
	ErrSASLNotAuthorized = newSASLError("not-authorized")

	// ErrSASLTemporaryAuthFailure represents a 'temporary-auth-failure' authentication error.
	ErrSASLTemporaryAuthFailure = newSASLError("temporary-auth-failure")
)

// verifyPassword checks a clear text password against the stored credentials.
func verifyPassword(user *model.User, password string) bool {
	if len(user.PasswordScramSHA256) > 0 {
		salted := pbkdf2.Key([]byte(password), user.Salt, user.IterationCount, sha256.Size, sha256.New)
		return subtle.ConstantTimeCompare(salted, user.PasswordScramSHA256) == 1
	}
	if len(user.PasswordScramSHA1) > 0 {
		salted := pbkdf2.Key([]byte(password), user.Salt, user.IterationCount, sha1.Size, sha1.New)
		return subtle.ConstantTimeCompare(salted, user.PasswordScramSHA1) == 1
	}
	if len(user.Password) > 0 {
		return subtle.ConstantTimeCompare([]byte(password), []byte(user.Password)) == 1
	}
	return false
}
