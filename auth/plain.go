/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package auth

import (
	"bytes"
	"context"
	"encoding/base64"

	"github.com/jackal-im/presenced/storage/repository"
	"github.com/jackal-im/presenced/xmpp"
)

// Plain represents a PLAIN authenticator.
type Plain struct {
	userRep       repository.User
	username      string
	authenticated bool
}

// NewPlain returns a new plain authenticator instance.
func NewPlain(userRep repository.User) *Plain {
	return &Plain{userRep: userRep}
}

// Mechanism returns authenticator mechanism name.
func (p *Plain) Mechanism() string {
	return "PLAIN"
}

// Username returns authenticated username in case
// authentication process has been completed.
func (p *Plain) Username() string {
	return p.username
}

// Authenticated returns whether or not user has been authenticated.
func (p *Plain) Authenticated() bool {
	return p.authenticated
}

// UsesChannelBinding returns whether or not plain authenticator
// requires channel binding bytes.
func (p *Plain) UsesChannelBinding() bool {
	return false
}

// ProcessElement process an incoming authenticator element.
func (p *Plain) ProcessElement(ctx context.Context, elem xmpp.XElement) (xmpp.XElement, error) {
	if p.authenticated {
		return nil, nil
	}
	if len(elem.Text()) == 0 {
		return nil, ErrSASLMalformedRequest
	}
	b, err := base64.StdEncoding.DecodeString(elem.Text())
	if err != nil {
		return nil, ErrSASLIncorrectEncoding
	}
	s := bytes.Split(b, []byte{0})
	if len(s) != 3 {
		return nil, ErrSASLIncorrectEncoding
	}
	authzID := string(s[0])
	username := string(s[1])
	password := string(s[2])

	if len(authzID) > 0 && authzID != username {
		return nil, ErrSASLNotAuthorized
	}
	user, err := p.userRep.FetchUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil || !verifyPassword(user, password) {
		return nil, ErrSASLNotAuthorized
	}
	p.username = username
	p.authenticated = true

	return xmpp.NewElementNamespace("success", SASLNamespace), nil
}

// Reset resets plain authenticator internal state.
func (p *Plain) Reset() {
	p.username = ""
	p.authenticated = false
}
