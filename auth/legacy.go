/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package auth

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"

	"github.com/jackal-im/presenced/storage/repository"
	"github.com/jackal-im/presenced/xmpp"
)

// LegacyNamespace is the non-SASL authentication namespace used by pre-1.0 streams.
const LegacyNamespace = "jabber:iq:auth"

// Legacy implements non-SASL authentication (jabber:iq:auth).
type Legacy struct {
	userRep repository.User
}

// NewLegacy returns a non-SASL authenticator.
func NewLegacy(userRep repository.User) *Legacy {
	return &Legacy{userRep: userRep}
}

// Fields returns the result to an authentication fields request.
func (l *Legacy) Fields(iq *xmpp.IQ, allowDigest bool) *xmpp.IQ {
	username := xmpp.NewElementName("username")
	if query := iq.Elements().Child("query"); query != nil {
		if u := query.Elements().Child("username"); u != nil {
			username.SetText(u.Text())
		}
	}
	q := xmpp.NewElementNamespace("query", LegacyNamespace)
	q.AppendElement(username)
	q.AppendElement(xmpp.NewElementName("password"))
	if allowDigest {
		q.AppendElement(xmpp.NewElementName("digest"))
	}
	q.AppendElement(xmpp.NewElementName("resource"))

	res := iq.ResultIQ()
	res.AppendElement(q)
	return res
}

// Authenticate validates the credentials carried by an authentication set query,
// returning the authenticated username and requested resource.
func (l *Legacy) Authenticate(ctx context.Context, streamID string, query xmpp.XElement) (username string, resource string, err error) {
	usernameElem := query.Elements().Child("username")
	resourceElem := query.Elements().Child("resource")
	if usernameElem == nil || resourceElem == nil || len(usernameElem.Text()) == 0 || len(resourceElem.Text()) == 0 {
		return "", "", xmpp.ErrNotAcceptable
	}
	username = usernameElem.Text()
	resource = resourceElem.Text()

	user, err := l.userRep.FetchUser(ctx, username)
	if err != nil {
		return "", "", err
	}
	if user == nil {
		return "", "", xmpp.ErrNotAuthorized
	}
	if digest := query.Elements().Child("digest"); digest != nil {
		if len(user.Password) == 0 {
			return "", "", xmpp.ErrNotAuthorized
		}
		if subtle.ConstantTimeCompare([]byte(LegacyDigest(streamID, user.Password)), []byte(digest.Text())) != 1 {
			return "", "", xmpp.ErrNotAuthorized
		}
		return username, resource, nil
	}
	password := query.Elements().Child("password")
	if password == nil || !verifyPassword(user, password.Text()) {
		return "", "", xmpp.ErrNotAuthorized
	}
	return username, resource, nil
}

// LegacyDigest computes the non-SASL digest of a password for a given stream.
func LegacyDigest(streamID, password string) string {
	h := sha1.Sum([]byte(streamID + password))
	return hex.EncodeToString(h[:])
}
