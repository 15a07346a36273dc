/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/jackal-im/presenced/xmpp"
)

const (
	dbResultName = "db:result"
	dbVerifyName = "db:verify"

	dbTypeValid   = "valid"
	dbTypeInvalid = "invalid"
)

// keyGen generates and verifies dialback keys.
type keyGen struct {
	secret string
}

// generate returns the dialback key of a stream opened by originating against receiving.
func (kg *keyGen) generate(receiving, originating, streamID string) string {
	h := sha256.Sum256([]byte(kg.secret))
	hm := hmac.New(sha256.New, []byte(hex.EncodeToString(h[:])))
	hm.Write([]byte(receiving + " " + originating + " " + streamID))
	return hex.EncodeToString(hm.Sum(nil))
}

// verify reports in constant time whether key matches the expected one.
func (kg *keyGen) verify(key, receiving, originating, streamID string) bool {
	expected := kg.generate(receiving, originating, streamID)
	return hmac.Equal([]byte(expected), []byte(key))
}

func dialbackResult(from, to, typ string) *xmpp.Element {
	elem := xmpp.NewElementName(dbResultName)
	elem.SetFrom(from)
	elem.SetTo(to)
	elem.SetType(typ)
	return elem
}

func dialbackVerify(from, to, streamID, typ string) *xmpp.Element {
	elem := xmpp.NewElementName(dbVerifyName)
	elem.SetFrom(from)
	elem.SetTo(to)
	elem.SetID(streamID)
	elem.SetType(typ)
	return elem
}

// dialbackError returns a dialback element of type 'error' carrying a stanza error condition.
func dialbackError(name, from, to, streamID string, stanzaErr *xmpp.StanzaError) *xmpp.Element {
	elem := xmpp.NewElementName(name)
	elem.SetFrom(from)
	elem.SetTo(to)
	if len(streamID) > 0 {
		elem.SetID(streamID)
	}
	elem.SetType(xmpp.ErrorType)
	elem.AppendElement(stanzaErr.Element())
	return elem
}
