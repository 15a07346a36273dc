/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package session

import (
	"strings"

	"github.com/jackal-im/presenced/xmpp"
)

// CanProcess reports whether sess is allowed to originate stanza.
func CanProcess(sess *Session, stanza xmpp.Stanza) bool {
	if sess.Status() != Authenticated {
		return false
	}
	from := stanza.FromJID()
	switch sess.kind {
	case Client:
		j := sess.JID()
		if from == nil || j == nil {
			return false
		}
		if from.Node() != j.Node() || from.Domain() != j.Domain() {
			return false
		}
		return from.IsBare() || from.Resource() == j.Resource()

	case IncomingServer:
		return from != nil && sess.incomingServer.IsValidatedDomain(from.Domain())

	case Component:
		return from != nil && isDomainOrSubdomain(from.Domain(), sess.component.Domain())

	case Multiplexer:
		return true
	}
	return false
}

// CanDeliver reports whether stanza may be written to sess.
func CanDeliver(sess *Session, stanza xmpp.Stanza) bool {
	if sess.Status() != Authenticated || sess.sender == nil {
		return false
	}
	switch sess.kind {
	case Client:
		return true

	case OutgoingServer:
		from, to := stanza.FromJID(), stanza.ToJID()
		if from == nil || to == nil {
			return false
		}
		return sess.outgoingServer.IsAuthenticatedDomain(from.Domain()) && sess.outgoingServer.HasHostname(to.Domain())

	case Component:
		to := stanza.ToJID()
		return to != nil && isDomainOrSubdomain(to.Domain(), sess.component.Domain())

	case Multiplexer:
		return true
	}
	return false
}

func isDomainOrSubdomain(domain, parent string) bool {
	if len(parent) == 0 {
		return false
	}
	return domain == parent || strings.HasSuffix(domain, "."+parent)
}
