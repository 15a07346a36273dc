/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package multiplexer

import (
	"github.com/google/uuid"
	"github.com/jackal-im/presenced/streamerror"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/jackal-im/presenced/xmpp/jid"
)

// virtualSender carries the traffic of a client session hosted by a multiplexer.
type virtualSender struct {
	mux      *inStream
	streamID string
	jid      *jid.JID
}

func (v *virtualSender) SendElement(elem xmpp.XElement) {
	route := xmpp.NewElementName("route")
	route.SetAttribute("streamid", v.streamID)
	route.AppendElement(elem)
	v.mux.SendElement(route)
}

// Disconnect notifies the multiplexer only when the session is still hosted,
// sessions released on its own request are already gone.
func (v *virtualSender) Disconnect(streamErr *streamerror.Error) {
	if v.mux.releaseVirtualSession(v.streamID) == nil {
		return
	}
	cl := xmpp.NewElementName("close")
	if streamErr != nil {
		cl.AppendElement(streamErr.Element())
	}
	sess := xmpp.NewElementNamespace("session", sessionNamespace)
	sess.SetID(v.streamID)
	sess.AppendElement(cl)

	iq := xmpp.NewIQType(uuid.New().String(), xmpp.SetType)
	iq.SetFrom(v.jid.Domain())
	iq.SetTo(v.mux.sess.JID().Domain())
	iq.AppendElement(sess)
	v.mux.SendElement(iq)
}
