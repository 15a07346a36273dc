/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"context"

	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/module/presencehub"
	"github.com/jackal-im/presenced/module/roster"
	"github.com/jackal-im/presenced/router"
	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/jackal-im/presenced/xmpp/jid"
)

// Handler processes stanzas originated by bound client sessions, whether they
// come from a client socket or from a connection multiplexer.
type Handler struct {
	router *router.Router
	roster *roster.Roster
	hub    *presencehub.Hub
}

// NewHandler returns a client stanza handler.
func NewHandler(router *router.Router, roster *roster.Roster, hub *presencehub.Hub) *Handler {
	return &Handler{router: router, roster: roster, hub: hub}
}

// ProcessStanza satisfies session.PacketHandler interface.
func (h *Handler) ProcessStanza(ctx context.Context, sess *session.Session, stanza xmpp.Stanza) error {
	switch stanza := stanza.(type) {
	case *xmpp.Presence:
		return h.processPresence(ctx, sess, stanza)
	case *xmpp.IQ:
		h.processIQ(ctx, sess, stanza)
	case *xmpp.Message:
		h.processMessage(ctx, sess, stanza)
	}
	return nil
}

// CloseSession is meant to be registered as a client session close hook.
// It unbinds the session and announces its unavailability.
func (h *Handler) CloseSession(ctx context.Context, sess *session.Session) {
	h.router.Registry().Unregister(sess)

	j := sess.JID()
	if j == nil || !j.IsFullWithUser() {
		return
	}
	if !sess.IsAvailable() {
		// directed presences may outlive a broadcast unavailable one
		h.hub.BroadcastUnavailable(ctx, xmpp.NewPresence(j, j.ToBareJID(), xmpp.UnavailableType))
		return
	}
	unavailable := xmpp.NewPresence(j, j.ToBareJID(), xmpp.UnavailableType)
	if err := h.roster.BroadcastPresence(ctx, unavailable); err != nil {
		log.Error(err)
	}
	h.hub.BroadcastUnavailable(ctx, unavailable)
}

func (h *Handler) processPresence(ctx context.Context, sess *session.Session, presence *xmpp.Presence) error {
	if presence.IsSubscription() {
		h.roster.ProcessSubscription(ctx, sess, presence)
		return nil
	}
	toJID := presence.ToJID()
	if presence.IsProbe() {
		if h.router.Hosts().IsLocalHost(toJID.Domain()) && toJID.Node() != "" {
			return h.roster.ProcessProbe(ctx, presence)
		}
		h.route(ctx, presence)
		return nil
	}
	isBroadcast := toJID.IsBare() && sess.JID().Matches(toJID, jid.MatchesBare)
	if !isBroadcast {
		return h.processDirectedPresence(ctx, sess, presence)
	}
	switch {
	case presence.IsAvailable():
		firstAvailable := !sess.WasAvailable()
		if err := sess.SetPresence(ctx, presence); err != nil {
			log.Error(err)
		}
		if err := h.roster.BroadcastPresence(ctx, presence); err != nil {
			return err
		}
		if firstAvailable {
			return h.roster.ProbeContacts(ctx, sess.JID())
		}

	case presence.IsUnavailable():
		if err := sess.SetPresence(ctx, presence); err != nil {
			log.Error(err)
		}
		if err := h.roster.BroadcastPresence(ctx, presence); err != nil {
			return err
		}
		h.hub.BroadcastUnavailable(ctx, presence)
	}
	return nil
}

func (h *Handler) processDirectedPresence(ctx context.Context, sess *session.Session, presence *xmpp.Presence) error {
	toJID := presence.ToJID()
	h.route(ctx, presence)

	if !presence.IsAvailable() && !presence.IsUnavailable() {
		return nil
	}
	handler, isClient := h.presenceHandler(toJID)
	if presence.IsUnavailable() {
		h.hub.RemoveDirected(ctx, sess.JID(), handler, toJID.String(), isClient)
		return nil
	}
	// contacts subscribed to the sender already get its unavailable presence through the roster
	subscribed, err := h.roster.IsSubscribedFrom(ctx, sess.JID(), toJID)
	if err != nil {
		return err
	}
	if !subscribed {
		h.hub.RecordDirected(ctx, sess.JID(), handler, toJID.String())
	}
	return nil
}

// presenceHandler returns the address of the entity handling presences addressed to j.
func (h *Handler) presenceHandler(j *jid.JID) (*jid.JID, bool) {
	if h.router.Registry().Component(j.Domain()) != nil || !h.router.Hosts().IsLocalHost(j.Domain()) {
		return j.ToServerJID(), false
	}
	return j, j.Node() != ""
}

func (h *Handler) processIQ(ctx context.Context, sess *session.Session, iq *xmpp.IQ) {
	toJID := iq.ToJID()

	replyOnBehalf := !toJID.IsFullWithUser() && h.router.Hosts().IsLocalHost(toJID.Domain())
	if !replyOnBehalf {
		switch h.router.Route(ctx, iq, false) {
		case nil:
		case router.ErrResourceNotFound, router.ErrNotAuthenticated, router.ErrNotExistingAccount:
			if iq.IsGet() || iq.IsSet() {
				_ = sess.Deliver(ctx, iq.ServiceUnavailableError())
			}
		case router.ErrFailedRemoteConnect:
			_ = sess.Deliver(ctx, iq.RemoteServerNotFoundError())
		}
		return
	}
	if h.roster.MatchesIQ(iq) {
		h.roster.ProcessIQ(ctx, sess, iq)
		return
	}
	if iq.IsGet() || iq.IsSet() {
		_ = sess.Deliver(ctx, iq.ServiceUnavailableError())
	}
}

func (h *Handler) processMessage(ctx context.Context, sess *session.Session, message *xmpp.Message) {
	msg := message

sendMessage:
	err := h.router.Route(ctx, msg, false)
	switch err {
	case nil:
		break
	case router.ErrResourceNotFound:
		// treat the stanza as if it were addressed to <node@domain>
		msg, _ = xmpp.NewMessageFromElement(msg, msg.FromJID(), msg.ToJID().ToBareJID())
		goto sendMessage
	case router.ErrNotAuthenticated, router.ErrNotExistingAccount:
		_ = sess.Deliver(ctx, message.ServiceUnavailableError())
	case router.ErrFailedRemoteConnect:
		_ = sess.Deliver(ctx, message.RemoteServerNotFoundError())
	default:
		log.Error(err)
	}
}

func (h *Handler) route(ctx context.Context, stanza xmpp.Stanza) {
	if err := h.router.Route(ctx, stanza, false); err != nil {
		log.Debugf("c2s: stanza not routed to %s: %v", stanza.ToJID(), err)
	}
}
