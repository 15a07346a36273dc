/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"context"

	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/module/roster"
	"github.com/jackal-im/presenced/router"
	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/xmpp"
)

// Handler processes stanzas received over validated incoming server sessions.
type Handler struct {
	router *router.Router
	roster *roster.Roster
}

// NewHandler returns an incoming server stanza handler.
func NewHandler(router *router.Router, roster *roster.Roster) *Handler {
	return &Handler{router: router, roster: roster}
}

// ProcessStanza satisfies session.PacketHandler interface.
func (h *Handler) ProcessStanza(ctx context.Context, sess *session.Session, stanza xmpp.Stanza) error {
	switch stanza := stanza.(type) {
	case *xmpp.Presence:
		return h.processPresence(ctx, sess, stanza)
	case *xmpp.IQ:
		h.processIQ(ctx, stanza)
	case *xmpp.Message:
		h.processMessage(ctx, stanza)
	}
	return nil
}

func (h *Handler) processPresence(ctx context.Context, sess *session.Session, presence *xmpp.Presence) error {
	toJID := presence.ToJID()
	switch {
	case presence.IsSubscription():
		h.roster.ProcessSubscription(ctx, sess, presence)
		return nil

	case presence.IsProbe():
		if toJID.Node() == "" {
			return nil
		}
		return h.roster.ProcessProbe(ctx, presence)
	}
	if err := h.router.Route(ctx, presence, false); err != nil {
		log.Debugf("s2s: presence not routed to %s: %v", toJID, err)
	}
	return nil
}

func (h *Handler) processIQ(ctx context.Context, iq *xmpp.IQ) {
	if iq.ToJID().IsServer() {
		if iq.IsGet() || iq.IsSet() {
			h.reply(ctx, iq.ServiceUnavailableError())
		}
		return
	}
	switch h.router.Route(ctx, iq, false) {
	case nil:
	case router.ErrResourceNotFound, router.ErrNotAuthenticated, router.ErrNotExistingAccount:
		if iq.IsGet() || iq.IsSet() {
			h.reply(ctx, iq.ServiceUnavailableError())
		}
	}
}

func (h *Handler) processMessage(ctx context.Context, message *xmpp.Message) {
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
		h.reply(ctx, message.ServiceUnavailableError())
	default:
		log.Error(err)
	}
}

// reply sends an error response back to the remote entity through an outgoing session.
func (h *Handler) reply(ctx context.Context, stanza xmpp.Stanza) {
	if err := h.router.Route(ctx, stanza, false); err != nil {
		log.Warnf("s2s: failed to reply to %s: %v", stanza.ToJID(), err)
	}
}
