/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package component

import (
	"context"

	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/module/roster"
	"github.com/jackal-im/presenced/router"
	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/xmpp"
)

// Handler processes stanzas originated by external components.
type Handler struct {
	router *router.Router
	roster *roster.Roster
}

// NewHandler returns an external component stanza handler.
func NewHandler(router *router.Router, roster *roster.Roster) *Handler {
	return &Handler{router: router, roster: roster}
}

// ProcessStanza satisfies session.PacketHandler interface.
func (h *Handler) ProcessStanza(ctx context.Context, sess *session.Session, stanza xmpp.Stanza) error {
	switch stanza := stanza.(type) {
	case *xmpp.Presence:
		if stanza.IsSubscription() && h.router.Hosts().IsLocalHost(stanza.ToJID().Domain()) {
			h.roster.ProcessSubscription(ctx, sess, stanza)
			return nil
		}
		if stanza.IsProbe() && stanza.ToJID().Node() != "" {
			return h.roster.ProcessProbe(ctx, stanza)
		}
		if err := h.router.Route(ctx, stanza, false); err != nil {
			log.Debugf("component: presence not routed to %s: %v", stanza.ToJID(), err)
		}

	case *xmpp.IQ:
		switch err := h.router.Route(ctx, stanza, false); err {
		case nil:
		case router.ErrResourceNotFound, router.ErrNotAuthenticated, router.ErrNotExistingAccount, router.ErrFailedRemoteConnect:
			if stanza.IsGet() || stanza.IsSet() {
				_ = sess.Deliver(ctx, stanza.ServiceUnavailableError())
			}
		default:
			log.Error(err)
		}

	case *xmpp.Message:
		switch err := h.router.Route(ctx, stanza, true); err {
		case nil:
		case router.ErrNotAuthenticated, router.ErrNotExistingAccount, router.ErrFailedRemoteConnect:
			_ = sess.Deliver(ctx, stanza.ServiceUnavailableError())
		default:
			log.Error(err)
		}
	}
	return nil
}
