/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package roster

import (
	"context"

	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/model/rostermodel"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/jackal-im/presenced/xmpp/jid"
)

// BroadcastPresence delivers a broadcast presence of a local user to every
// contact subscribed to it and to the rest of the user's resources.
func (r *Roster) BroadcastPresence(ctx context.Context, presence *xmpp.Presence) error {
	fromJID := presence.FromJID()

	items, err := r.rep.FetchRosterItems(ctx, fromJID.Node())
	if err != nil {
		return err
	}
	for _, ri := range items {
		if !isSubscribedFrom(ri.Subscription) {
			continue
		}
		contactJID, err := jid.NewWithString(ri.JID, true)
		if err != nil {
			log.Error(err)
			continue
		}
		p, err := xmpp.NewPresenceFromElement(presence, fromJID, contactJID)
		if err != nil {
			return err
		}
		r.route(ctx, p)
	}
	for _, sess := range r.reg.UserSessions(fromJID) {
		if sess.JID().Equals(fromJID) {
			continue
		}
		p, err := xmpp.NewPresenceFromElement(presence, fromJID, sess.JID())
		if err != nil {
			return err
		}
		_ = sess.Deliver(ctx, p)
	}
	return nil
}

// ProbeContacts sends a presence probe to every contact the user is subscribed to,
// along with the available presences of the user's other resources.
func (r *Roster) ProbeContacts(ctx context.Context, userJID *jid.JID) error {
	items, err := r.rep.FetchRosterItems(ctx, userJID.Node())
	if err != nil {
		return err
	}
	bare := userJID.ToBareJID()
	for _, ri := range items {
		if !isSubscribedTo(ri.Subscription) {
			continue
		}
		contactJID, err := jid.NewWithString(ri.JID, true)
		if err != nil {
			log.Error(err)
			continue
		}
		r.probePresence(ctx, bare, contactJID)
	}
	for _, sess := range r.reg.UserSessions(userJID) {
		if sess.JID().Equals(userJID) || !sess.IsAvailable() {
			continue
		}
		p, err := xmpp.NewPresenceFromElement(sess.Presence(), sess.JID(), userJID)
		if err != nil {
			return err
		}
		r.route(ctx, p)
	}
	return nil
}

// ProcessProbe answers a presence probe addressed to a local user.
// Only contacts holding a 'from' or 'both' subscription get an answer.
func (r *Roster) ProcessProbe(ctx context.Context, probe *xmpp.Presence) error {
	toJID := probe.ToJID()
	fromJID := probe.FromJID()
	if toJID == nil || fromJID == nil {
		return nil
	}
	ok, err := r.hasRoster(ctx, toJID)
	if err != nil || !ok {
		return err
	}
	ri, err := r.rep.FetchRosterItem(ctx, toJID.Node(), fromJID.ToBareJID().String())
	if err != nil {
		return err
	}
	if ri == nil || !isSubscribedFrom(ri.Subscription) {
		log.Debugf("roster: ignoring probe from unsubscribed contact %s", fromJID)
		return nil
	}
	r.routeAvailablePresences(ctx, toJID.ToBareJID(), fromJID)
	return nil
}

// IsSubscribedFrom tells whether contact is allowed to receive userJID presence.
func (r *Roster) IsSubscribedFrom(ctx context.Context, userJID, contact *jid.JID) (bool, error) {
	ri, err := r.rep.FetchRosterItem(ctx, userJID.Node(), contact.ToBareJID().String())
	if err != nil || ri == nil {
		return false, err
	}
	return isSubscribedFrom(ri.Subscription), nil
}

func isSubscribedFrom(sub rostermodel.Subscription) bool {
	return sub == rostermodel.SubscriptionFrom || sub == rostermodel.SubscriptionBoth
}

func isSubscribedTo(sub rostermodel.Subscription) bool {
	return sub == rostermodel.SubscriptionTo || sub == rostermodel.SubscriptionBoth
}
