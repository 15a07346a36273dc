/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package roster

import (
	"context"

	"github.com/jackal-im/presenced/host"
	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/model/rostermodel"
	"github.com/jackal-im/presenced/registry"
	"github.com/jackal-im/presenced/router"
	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/storage/repository"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/jackal-im/presenced/xmpp/jid"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
)

const rosterNamespace = "jabber:iq:roster"

// Roster is the presence subscription engine. It keeps the roster items
// of local users in sync with the subscription stanzas they send and receive.
type Roster struct {
	router  *router.Router
	hosts   *host.Hosts
	reg     *registry.Registry
	rep     repository.Roster
	userRep repository.User
	locker  *pairLocker
}

// New returns a roster engine instance.
func New(router *router.Router, rosterRep repository.Roster, userRep repository.User) *Roster {
	return &Roster{
		router:  router,
		hosts:   router.Hosts(),
		reg:     router.Registry(),
		rep:     rosterRep,
		userRep: userRep,
		locker:  newPairLocker(),
	}
}

// ProcessSubscription processes a subscription related presence
// (subscribe, subscribed, unsubscribe or unsubscribed).
//
// requester is the session the stanza was read from, if any. A malformed address
// is reported straight to it, any other failure is logged and swallowed.
func (r *Roster) ProcessSubscription(ctx context.Context, requester *session.Session, presence *xmpp.Presence) {
	if !presence.IsSubscription() {
		log.Warnf("roster: not a subscription presence: %s", presence.Type())
		return
	}
	if err := r.processSubscription(ctx, presence); err != nil {
		if errors.Cause(err) == errMalformedJID {
			if requester != nil {
				requester.SendElement(xmpp.NewErrorStanzaFromStanza(presence, xmpp.ErrJidMalformed, nil))
			}
			return
		}
		log.Error(err)
	}
}

var errMalformedJID = errors.New("roster: malformed jid")

func (r *Roster) processSubscription(ctx context.Context, presence *xmpp.Presence) error {
	presenceType := presence.Type()

	fromJID, err := bareJID(presence.FromJID())
	if err != nil {
		return err
	}
	var toJID *jid.JID
	if presence.ToJID() != nil {
		if toJID, err = bareJID(presence.ToJID()); err != nil {
			return err
		}
	}
	log.Infof("processing '%s' - from: %s, to: %s", presenceType, fromJID, toJID)

	// subscriptions addressed to the server itself are rejected
	if toJID == nil || (toJID.IsServer() && r.hosts.IsLocalHost(toJID.Domain())) {
		if presenceType == xmpp.SubscribeType {
			srvJID := toJID
			if srvJID == nil {
				srvJID, _ = jid.New("", r.hosts.DefaultHostName(), "", true)
			}
			r.route(ctx, xmpp.NewPresence(srvJID, fromJID, xmpp.UnsubscribedType))
		}
		return nil
	}

	senderHasRoster, err := r.hasRoster(ctx, fromJID)
	if err != nil {
		return err
	}
	if senderHasRoster {
		if _, _, err := r.manageSub(ctx, fromJID, toJID, Sending, presenceType); err != nil {
			return err
		}
	}
	recipientHasRoster, err := r.hasRoster(ctx, toJID)
	if err != nil {
		return err
	}
	var recipientItem *rostermodel.Item
	var recipientSubChanged bool
	if recipientHasRoster {
		recipientItem, recipientSubChanged, err = r.manageSub(ctx, toJID, fromJID, Receiving, presenceType)
		if err != nil {
			return err
		}
	}

	// a 'subscribed' ack is not forwarded when the recipient subscription didn't change
	if !(presenceType == xmpp.SubscribedType && recipientHasRoster && !recipientSubChanged) {
		// nor is a 'subscribe' request already granted by the recipient
		if presenceType == xmpp.SubscribeType && recipientHasRoster && !recipientSubChanged && recipientItem != nil {
			switch recipientItem.Subscription {
			case rostermodel.SubscriptionFrom, rostermodel.SubscriptionBoth:
				return nil
			}
		}
		fwd, err := xmpp.NewPresenceFromElement(presence, fromJID, toJID)
		if err != nil {
			return err
		}
		r.route(ctx, fwd)

		if presenceType == xmpp.SubscribedType {
			r.probePresence(ctx, toJID, fromJID)
		}
	}
	if presenceType == xmpp.UnsubscribedType {
		r.sendUnavailableFromSessions(ctx, fromJID, toJID)
	}
	return nil
}

// manageSub applies a subscription transition over the owner's item for target.
// It returns the resulting item, nil if none was created, and whether its subscription changed.
func (r *Roster) manageSub(ctx context.Context, owner, target *jid.JID, dir Direction, presenceType string) (*rostermodel.Item, bool, error) {
	unlock := r.locker.lock(owner.String(), target.String())
	defer unlock()

	ri, err := r.rep.FetchRosterItem(ctx, owner.Node(), target.String())
	if err != nil {
		return nil, false, err
	}
	var newItem bool
	if ri == nil {
		switch presenceType {
		case xmpp.UnsubscribedType, xmpp.UnsubscribeType, xmpp.SubscribedType:
			return nil, false, nil
		}
		ri = &rostermodel.Item{
			Username:     owner.Node(),
			JID:          target.String(),
			Subscription: rostermodel.SubscriptionNone,
		}
		newItem = true
	}
	oldSub := ri.Subscription

	change, err := Transition(oldSub, dir, presenceType)
	if err != nil {
		return nil, false, err
	}
	if change.Apply(ri) || newItem {
		if err := r.rep.UpsertRosterItem(ctx, ri); err != nil {
			return nil, false, err
		}
		log.Debugf("roster item updated - owner: %s, jid: %s, sub: %s, ask: %s, recv: %s",
			owner, ri.JID, ri.Subscription, ri.Ask, ri.Recv)

		// pending incoming requests are not pushed until the owner decides on them
		if !ri.IsPendingIn() {
			r.pushItem(ctx, ri.Element(), owner)
		}
	}
	return ri, oldSub != ri.Subscription, nil
}

// probePresence sends every available presence of probee to prober.
func (r *Roster) probePresence(ctx context.Context, prober, probee *jid.JID) {
	if !r.hosts.IsLocalHost(probee.Domain()) {
		r.route(ctx, xmpp.NewPresence(prober, probee, xmpp.ProbeType))
		return
	}
	r.routeAvailablePresences(ctx, probee, prober)
}

// sendUnavailableFromSessions sends an unavailable presence from every available resource of from.
func (r *Roster) sendUnavailableFromSessions(ctx context.Context, from, to *jid.JID) {
	if !r.hosts.IsLocalHost(from.Domain()) {
		return
	}
	for _, sess := range r.reg.UserSessions(from) {
		if !sess.IsAvailable() {
			continue
		}
		r.route(ctx, xmpp.NewPresence(sess.JID(), to, xmpp.UnavailableType))
	}
}

func (r *Roster) routeAvailablePresences(ctx context.Context, from, to *jid.JID) {
	for _, sess := range r.reg.UserSessions(from) {
		p := sess.Presence()
		if p == nil || !p.IsAvailable() {
			continue
		}
		out, err := xmpp.NewPresenceFromElement(p, sess.JID(), to)
		if err != nil {
			log.Error(err)
			continue
		}
		r.route(ctx, out)
	}
}

// pushItem sends a roster push to every resource bound to owner.
func (r *Roster) pushItem(ctx context.Context, item xmpp.XElement, owner *jid.JID) {
	query := xmpp.NewElementNamespace("query", rosterNamespace)
	query.AppendElement(item)

	for _, sess := range r.reg.UserSessions(owner) {
		pushIQ := xmpp.NewIQType(uuid.New(), xmpp.SetType)
		pushIQ.SetFromJID(owner.ToBareJID())
		pushIQ.SetToJID(sess.JID())
		pushIQ.AppendElement(query)
		if err := sess.Deliver(ctx, pushIQ); err != nil {
			log.Debugf("roster: push not delivered to %s: %v", sess.JID(), err)
		}
	}
}

func (r *Roster) hasRoster(ctx context.Context, j *jid.JID) (bool, error) {
	if len(j.Node()) == 0 || !r.hosts.IsLocalHost(j.Domain()) {
		return false, nil
	}
	return r.userRep.UserExists(ctx, j.Node())
}

func (r *Roster) route(ctx context.Context, stanza xmpp.Stanza) {
	if err := r.router.Route(ctx, stanza, false); err != nil {
		log.Debugf("roster: %s not routed to %s: %v", stanza.Name(), stanza.ToJID(), err)
	}
}

// bareJID returns the bare form of j, prepping it again since trusted
// sessions may have skipped string preparation.
func bareJID(j *jid.JID) (*jid.JID, error) {
	if j == nil {
		return nil, errMalformedJID
	}
	bare, err := jid.New(j.Node(), j.Domain(), "", false)
	if err != nil {
		return nil, errors.Wrapf(errMalformedJID, "%s: %v", j, err)
	}
	return bare, nil
}
