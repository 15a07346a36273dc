/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package roster

import (
	"context"

	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/model/rostermodel"
	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/jackal-im/presenced/xmpp/jid"
)

const subscriptionRemove = "remove"

// MatchesIQ returns whether or not an IQ should be processed by the roster engine.
func (r *Roster) MatchesIQ(iq *xmpp.IQ) bool {
	return iq.Elements().ChildNamespace("query", rosterNamespace) != nil
}

// ProcessIQ processes a roster IQ taking according actions over the requester session.
func (r *Roster) ProcessIQ(ctx context.Context, sess *session.Session, iq *xmpp.IQ) {
	q := iq.Elements().ChildNamespace("query", rosterNamespace)
	switch {
	case q == nil:
		_ = sess.Deliver(ctx, iq.BadRequestError())
	case iq.IsGet():
		r.sendRoster(ctx, sess, iq, q)
	case iq.IsSet():
		r.updateRoster(ctx, sess, iq, q)
	default:
		_ = sess.Deliver(ctx, iq.BadRequestError())
	}
}

func (r *Roster) sendRoster(ctx context.Context, sess *session.Session, iq *xmpp.IQ, query xmpp.XElement) {
	if query.Elements().Count() > 0 {
		_ = sess.Deliver(ctx, iq.BadRequestError())
		return
	}
	userJID := iq.FromJID()
	log.Infof("retrieving user roster... (%s)", userJID)

	items, err := r.rep.FetchRosterItems(ctx, userJID.Node())
	if err != nil {
		log.Error(err)
		_ = sess.Deliver(ctx, iq.InternalServerError())
		return
	}
	result := iq.ResultIQ()
	q := xmpp.NewElementNamespace("query", rosterNamespace)
	for i := range items {
		if items[i].IsPendingIn() {
			continue
		}
		q.AppendElement(items[i].Element())
	}
	result.AppendElement(q)
	_ = sess.Deliver(ctx, result)
}

func (r *Roster) updateRoster(ctx context.Context, sess *session.Session, iq *xmpp.IQ, query xmpp.XElement) {
	items := query.Elements().Children("item")
	if len(items) != 1 {
		_ = sess.Deliver(ctx, iq.BadRequestError())
		return
	}
	item := items[0]
	contactJID, err := jid.NewWithString(item.Attributes().Get("jid"), false)
	if err != nil {
		_ = sess.Deliver(ctx, iq.JidMalformedError())
		return
	}
	userJID := iq.FromJID()
	contactJID = contactJID.ToBareJID()

	if item.Attributes().Get("subscription") == subscriptionRemove {
		err = r.removeItem(ctx, userJID, contactJID)
	} else {
		var groups []string
		for _, g := range item.Elements().Children("group") {
			groups = append(groups, g.Text())
		}
		err = r.updateItem(ctx, userJID, contactJID, item.Attributes().Get("name"), groups)
	}
	if err != nil {
		log.Error(err)
		_ = sess.Deliver(ctx, iq.InternalServerError())
		return
	}
	_ = sess.Deliver(ctx, iq.ResultIQ())
}

func (r *Roster) updateItem(ctx context.Context, userJID, contactJID *jid.JID, name string, groups []string) error {
	owner := userJID.ToBareJID()
	unlock := r.locker.lock(owner.String(), contactJID.String())
	defer unlock()

	ri, err := r.rep.FetchRosterItem(ctx, owner.Node(), contactJID.String())
	if err != nil {
		return err
	}
	if ri == nil {
		ri = &rostermodel.Item{
			Username:     owner.Node(),
			JID:          contactJID.String(),
			Subscription: rostermodel.SubscriptionNone,
		}
	}
	ri.Name = name
	ri.Groups = groups
	if err := r.rep.UpsertRosterItem(ctx, ri); err != nil {
		return err
	}
	r.pushItem(ctx, ri.Element(), owner)
	return nil
}

// removeItem cancels every subscription held with contactJID and deletes the item.
func (r *Roster) removeItem(ctx context.Context, userJID, contactJID *jid.JID) error {
	owner := userJID.ToBareJID()

	ri, err := r.rep.FetchRosterItem(ctx, owner.Node(), contactJID.String())
	if err != nil {
		return err
	}
	if ri == nil {
		return nil
	}
	if isSubscribedTo(ri.Subscription) || ri.Ask == rostermodel.AskSubscribe {
		r.ProcessSubscription(ctx, nil, xmpp.NewPresence(owner, contactJID, xmpp.UnsubscribeType))
	}
	if isSubscribedFrom(ri.Subscription) || ri.Recv == rostermodel.RecvSubscribe {
		r.ProcessSubscription(ctx, nil, xmpp.NewPresence(owner, contactJID, xmpp.UnsubscribedType))
	}

	unlock := r.locker.lock(owner.String(), contactJID.String())
	defer unlock()

	if err := r.rep.DeleteRosterItem(ctx, owner.Node(), contactJID.String()); err != nil {
		return err
	}
	removed := xmpp.NewElementName("item")
	removed.SetAttribute("jid", contactJID.String())
	removed.SetAttribute("subscription", subscriptionRemove)
	r.pushItem(ctx, removed, owner)
	return nil
}
