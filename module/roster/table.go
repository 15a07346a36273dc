/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package roster

import (
	"fmt"

	"github.com/jackal-im/presenced/model/rostermodel"
	"github.com/jackal-im/presenced/xmpp"
)

// Direction tells whether the roster owner is sending or receiving a subscription stanza.
type Direction int

const (
	// Receiving means the roster owner is the stanza recipient.
	Receiving Direction = iota

	// Sending means the roster owner originated the stanza.
	Sending
)

// String returns the direction string representation.
func (d Direction) String() string {
	if d == Sending {
		return "send"
	}
	return "recv"
}

// keep* values leave the matching item field untouched.
const (
	keepRecv = rostermodel.Recv(-1)
	keepSub  = rostermodel.Subscription(-1)
	keepAsk  = rostermodel.Ask(-1)
)

// Change holds the new state of a roster item after a subscription transition.
type Change struct {
	Recv rostermodel.Recv
	Sub  rostermodel.Subscription
	Ask  rostermodel.Ask
}

// IsNoop reports whether the change leaves every item field untouched.
func (c Change) IsNoop() bool {
	return c.Recv == keepRecv && c.Sub == keepSub && c.Ask == keepAsk
}

// Apply applies c over ri and returns whether any field changed its value.
func (c Change) Apply(ri *rostermodel.Item) bool {
	var changed bool
	if c.Recv != keepRecv && ri.Recv != c.Recv {
		ri.Recv = c.Recv
		changed = true
	}
	if c.Sub != keepSub && ri.Subscription != c.Sub {
		ri.Subscription = c.Sub
		changed = true
	}
	if c.Ask != keepAsk && ri.Ask != c.Ask {
		ri.Ask = c.Ask
		changed = true
	}
	return changed
}

// subscription presence type indexes
const (
	subscribeIdx = iota
	subscribedIdx
	unsubscribeIdx
	unsubscribedIdx
)

var transitionTable = [4][2][4]Change{
	rostermodel.SubscriptionNone: {
		Receiving: {
			subscribeIdx:    {rostermodel.RecvSubscribe, keepSub, keepAsk},
			subscribedIdx:   {keepRecv, rostermodel.SubscriptionTo, rostermodel.AskNone},
			unsubscribeIdx:  {keepRecv, keepSub, keepAsk},
			unsubscribedIdx: {keepRecv, keepSub, rostermodel.AskNone},
		},
		Sending: {
			subscribeIdx:    {keepRecv, keepSub, rostermodel.AskSubscribe},
			subscribedIdx:   {rostermodel.RecvNone, rostermodel.SubscriptionFrom, keepAsk},
			unsubscribeIdx:  {keepRecv, keepSub, keepAsk},
			unsubscribedIdx: {rostermodel.RecvNone, keepSub, keepAsk},
		},
	},
	rostermodel.SubscriptionTo: {
		Receiving: {
			subscribeIdx:    {rostermodel.RecvSubscribe, keepSub, keepAsk},
			subscribedIdx:   {keepRecv, keepSub, rostermodel.AskNone},
			unsubscribeIdx:  {rostermodel.RecvNone, rostermodel.SubscriptionNone, keepAsk},
			unsubscribedIdx: {keepRecv, rostermodel.SubscriptionNone, rostermodel.AskNone},
		},
		Sending: {
			subscribeIdx:    {keepRecv, keepSub, rostermodel.AskNone},
			subscribedIdx:   {rostermodel.RecvNone, rostermodel.SubscriptionBoth, keepAsk},
			unsubscribeIdx:  {keepRecv, rostermodel.SubscriptionNone, rostermodel.AskUnsubscribe},
			unsubscribedIdx: {rostermodel.RecvNone, keepSub, keepAsk},
		},
	},
	rostermodel.SubscriptionFrom: {
		Receiving: {
			subscribeIdx:    {rostermodel.RecvNone, keepSub, keepAsk},
			subscribedIdx:   {keepRecv, rostermodel.SubscriptionBoth, rostermodel.AskNone},
			unsubscribeIdx:  {rostermodel.RecvUnsubscribe, rostermodel.SubscriptionNone, keepAsk},
			unsubscribedIdx: {keepRecv, keepSub, rostermodel.AskNone},
		},
		Sending: {
			subscribeIdx:    {keepRecv, keepSub, rostermodel.AskSubscribe},
			subscribedIdx:   {rostermodel.RecvNone, keepSub, keepAsk},
			unsubscribeIdx:  {keepRecv, rostermodel.SubscriptionNone, keepAsk},
			unsubscribedIdx: {rostermodel.RecvNone, rostermodel.SubscriptionNone, keepAsk},
		},
	},
	rostermodel.SubscriptionBoth: {
		Receiving: {
			subscribeIdx:    {rostermodel.RecvNone, keepSub, keepAsk},
			subscribedIdx:   {keepRecv, keepSub, rostermodel.AskNone},
			unsubscribeIdx:  {rostermodel.RecvUnsubscribe, rostermodel.SubscriptionTo, keepAsk},
			unsubscribedIdx: {rostermodel.RecvNone, rostermodel.SubscriptionFrom, rostermodel.AskNone},
		},
		Sending: {
			subscribeIdx:    {keepRecv, keepSub, rostermodel.AskNone},
			subscribedIdx:   {rostermodel.RecvNone, keepSub, keepAsk},
			unsubscribeIdx:  {keepRecv, rostermodel.SubscriptionFrom, rostermodel.AskUnsubscribe},
			unsubscribedIdx: {rostermodel.RecvNone, rostermodel.SubscriptionTo, keepAsk},
		},
	},
}

// Transition returns the item change produced by a subscription stanza of
// presenceType sent or received by a roster owner whose current subscription is oldSub.
func Transition(oldSub rostermodel.Subscription, dir Direction, presenceType string) (Change, error) {
	if oldSub < rostermodel.SubscriptionNone || oldSub > rostermodel.SubscriptionBoth {
		return Change{}, fmt.Errorf("roster: unrecognized subscription: %d", oldSub)
	}
	if dir != Sending && dir != Receiving {
		return Change{}, fmt.Errorf("roster: unrecognized direction: %d", dir)
	}
	var idx int
	switch presenceType {
	case xmpp.SubscribeType:
		idx = subscribeIdx
	case xmpp.SubscribedType:
		idx = subscribedIdx
	case xmpp.UnsubscribeType:
		idx = unsubscribeIdx
	case xmpp.UnsubscribedType:
		idx = unsubscribedIdx
	default:
		return Change{}, fmt.Errorf("roster: not a subscription presence type: %s", presenceType)
	}
	return transitionTable[oldSub][dir][idx], nil
}
