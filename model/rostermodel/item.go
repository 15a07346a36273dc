/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package rostermodel

import (
	"fmt"

	"github.com/jackal-im/presenced/xmpp"
)

// Subscription represents the subscription state between a roster owner and a contact.
type Subscription int

// roster item subscription values
const (
	SubscriptionNone Subscription = iota
	SubscriptionTo
	SubscriptionFrom
	SubscriptionBoth
)

// String returns the wire representation of a subscription value.
func (s Subscription) String() string {
	switch s {
	case SubscriptionTo:
		return "to"
	case SubscriptionFrom:
		return "from"
	case SubscriptionBoth:
		return "both"
	}
	return "none"
}

// ParseSubscription parses a subscription wire value.
func ParseSubscription(s string) (Subscription, error) {
	switch s {
	case "none", "":
		return SubscriptionNone, nil
	case "to":
		return SubscriptionTo, nil
	case "from":
		return SubscriptionFrom, nil
	case "both":
		return SubscriptionBoth, nil
	}
	return SubscriptionNone, fmt.Errorf("rostermodel: unrecognized subscription value: %s", s)
}

// Ask represents an outgoing pending request.
type Ask int

// roster item ask values
const (
	AskNone Ask = iota
	AskSubscribe
	AskUnsubscribe
)

// String returns the wire representation of an ask value.
func (a Ask) String() string {
	switch a {
	case AskSubscribe:
		return "subscribe"
	case AskUnsubscribe:
		return "unsubscribe"
	}
	return ""
}

// ParseAsk parses an ask wire value.
func ParseAsk(s string) (Ask, error) {
	switch s {
	case "":
		return AskNone, nil
	case "subscribe":
		return AskSubscribe, nil
	case "unsubscribe":
		return AskUnsubscribe, nil
	}
	return AskNone, fmt.Errorf("rostermodel: unrecognized ask value: %s", s)
}

// Recv represents an incoming pending request.
type Recv int

// roster item recv values
const (
	RecvNone Recv = iota
	RecvSubscribe
	RecvUnsubscribe
)

// String returns the storage representation of a recv value.
func (r Recv) String() string {
	switch r {
	case RecvSubscribe:
		return "subscribe"
	case RecvUnsubscribe:
		return "unsubscribe"
	}
	return ""
}

// ParseRecv parses a recv storage value.
func ParseRecv(s string) (Recv, error) {
	switch s {
	case "":
		return RecvNone, nil
	case "subscribe":
		return RecvSubscribe, nil
	case "unsubscribe":
		return RecvUnsubscribe, nil
	}
	return RecvNone, fmt.Errorf("rostermodel: unrecognized recv value: %s", s)
}

// Item represents a roster item storage entity.
type Item struct {
	Username     string
	JID          string
	Name         string
	Groups       []string
	Subscription Subscription
	Ask          Ask
	Recv         Recv
}

// IsPendingIn tells whether the item only holds an incoming subscription request.
func (ri *Item) IsPendingIn() bool {
	return ri.Subscription == SubscriptionNone && ri.Recv == RecvSubscribe && ri.Ask == AskNone
}

// Element returns a roster item XML element representation.
func (ri *Item) Element() xmpp.XElement {
	item := xmpp.NewElementName("item")
	item.SetAttribute("jid", ri.JID)
	if len(ri.Name) > 0 {
		item.SetAttribute("name", ri.Name)
	}
	item.SetAttribute("subscription", ri.Subscription.String())
	if ri.Ask != AskNone {
		item.SetAttribute("ask", ri.Ask.String())
	}
	for _, group := range ri.Groups {
		if len(group) > 0 {
			item.AppendElement(xmpp.NewElementName("group").SetText(group))
		}
	}
	return item
}
