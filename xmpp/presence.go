/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"strconv"

	"github.com/jackal-im/presenced/xmpp/jid"
	"github.com/pkg/errors"
)

// Presence type attribute values. An available presence carries no type.
const (
	AvailableType    = ""
	UnavailableType  = "unavailable"
	SubscribeType    = "subscribe"
	UnsubscribeType  = "unsubscribe"
	SubscribedType   = "subscribed"
	UnsubscribedType = "unsubscribed"
	ProbeType        = "probe"
)

// ShowState is the availability sub-state advertised through <show/>.
type ShowState int

// Show states. AvailableShowState stands for an absent <show/> element.
const (
	AvailableShowState ShowState = iota
	AwayShowState
	ChatShowState
	DoNotDisturbShowState
	ExtendedAwayShowState
)

var showStates = map[string]ShowState{
	"away": AwayShowState,
	"chat": ChatShowState,
	"dnd":  DoNotDisturbShowState,
	"xa":   ExtendedAwayShowState,
}

var presenceTypes = map[string]bool{
	ErrorType:        true,
	AvailableType:    true,
	UnavailableType:  true,
	SubscribeType:    true,
	UnsubscribeType:  true,
	SubscribedType:   true,
	UnsubscribedType: true,
	ProbeType:        true,
}

// Presence is a <presence/> stanza with its show state and priority already parsed.
type Presence struct {
	stanzaElement
	showState ShowState
	priority  int8
}

// NewPresenceFromElement validates e as a presence stanza and stamps it with from and to.
func NewPresenceFromElement(e XElement, from *jid.JID, to *jid.JID) (*Presence, error) {
	if e.Name() != PresenceName {
		return nil, errors.Errorf("xmpp: wrong presence element name: %s", e.Name())
	}
	if !presenceTypes[e.Type()] {
		return nil, errors.Errorf("xmpp: invalid presence type: %s", e.Type())
	}
	p := &Presence{}
	p.copyFrom(e)

	var err error
	if p.showState, err = parseShow(p.elements.Children("show")); err != nil {
		return nil, err
	}
	if p.priority, err = parsePriority(p.elements.Children("priority")); err != nil {
		return nil, err
	}
	p.SetFromJID(from)
	p.SetToJID(to)
	p.SetNamespace("")
	return p, nil
}

// NewPresence returns an empty presence of the given type.
func NewPresence(from *jid.JID, to *jid.JID, presenceType string) *Presence {
	p := &Presence{}
	p.SetName(PresenceName)
	p.SetFromJID(from)
	p.SetToJID(to)
	if presenceType != AvailableType {
		p.SetType(presenceType)
	}
	return p
}

func (p *Presence) IsAvailable() bool    { return p.Type() == AvailableType }
func (p *Presence) IsUnavailable() bool  { return p.Type() == UnavailableType }
func (p *Presence) IsSubscribe() bool    { return p.Type() == SubscribeType }
func (p *Presence) IsUnsubscribe() bool  { return p.Type() == UnsubscribeType }
func (p *Presence) IsSubscribed() bool   { return p.Type() == SubscribedType }
func (p *Presence) IsUnsubscribed() bool { return p.Type() == UnsubscribedType }
func (p *Presence) IsProbe() bool        { return p.Type() == ProbeType }

// IsSubscription reports whether p is one of the four subscription management types.
func (p *Presence) IsSubscription() bool {
	return p.IsSubscribe() || p.IsSubscribed() || p.IsUnsubscribe() || p.IsUnsubscribed()
}

// Status returns the text of the first <status/> child.
func (p *Presence) Status() string {
	if st := p.Elements().Child("status"); st != nil {
		return st.Text()
	}
	return ""
}

func (p *Presence) ShowState() ShowState { return p.showState }

func (p *Presence) Priority() int8 { return p.priority }

func parseShow(elems []XElement) (ShowState, error) {
	switch len(elems) {
	case 0:
		return AvailableShowState, nil
	case 1:
		st, ok := showStates[elems[0].Text()]
		if !ok {
			return AvailableShowState, errors.Errorf("xmpp: invalid presence show state: %s", elems[0].Text())
		}
		return st, nil
	}
	return AvailableShowState, errors.New("xmpp: more than one <show/> element")
}

func parsePriority(elems []XElement) (int8, error) {
	switch len(elems) {
	case 0:
		return 0, nil
	case 1:
		pr, err := strconv.ParseInt(elems[0].Text(), 10, 8)
		if err != nil {
			return 0, errors.Wrap(err, "xmpp: priority must be an integer between -128 and +127")
		}
		return int8(pr), nil
	}
	return 0, errors.New("xmpp: more than one <priority/> element")
}
