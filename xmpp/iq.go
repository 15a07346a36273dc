/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"github.com/jackal-im/presenced/xmpp/jid"
	"github.com/pkg/errors"
)

const (
	// GetType represents a 'get' IQ type.
	GetType = "get"

	// SetType represents a 'set' IQ type.
	SetType = "set"

	// ResultType represents a 'result' IQ type.
	ResultType = "result"
)

// IQ type represents an <iq> element.
type IQ struct {
	stanzaElement
}

// NewIQFromElement creates an IQ object from XElement.
func NewIQFromElement(e XElement, from *jid.JID, to *jid.JID) (*IQ, error) {
	if e.Name() != IQName {
		return nil, errors.Errorf("xmpp: wrong iq element name: %s", e.Name())
	}
	if len(e.ID()) == 0 {
		return nil, errors.New(`xmpp: iq "id" attribute is required`)
	}
	switch e.Type() {
	case GetType, SetType:
		if e.Elements().Count() != 1 {
			return nil, errors.New(`xmpp: an iq stanza of type "get" or "set" must contain one and only one child element`)
		}
	case ResultType:
		if e.Elements().Count() > 1 {
			return nil, errors.New(`xmpp: an iq stanza of type "result" must include zero or one child elements`)
		}
	case ErrorType:
		break
	default:
		return nil, errors.Errorf(`xmpp: invalid iq "type" attribute: %s`, e.Type())
	}
	iq := &IQ{}
	iq.copyFrom(e)
	iq.SetFromJID(from)
	iq.SetToJID(to)
	iq.SetNamespace("")
	return iq, nil
}

// NewIQType creates and returns a new IQ element.
func NewIQType(identifier string, iqType string) *IQ {
	iq := &IQ{}
	iq.SetName(IQName)
	iq.SetID(identifier)
	iq.SetType(iqType)
	return iq
}

// IsGet returns true if this is a 'get' type IQ.
func (iq *IQ) IsGet() bool { return iq.Type() == GetType }

// IsSet returns true if this is a 'set' type IQ.
func (iq *IQ) IsSet() bool { return iq.Type() == SetType }

// IsResult returns true if this is a 'result' type IQ.
func (iq *IQ) IsResult() bool { return iq.Type() == ResultType }

// ResultIQ returns the instance associated result IQ.
func (iq *IQ) ResultIQ() *IQ {
	rs := NewIQType(iq.ID(), ResultType)
	if to := iq.ToJID(); to != nil {
		rs.SetFromJID(to)
	}
	if from := iq.FromJID(); from != nil {
		rs.SetToJID(from)
	}
	return rs
}
