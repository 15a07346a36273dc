/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"github.com/jackal-im/presenced/xmpp/jid"
	"github.com/pkg/errors"
)

type stanzaElement struct {
	Element
	fromJID *jid.JID
	toJID   *jid.JID
}

// NewStanzaFromElement returns a new stanza instance derived from an XMPP element.
// Address attributes are normalized, so any malformed JID makes it fail.
func NewStanzaFromElement(elem XElement) (Stanza, error) {
	fromJID, err := jid.NewWithString(elem.From(), false)
	if err != nil {
		return nil, err
	}
	toJID, err := jid.NewWithString(elem.To(), false)
	if err != nil {
		return nil, err
	}
	switch elem.Name() {
	case IQName:
		return NewIQFromElement(elem, fromJID, toJID)
	case PresenceName:
		return NewPresenceFromElement(elem, fromJID, toJID)
	case MessageName:
		return NewMessageFromElement(elem, fromJID, toJID)
	}
	return nil, errors.Errorf("xmpp: unrecognized stanza name: %s", elem.Name())
}

// NewErrorStanzaFromStanza returns an error copy of a stanza with swapped addresses.
func NewErrorStanzaFromStanza(stanza Stanza, stanzaErr *StanzaError, errorElements []XElement) Stanza {
	e := &stanzaElement{}
	e.copyFrom(stanza)
	e.SetType(ErrorType)
	if to := stanza.ToJID(); to != nil {
		e.SetFromJID(to)
	}
	if from := stanza.FromJID(); from != nil {
		e.SetToJID(from)
	}
	errEl := stanzaErr.Element()
	errEl.AppendElements(errorElements)
	e.AppendElement(errEl)
	return e
}

// ToJID returns stanza 'to' JID value.
func (s *stanzaElement) ToJID() *jid.JID { return s.toJID }

// SetToJID sets the stanza 'to' JID value.
func (s *stanzaElement) SetToJID(j *jid.JID) {
	s.toJID = j
	s.SetTo(j.String())
}

// FromJID returns stanza 'from' JID value.
func (s *stanzaElement) FromJID() *jid.JID { return s.fromJID }

// SetFromJID sets the stanza 'from' JID value.
func (s *stanzaElement) SetFromJID(j *jid.JID) {
	s.fromJID = j
	s.SetFrom(j.String())
}

// BadRequestError returns an error copy of the element attaching 'bad-request' error sub element.
func (s *stanzaElement) BadRequestError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrBadRequest, nil)
}

// ConflictError returns an error copy of the element attaching 'conflict' error sub element.
func (s *stanzaElement) ConflictError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrConflict, nil)
}

// ForbiddenError returns an error copy of the element attaching 'forbidden' error sub element.
func (s *stanzaElement) ForbiddenError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrForbidden, nil)
}

// InternalServerError returns an error copy of the element attaching 'internal-server-error' error sub element.
func (s *stanzaElement) InternalServerError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrInternalServerError, nil)
}

// ItemNotFoundError returns an error copy of the element attaching 'item-not-found' error sub element.
func (s *stanzaElement) ItemNotFoundError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrItemNotFound, nil)
}

// JidMalformedError returns an error copy of the element attaching 'jid-malformed' error sub element.
func (s *stanzaElement) JidMalformedError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrJidMalformed, nil)
}

// NotAllowedError returns an error copy of the element attaching 'not-allowed' error sub element.
func (s *stanzaElement) NotAllowedError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrNotAllowed, nil)
}

// NotAuthorizedError returns an error copy of the element attaching 'not-authorized' error sub element.
func (s *stanzaElement) NotAuthorizedError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrNotAuthorized, nil)
}

// RemoteServerNotFoundError returns an error copy of the element attaching 'remote-server-not-found' error sub element.
func (s *stanzaElement) RemoteServerNotFoundError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrRemoteServerNotFound, nil)
}

// RemoteServerTimeoutError returns an error copy of the element attaching 'remote-server-timeout' error sub element.
func (s *stanzaElement) RemoteServerTimeoutError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrRemoteServerTimeout, nil)
}

// ServiceUnavailableError returns an error copy of the element attaching 'service-unavailable' error sub element.
func (s *stanzaElement) ServiceUnavailableError() Stanza {
	return NewErrorStanzaFromStanza(s, ErrServiceUnavailable, nil)
}
