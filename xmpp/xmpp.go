/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"fmt"
	"io"

	"github.com/jackal-im/presenced/pool"
	"github.com/jackal-im/presenced/xmpp/jid"
)

var bufPool = pool.NewBufferPool()

// Stanza element names.
const (
	MessageName  = "message"
	PresenceName = "presence"
	IQName       = "iq"
)

// ErrorType is the type attribute value shared by every error stanza.
const ErrorType = "error"

// XElement is a read-only view of an XML element.
type XElement interface {
	fmt.Stringer

	Name() string
	Attributes() AttributeSet
	Elements() ElementSet

	Text() string

	ID() string
	Namespace() string
	Language() string
	Version() string
	From() string
	To() string
	Type() string

	IsStanza() bool

	IsError() bool
	Error() XElement

	ToXML(w io.Writer, includeClosing bool)
}

// Stanza is an element carrying routable from and to addresses.
type Stanza interface {
	XElement
	FromJID() *jid.JID
	ToJID() *jid.JID
}
