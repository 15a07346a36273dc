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
	// NormalType represents a 'normal' message type.
	NormalType = "normal"

	// HeadlineType represents a 'headline' message type.
	HeadlineType = "headline"

	// ChatType represents a 'chat' message type.
	ChatType = "chat"

	// GroupChatType represents a 'groupchat' message type.
	GroupChatType = "groupchat"
)

// Message type represents a <message> element.
type Message struct {
	stanzaElement
}

// NewMessageFromElement creates a Message object from XElement.
func NewMessageFromElement(e XElement, from *jid.JID, to *jid.JID) (*Message, error) {
	if e.Name() != MessageName {
		return nil, errors.Errorf("xmpp: wrong message element name: %s", e.Name())
	}
	switch e.Type() {
	case "", NormalType, HeadlineType, ChatType, GroupChatType, ErrorType:
		break
	default:
		return nil, errors.Errorf(`xmpp: invalid message "type" attribute: %s`, e.Type())
	}
	m := &Message{}
	m.copyFrom(e)
	m.SetFromJID(from)
	m.SetToJID(to)
	m.SetNamespace("")
	return m, nil
}

// NewMessageType creates and returns a new Message element.
func NewMessageType(identifier string, messageType string) *Message {
	msg := &Message{}
	msg.SetName(MessageName)
	msg.SetID(identifier)
	msg.SetType(messageType)
	return msg
}

// IsChat returns true if this is a 'chat' type message.
func (m *Message) IsChat() bool { return m.Type() == ChatType }

// IsGroupChat returns true if this is a 'groupchat' type message.
func (m *Message) IsGroupChat() bool { return m.Type() == GroupChatType }

// IsMessageWithBody returns true if the message contains a body element.
func (m *Message) IsMessageWithBody() bool {
	return m.Elements().Child("body") != nil
}
