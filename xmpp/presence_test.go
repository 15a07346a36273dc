/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"testing"

	"github.com/jackal-im/presenced/xmpp/jid"
	"github.com/stretchr/testify/require"
)

func TestPresence_Build(t *testing.T) {
	j, _ := jid.New("ortuman", "jackal.im", "balcony", true)

	elem := NewElementName("iq")
	_, err := NewPresenceFromElement(elem, j, j)
	require.NotNil(t, err)

	elem.SetName("presence")
	elem.SetType("invalid")
	_, err = NewPresenceFromElement(elem, j, j)
	require.NotNil(t, err)

	elem.SetType(SubscribeType)
	p, err := NewPresenceFromElement(elem, j, j)
	require.Nil(t, err)
	require.True(t, p.IsSubscribe())
	require.True(t, p.IsSubscription())
	require.Equal(t, j.String(), p.From())
}

func TestPresence_ShowAndPriority(t *testing.T) {
	j, _ := jid.New("ortuman", "jackal.im", "balcony", true)

	elem := NewElementName("presence")
	elem.AppendElement(NewElementName("show").SetText("dnd"))
	elem.AppendElement(NewElementName("priority").SetText("8"))
	p, err := NewPresenceFromElement(elem, j, j)
	require.Nil(t, err)
	require.Equal(t, DoNotDisturbShowState, p.ShowState())
	require.Equal(t, int8(8), p.Priority())
	require.True(t, p.IsAvailable())
	require.False(t, p.IsSubscription())

	elem = NewElementName("presence")
	elem.AppendElement(NewElementName("priority").SetText("129"))
	_, err = NewPresenceFromElement(elem, j, j)
	require.NotNil(t, err)

	elem = NewElementName("presence")
	elem.AppendElement(NewElementName("show").SetText("sleeping"))
	_, err = NewPresenceFromElement(elem, j, j)
	require.NotNil(t, err)
}

func TestStanza_ErrorCopy(t *testing.T) {
	from, _ := jid.New("ortuman", "jackal.im", "balcony", true)
	to, _ := jid.New("noelia", "jackal.im", "", true)

	p := NewPresence(from, to, SubscribeType)
	errStanza := p.JidMalformedError()

	require.Equal(t, ErrorType, errStanza.Type())
	require.Equal(t, to.String(), errStanza.From())
	require.Equal(t, from.String(), errStanza.To())
	require.NotNil(t, errStanza.Error())
	require.NotNil(t, errStanza.Error().Elements().Child("jid-malformed"))

	// original is left untouched
	require.Equal(t, SubscribeType, p.Type())
}

func TestStanza_FromElement(t *testing.T) {
	elem := NewElementName("presence")
	elem.SetFrom("Ortuman@Jackal.IM/Balcony")
	elem.SetTo("noelia@jackal.im")
	st, err := NewStanzaFromElement(elem)
	require.Nil(t, err)
	require.Equal(t, "ortuman@jackal.im/Balcony", st.FromJID().String())
	_, ok := st.(*Presence)
	require.True(t, ok)

	elem.SetTo("@jackal.im")
	_, err = NewStanzaFromElement(elem)
	require.NotNil(t, err)

	iq := NewElementName("iq").SetID("1").SetType(SetType)
	_, err = NewStanzaFromElement(iq)
	require.NotNil(t, err) // set without payload
}

func TestIQ_Result(t *testing.T) {
	from, _ := jid.New("ortuman", "jackal.im", "balcony", true)
	to, _ := jid.New("", "jackal.im", "", true)

	iq := NewIQType("b1", SetType)
	iq.SetFromJID(from)
	iq.SetToJID(to)

	rs := iq.ResultIQ()
	require.True(t, rs.IsResult())
	require.Equal(t, "b1", rs.ID())
	require.Equal(t, from.String(), rs.To())
	require.Equal(t, to.String(), rs.From())
}
