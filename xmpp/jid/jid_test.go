/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package jid_test

import (
	"strings"
	"testing"

	"github.com/jackal-im/presenced/xmpp/jid"
	"github.com/stretchr/testify/require"
)

func TestBadJID(t *testing.T) {
	_, err := jid.NewWithString("ortuman@", false)
	require.NotNil(t, err)
	_, err = jid.NewWithString("@jackal.im", false)
	require.NotNil(t, err)
	_, err = jid.NewWithString("ortuman@jackal.im/", false)
	require.NotNil(t, err)

	longStr := strings.Repeat("a", 1074)
	_, err = jid.New(longStr, "example.org", "res", false)
	require.NotNil(t, err)
	_, err = jid.New("ortuman", longStr, "res", false)
	require.NotNil(t, err)
	_, err = jid.New("ortuman", "example.org", longStr, false)
	require.NotNil(t, err)

	_, err = jid.New("or<tuman", "example.org", "", false)
	require.NotNil(t, err)
}

func TestNewJID(t *testing.T) {
	j1, err := jid.New("ortuman", "example.org", "res", false)
	require.Nil(t, err)
	require.Equal(t, "ortuman", j1.Node())
	require.Equal(t, "example.org", j1.Domain())
	require.Equal(t, "res", j1.Resource())

	j2, err := jid.New("ortuman", "example.org", "res", true)
	require.Nil(t, err)
	require.True(t, j1.Equals(j2))
}

func TestEmptyJID(t *testing.T) {
	j, err := jid.NewWithString("", true)
	require.Nil(t, err)
	require.Equal(t, "", j.Node())
	require.Equal(t, "", j.Domain())
	require.Equal(t, "", j.Resource())
}

func TestNewJIDString(t *testing.T) {
	j, err := jid.NewWithString("ortuman@jackal.im/res", false)
	require.Nil(t, err)
	require.Equal(t, "ortuman", j.Node())
	require.Equal(t, "jackal.im", j.Domain())
	require.Equal(t, "res", j.Resource())
	require.Equal(t, "ortuman@jackal.im", j.ToBareJID().String())
	require.Equal(t, "ortuman@jackal.im/res", j.String())

	// '@' is legal inside a resource
	j, err = jid.NewWithString("ortuman@jackal.im/a@b", false)
	require.Nil(t, err)
	require.Equal(t, "ortuman", j.Node())
	require.Equal(t, "a@b", j.Resource())
}

func TestNormalization(t *testing.T) {
	j1, err := jid.NewWithString("OrTuMaN@JaCkAl.IM/Res", false)
	require.Nil(t, err)
	j2, err := jid.NewWithString("ortuman@jackal.im/Res", false)
	require.Nil(t, err)

	require.True(t, j1.Equals(j2))
	require.Equal(t, "ortuman@jackal.im/Res", j1.String())

	// resources are case sensitive
	j3, _ := jid.NewWithString("ortuman@jackal.im/res", false)
	require.False(t, j1.Equals(j3))
	require.True(t, j1.Matches(j3, jid.MatchesBare))
}

func TestServerJID(t *testing.T) {
	j1, _ := jid.NewWithString("example.org", false)
	j2, _ := jid.NewWithString("user@example.org", false)
	j3, _ := jid.NewWithString("example.org/res", false)
	require.True(t, j1.IsServer())
	require.False(t, j2.IsServer())
	require.True(t, j3.IsServer() && j3.IsFull())
	require.True(t, j3.IsFullWithServer())
	require.Equal(t, "example.org", j2.ToServerJID().String())
}

func TestBareJID(t *testing.T) {
	j1, _ := jid.New("ortuman", "example.org", "res", false)
	require.True(t, j1.ToBareJID().IsBare())
	j2, _ := jid.NewWithString("example.org/res", false)
	require.False(t, j2.ToBareJID().IsBare())
}

func TestFullJID(t *testing.T) {
	j1, _ := jid.New("ortuman", "example.org", "res", false)
	j2, _ := jid.New("", "example.org", "res", false)
	require.True(t, j1.IsFullWithUser())
	require.True(t, j2.IsFullWithServer())
	require.False(t, j2.IsFullWithUser())
}

func TestWithResource(t *testing.T) {
	j, _ := jid.New("ortuman", "example.org", "", false)

	j1, err := j.WithResource("balcony")
	require.Nil(t, err)
	require.Equal(t, "ortuman@example.org/balcony", j1.String())

	_, err = j.WithResource("bal\u0007cony")
	require.Equal(t, jid.ErrMalformedResource, err)

	j2, err := j.WithResource("")
	require.Nil(t, err)
	require.True(t, j2.IsBare())
}

func TestMatchesJID(t *testing.T) {
	j1, _ := jid.NewWithString("ortuman@jackal.im/res1", false)
	j2, _ := jid.NewWithString("ortuman@jackal.im", false)
	j3, _ := jid.NewWithString("jackal.im", false)
	j4, _ := jid.NewWithString("jackal.im/res1", false)
	j5, _ := jid.NewWithString("ortuman@jackal.im/res2", false)

	require.True(t, j1.Matches(j1, jid.MatchesFull))
	require.True(t, j1.Matches(j2, jid.MatchesBare))
	require.True(t, j1.Matches(j3, jid.MatchesDomain))
	require.True(t, j1.Matches(j4, jid.MatchesDomain|jid.MatchesResource))
	require.False(t, j1.Matches(j5, jid.MatchesFull))
	require.False(t, j1.Matches(nil, jid.MatchesDomain))
}

func TestLess(t *testing.T) {
	a, _ := jid.NewWithString("a@jackal.im", false)
	b, _ := jid.NewWithString("b@jackal.im", false)
	c, _ := jid.NewWithString("a@zz.im", false)
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.True(t, b.Less(c))
}
