/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/streamerror"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/jackal-im/presenced/xmpp/jid"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu        sync.Mutex
	closed    bool
	streamErr *streamerror.Error
}

func (s *fakeSender) SendElement(_ xmpp.XElement) {}

func (s *fakeSender) Disconnect(streamErr *streamerror.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.streamErr = streamErr
}

func TestRegistry_BindClient(t *testing.T) {
	r := New()
	j1, _ := jid.New("ortuman", "jackal.im", "balcony", true)
	j2, _ := jid.New("ortuman", "jackal.im", "garden", true)

	s1, _ := tUtilClientSession(r)
	s2, _ := tUtilClientSession(r)

	require.Equal(t, ErrNotAuthenticated, r.BindClient(context.Background(), session.New(&session.Config{Kind: session.Client}), j1, 0))

	require.Nil(t, r.BindClient(context.Background(), s1, j1, NeverKick))
	require.Nil(t, r.BindClient(context.Background(), s2, j2, NeverKick))

	require.Equal(t, s1, r.Session(j1))
	require.Equal(t, s2, r.Session(j2))
	require.Len(t, r.UserSessions(j1.ToBareJID()), 2)
	require.Equal(t, s1, r.SessionByStreamID(s1.StreamID()))
	require.Equal(t, j1, s1.JID())
}

func TestRegistry_ConflictNeverKick(t *testing.T) {
	r := New()
	j, _ := jid.New("ortuman", "jackal.im", "balcony", true)

	s1, snd1 := tUtilClientSession(r)
	require.Nil(t, r.BindClient(context.Background(), s1, j, NeverKick))

	for i := 0; i < 10; i++ {
		s2, _ := tUtilClientSession(r)
		require.Equal(t, ErrConflict, r.BindClient(context.Background(), s2, j, NeverKick))
	}
	require.False(t, snd1.closed)
	require.Equal(t, s1, r.Session(j))
}

func TestRegistry_ConflictKickImmediately(t *testing.T) {
	r := New()
	j, _ := jid.New("ortuman", "jackal.im", "balcony", true)

	s1, snd1 := tUtilClientSession(r)
	require.Nil(t, r.BindClient(context.Background(), s1, j, 0))

	s2, _ := tUtilClientSession(r)
	require.Nil(t, r.BindClient(context.Background(), s2, j, 0))

	require.True(t, snd1.closed)
	require.Equal(t, streamerror.ErrConflict, snd1.streamErr)
	require.Equal(t, session.Closed, s1.Status())
	require.Equal(t, s2, r.Session(j))
	require.Nil(t, r.SessionByStreamID(s1.StreamID()))
}

func TestRegistry_ConflictBoundary(t *testing.T) {
	const limit = 3

	r := New()
	j, _ := jid.New("ortuman", "jackal.im", "balcony", true)

	s1, snd1 := tUtilClientSession(r)
	require.Nil(t, r.BindClient(context.Background(), s1, j, limit))

	// attempts 1..N are rejected
	for i := 1; i <= limit; i++ {
		s, _ := tUtilClientSession(r)
		require.Equal(t, ErrConflict, r.BindClient(context.Background(), s, j, limit))
		require.Equal(t, i, s1.ConflictCount())
		require.False(t, snd1.closed)
	}
	// attempt N+1 evicts
	s, _ := tUtilClientSession(r)
	require.Nil(t, r.BindClient(context.Background(), s, j, limit))
	require.True(t, snd1.closed)
	require.Equal(t, s, r.Session(j))
}

func TestRegistry_UnregisterIdempotence(t *testing.T) {
	r := New()
	j, _ := jid.New("ortuman", "jackal.im", "balcony", true)

	s1, _ := tUtilClientSession(r)
	require.Nil(t, r.BindClient(context.Background(), s1, j, 0))

	s2, _ := tUtilClientSession(r)
	require.Nil(t, r.BindClient(context.Background(), s2, j, 0)) // s1 evicted and unregistered by its close hook

	// a late unregister of the evicted session must not remove s2 binding
	r.Unregister(s1)
	r.Unregister(s1)
	require.Equal(t, s2, r.Session(j))

	s2.Close(context.Background(), nil)
	r.Unregister(s2)
	require.Nil(t, r.Session(j))
	require.Len(t, r.UserSessions(j), 0)
}

func TestRegistry_IncomingDomains(t *testing.T) {
	r := New()
	sess := session.New(&session.Config{Kind: session.IncomingServer, Sender: &fakeSender{}})
	r.Register(sess)

	r.AddIncomingDomain(sess, "jabber.org", "jackal.im")
	r.AddIncomingDomain(sess, "conference.jabber.org", "jackal.im")

	require.Equal(t, []*session.Session{sess}, r.IncomingSessions("jabber.org"))
	require.Equal(t, []*session.Session{sess}, r.IncomingSessions("conference.jabber.org"))

	// revoking a validated domain deregisters it from the domain index
	sess.IncomingServer().RemoveValidatedDomain("jabber.org")
	require.Len(t, r.IncomingSessions("jabber.org"), 0)

	r.Unregister(sess)
	require.Len(t, r.IncomingSessions("conference.jabber.org"), 0)
	require.Nil(t, r.SessionByStreamID(sess.StreamID()))
}

func TestRegistry_Components(t *testing.T) {
	r := New()
	c1 := session.New(&session.Config{Kind: session.Component, Sender: &fakeSender{}})
	c1.Component().SetDomain("muc.jackal.im")
	c2 := session.New(&session.Config{Kind: session.Component, Sender: &fakeSender{}})
	c2.Component().SetDomain("muc.jackal.im")

	require.Nil(t, r.RegisterComponent(c1))
	require.Equal(t, ErrConflict, r.RegisterComponent(c2))
	require.Equal(t, c1, r.Component("muc.jackal.im"))

	r.Unregister(c2) // not registered, no-op
	require.Equal(t, c1, r.Component("muc.jackal.im"))

	r.Unregister(c1)
	require.Nil(t, r.Component("muc.jackal.im"))
}

func TestRegistry_Multiplexers(t *testing.T) {
	r := New()
	j, _ := jid.New("", "cm.jackal.im", "", true)
	m := session.New(&session.Config{Kind: session.Multiplexer, JID: j, Sender: &fakeSender{}})

	require.Nil(t, r.RegisterMultiplexer(m))
	require.Equal(t, m, r.Multiplexer("cm.jackal.im"))
	r.Unregister(m)
	require.Nil(t, r.Multiplexer("cm.jackal.im"))
}

func tUtilClientSession(r *Registry) (*session.Session, *fakeSender) {
	snd := &fakeSender{}
	sess := session.New(&session.Config{Kind: session.Client, Sender: snd})
	sess.SetStatus(session.Authenticated)
	sess.AddCloseHook(func(_ context.Context, s *session.Session) { r.Unregister(s) })
	return sess, snd
}
