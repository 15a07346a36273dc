/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackal-im/presenced/auth"
	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/transport"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/jackal-im/presenced/xmpp/jid"
	"github.com/stretchr/testify/require"
)

func TestStream_ConnectTimeout(t *testing.T) {
	env := tUtilEnv(t)

	stm, conn := tUtilStreamInit(env, func(cfg *streamConfig) { cfg.connectTimeout = time.Millisecond * 100 })

	require.Equal(t, "stream:stream", conn.outboundRead().Name())
	elem := conn.outboundRead()
	require.Equal(t, "stream:error", elem.Name())
	require.NotNil(t, elem.Elements().Child("connection-timeout"))

	require.True(t, conn.waitClose())
	require.Eventually(t, func() bool { return stm.getState() == disconnected }, time.Second, time.Millisecond*10)
	require.Equal(t, session.Closed, stm.Session().Status())
}

func TestStream_Disconnect(t *testing.T) {
	env := tUtilEnv(t)

	stm, conn := tUtilStreamInit(env, nil)
	stm.Session().Close(context.Background(), nil)
	require.True(t, conn.waitClose())

	require.Eventually(t, func() bool { return stm.getState() == disconnected }, time.Second, time.Millisecond*10)

	// idempotent
	require.False(t, stm.Session().Close(context.Background(), nil))
}

func TestStream_InvalidHeader(t *testing.T) {
	env := tUtilEnv(t)

	// wrong namespace
	_, conn := tUtilStreamInit(env, nil)
	_, _ = conn.inboundWrite([]byte(`<?xml version="1.0"?>
<stream:stream xmlns:stream="http://etherx.jabber.org/streams" version="1.0" xmlns="jabber:server" to="localhost">`))

	require.Equal(t, "stream:stream", conn.outboundRead().Name())
	elem := conn.outboundRead()
	require.Equal(t, "stream:error", elem.Name())
	require.NotNil(t, elem.Elements().Child("invalid-namespace"))
	require.True(t, conn.waitClose())

	// unknown host
	_, conn = tUtilStreamInit(env, nil)
	_, _ = conn.inboundWrite([]byte(`<?xml version="1.0"?>
<stream:stream xmlns:stream="http://etherx.jabber.org/streams" version="1.0" xmlns="jabber:client" to="jackal.im">`))

	require.Equal(t, "stream:stream", conn.outboundRead().Name())
	elem = conn.outboundRead()
	require.Equal(t, "stream:error", elem.Name())
	require.NotNil(t, elem.Elements().Child("host-unknown"))
	require.True(t, conn.waitClose())
}

func TestStream_Features(t *testing.T) {
	env := tUtilEnv(t)

	// TLS optional
	stm, conn := tUtilStreamInit(env, nil)
	tUtilStreamOpen(conn)

	elem := conn.outboundRead()
	require.Equal(t, "stream:stream", elem.Name())
	require.Equal(t, stm.stm.StreamID(), elem.ID())

	elem = conn.outboundRead()
	require.Equal(t, "stream:features", elem.Name())
	startTLS := elem.Elements().ChildNamespace("starttls", tlsNamespace)
	require.NotNil(t, startTLS)
	require.Nil(t, startTLS.Elements().Child("required"))

	mechanisms := elem.Elements().ChildNamespace("mechanisms", auth.SASLNamespace)
	require.NotNil(t, mechanisms)
	var offered []string
	for _, m := range mechanisms.Elements().Children("mechanism") {
		offered = append(offered, m.Text())
	}
	require.Equal(t, []string{"PLAIN", "SCRAM-SHA-1", "SCRAM-SHA-256"}, offered)
	require.Equal(t, connected, stm.getState())

	// TLS required
	_, conn2 := tUtilStreamInit(env, func(cfg *streamConfig) { cfg.tls = transport.TLSRequired })
	tUtilStreamOpen(conn2)

	_ = conn2.outboundRead()
	elem = conn2.outboundRead()
	require.Equal(t, "stream:features", elem.Name())
	require.NotNil(t, elem.Elements().ChildNamespace("starttls", tlsNamespace).Elements().Child("required"))
	require.Nil(t, elem.Elements().ChildNamespace("mechanisms", auth.SASLNamespace))

	// SASL attempt over an unsecured channel
	_, _ = conn2.inboundWrite([]byte(`<auth xmlns="urn:ietf:params:xml:ns:xmpp-sasl" mechanism="PLAIN">AG9ydHVtYW4AMTIzNA==</auth>`))
	elem = conn2.outboundRead()
	require.Equal(t, "failure", elem.Name())
	require.NotNil(t, elem.Elements().Child("encryption-required"))

	// TLS disabled
	_, conn3 := tUtilStreamInit(env, func(cfg *streamConfig) { cfg.tls = transport.TLSDisabled })
	tUtilStreamOpen(conn3)

	_ = conn3.outboundRead()
	elem = conn3.outboundRead()
	require.Nil(t, elem.Elements().ChildNamespace("starttls", tlsNamespace))
	require.NotNil(t, elem.Elements().ChildNamespace("mechanisms", auth.SASLNamespace))
}

func TestStream_TLS(t *testing.T) {
	env := tUtilEnv(t)

	stm, conn := tUtilStreamInit(env, nil)
	tUtilStreamOpen(conn)

	_ = conn.outboundRead() // read stream opening...
	_ = conn.outboundRead() // read stream features...

	_, _ = conn.inboundWrite([]byte(`<starttls xmlns="urn:ietf:params:xml:ns:xmpp-tls"/>`))

	elem := conn.outboundRead()
	require.Equal(t, "proceed", elem.Name())
	require.Equal(t, tlsNamespace, elem.Namespace())

	require.Eventually(t, stm.IsSecured, time.Second, time.Millisecond*10)
	require.Equal(t, connecting, stm.getState())
}

func TestStream_TLSDisabled(t *testing.T) {
	env := tUtilEnv(t)

	_, conn := tUtilStreamInit(env, func(cfg *streamConfig) { cfg.tls = transport.TLSDisabled })
	tUtilStreamOpen(conn)
	_ = conn.outboundRead()
	_ = conn.outboundRead()

	_, _ = conn.inboundWrite([]byte(`<starttls xmlns="urn:ietf:params:xml:ns:xmpp-tls"/>`))

	elem := conn.outboundRead()
	require.Equal(t, "failure", elem.Name())
	require.True(t, conn.waitClose())
}

func TestStream_FailAuthenticate(t *testing.T) {
	env := tUtilEnv(t)

	stm, conn := tUtilStreamInit(env, nil)
	tUtilStreamOpen(conn)
	_ = conn.outboundRead() // read stream opening...
	_ = conn.outboundRead() // read stream features...

	// wrong mechanism
	_, _ = conn.inboundWrite([]byte(`<auth xmlns="urn:ietf:params:xml:ns:xmpp-sasl" mechanism="FOO"/>`))

	elem := conn.outboundRead()
	require.Equal(t, "failure", elem.Name())
	require.NotNil(t, elem.Elements().Child("invalid-mechanism"))

	// channel binding over an unsecured channel
	_, _ = conn.inboundWrite([]byte(`<auth xmlns="urn:ietf:params:xml:ns:xmpp-sasl" mechanism="SCRAM-SHA-1-PLUS"/>`))

	elem = conn.outboundRead()
	require.Equal(t, "failure", elem.Name())

	// wrong password: AG9ydHVtYW4AYmFk -> \x00ortuman\x00bad
	_, _ = conn.inboundWrite([]byte(`<auth xmlns="urn:ietf:params:xml:ns:xmpp-sasl" mechanism="PLAIN">AG9ydHVtYW4AYmFk</auth>`))

	elem = conn.outboundRead()
	require.Equal(t, "failure", elem.Name())
	require.NotNil(t, elem.Elements().Child("not-authorized"))
	require.Equal(t, connected, stm.getState())

	// non-SASL over a 1.0 stream
	_, _ = conn.inboundWrite([]byte(`<iq type='set' id='auth2'><query xmlns='jabber:iq:auth'>
<username>ortuman</username>
<password>1234</password>
<resource>balcony</resource>
</query>
</iq>`))

	elem = conn.outboundRead()
	require.Equal(t, "iq", elem.Name())
	require.Equal(t, xmpp.ErrorType, elem.Type())
	require.NotNil(t, elem.Elements().Child("error").Elements().Child("service-unavailable"))

	// stanza before authentication
	_, _ = conn.inboundWrite([]byte(`<message to="noelia@localhost"/>`))

	elem = conn.outboundRead()
	require.Equal(t, "stream:error", elem.Name())
	require.NotNil(t, elem.Elements().Child("not-authorized"))
	require.True(t, conn.waitClose())
}

func TestStream_Compression(t *testing.T) {
	env := tUtilEnv(t)

	// channel is not secured: compression is not negotiable
	stm, conn := tUtilStreamInit(env, nil)
	tUtilStreamOpen(conn)
	_ = conn.outboundRead()
	_ = conn.outboundRead()

	tUtilStreamAuthenticate(t, conn, "ortuman", "1234")

	_, _ = conn.inboundWrite([]byte(`<compress xmlns="http://jabber.org/protocol/compress"><method>zlib</method></compress>`))
	elem := conn.outboundRead()
	require.Equal(t, "failure", elem.Name())
	require.NotNil(t, elem.Elements().Child("setup-failed"))

	// stream goes on uncompressed
	require.False(t, stm.isCompressed())
	require.Equal(t, authenticated, stm.getState())

	// secured channel
	stm, conn = tUtilStreamInit(env, func(cfg *streamConfig) {
		cfg.transport = &securedTransport{Transport: cfg.transport}
	})
	tUtilStreamOpen(conn)
	_ = conn.outboundRead()
	elem = conn.outboundRead()
	require.Nil(t, elem.Elements().ChildNamespace("starttls", tlsNamespace))

	_, _ = conn.inboundWrite([]byte(`<auth xmlns="urn:ietf:params:xml:ns:xmpp-sasl" mechanism="PLAIN">AG9ydHVtYW4AMTIzNA==</auth>`))
	require.Equal(t, "success", conn.outboundRead().Name())
	tUtilStreamOpen(conn)
	_ = conn.outboundRead()
	elem = conn.outboundRead()
	require.NotNil(t, elem.Elements().ChildNamespace("compression", compressFeatureNamespace))

	_, _ = conn.inboundWrite([]byte(`<compress xmlns="http://jabber.org/protocol/compress"><method>lzw</method></compress>`))
	elem = conn.outboundRead()
	require.Equal(t, "failure", elem.Name())
	require.NotNil(t, elem.Elements().Child("unsupported-method"))

	_, _ = conn.inboundWrite([]byte(`<compress xmlns="http://jabber.org/protocol/compress"><method>zlib</method></compress>`))
	elem = conn.outboundRead()
	require.Equal(t, "compressed", elem.Name())

	require.Eventually(t, stm.isCompressed, time.Second, time.Millisecond*10)
}

func TestStream_CompressionBeforeAuthentication(t *testing.T) {
	env := tUtilEnv(t)

	stm, conn := tUtilStreamInit(env, func(cfg *streamConfig) {
		cfg.transport = &securedTransport{Transport: cfg.transport}
	})
	tUtilStreamOpen(conn)
	_ = conn.outboundRead()
	elem := conn.outboundRead()
	require.NotNil(t, elem.Elements().ChildNamespace("compression", compressFeatureNamespace))
	require.NotNil(t, elem.Elements().ChildNamespace("mechanisms", auth.SASLNamespace))

	// a failed negotiation leaves the stream open and uncompressed
	_, _ = conn.inboundWrite([]byte(`<compress xmlns="http://jabber.org/protocol/compress"><method>lzw</method></compress>`))
	elem = conn.outboundRead()
	require.Equal(t, "failure", elem.Name())
	require.NotNil(t, elem.Elements().Child("unsupported-method"))
	require.Equal(t, connected, stm.getState())
	require.False(t, stm.isCompressed())

	_, _ = conn.inboundWrite([]byte(`<compress xmlns="http://jabber.org/protocol/compress"><method>zlib</method></compress>`))
	elem = conn.outboundRead()
	require.Equal(t, "compressed", elem.Name())

	require.Eventually(t, stm.isCompressed, time.Second, time.Millisecond*10)
	require.Equal(t, connecting, stm.getState())
	require.False(t, stm.Session().IsAuthenticated())
}

func TestStream_BindResource(t *testing.T) {
	env := tUtilEnv(t)

	stm, conn := tUtilStreamInit(env, nil)
	tUtilStreamOpen(conn)
	_ = conn.outboundRead()
	_ = conn.outboundRead()

	tUtilStreamAuthenticate(t, conn, "ortuman", "1234")
	require.Equal(t, session.Authenticated, stm.Session().Status())

	// malformed resource keeps the session alive
	elem := tUtilStreamBind(t, conn, strings.Repeat("r", 1100))
	require.Equal(t, xmpp.ErrorType, elem.Type())
	require.NotNil(t, elem.Elements().Child("error").Elements().Child("jid-malformed"))
	require.Equal(t, authenticated, stm.getState())

	elem = tUtilStreamBind(t, conn, "balcony")
	require.Equal(t, xmpp.ResultType, elem.Type())
	require.Equal(t, "ortuman@localhost/balcony", elem.Elements().Child("bind").Elements().Child("jid").Text())

	j, _ := jid.New("ortuman", "localhost", "balcony", true)
	require.Eventually(t, func() bool { return stm.getState() == bound }, time.Second, time.Millisecond*10)
	require.Equal(t, stm.Session(), env.router.Registry().Session(j))

	// session IQ
	_, _ = conn.inboundWrite([]byte(`<iq type="set" id="sess_1"><session xmlns="urn:ietf:params:xml:ns:xmpp-session"/></iq>`))
	elem = conn.outboundRead()
	require.Equal(t, xmpp.ResultType, elem.Type())

	_, _ = conn.inboundWrite([]byte(`<iq type="set" id="sess_2"><session xmlns="urn:ietf:params:xml:ns:xmpp-session"/></iq>`))
	elem = conn.outboundRead()
	require.Equal(t, xmpp.ErrorType, elem.Type())

	// closing unregisters the session
	stm.Session().Close(context.Background(), nil)
	require.True(t, conn.waitClose())
	require.Nil(t, env.router.Registry().Session(j))
}

func TestStream_GeneratedResource(t *testing.T) {
	env := tUtilEnv(t)

	stm, conn := tUtilStreamInit(env, nil)
	tUtilStreamOpen(conn)
	_ = conn.outboundRead()
	_ = conn.outboundRead()
	tUtilStreamAuthenticate(t, conn, "ortuman", "1234")

	_, _ = conn.inboundWrite([]byte(`<iq type="set" id="bind_1"><bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"/></iq>`))
	elem := conn.outboundRead()
	require.Equal(t, xmpp.ResultType, elem.Type())

	j, err := jid.NewWithString(elem.Elements().Child("bind").Elements().Child("jid").Text(), false)
	require.Nil(t, err)
	require.True(t, len(j.Resource()) > 0)
	require.Eventually(t, func() bool { return stm.getState() == bound }, time.Second, time.Millisecond*10)
}

func TestStream_ResourceConflict(t *testing.T) {
	env := tUtilEnv(t)

	// conflict limit 0: the old session is kicked right away
	stm1, conn1 := tUtilStreamReady(t, env, "ortuman", "1234", "balcony")
	stm2, _ := tUtilStreamReady(t, env, "ortuman", "1234", "balcony")

	elem := conn1.outboundRead()
	require.Equal(t, "stream:error", elem.Name())
	require.NotNil(t, elem.Elements().Child("conflict"))
	require.True(t, conn1.waitClose())
	require.Equal(t, session.Closed, stm1.Session().Status())

	j, _ := jid.New("ortuman", "localhost", "balcony", true)
	require.Equal(t, stm2.Session(), env.router.Registry().Session(j))
}

func TestStream_ResourceConflictNeverKick(t *testing.T) {
	env := tUtilEnv(t)

	stm1, _ := tUtilStreamReady(t, env, "ortuman", "1234", "balcony")

	stm2, conn2 := tUtilStreamInit(env, func(cfg *streamConfig) { cfg.conflictLimit = -1 })
	tUtilStreamOpen(conn2)
	_ = conn2.outboundRead()
	_ = conn2.outboundRead()
	tUtilStreamAuthenticate(t, conn2, "ortuman", "1234")

	elem := tUtilStreamBind(t, conn2, "balcony")
	require.Equal(t, xmpp.ErrorType, elem.Type())
	require.NotNil(t, elem.Elements().Child("error").Elements().Child("conflict"))
	require.Equal(t, authenticated, stm2.getState())

	j, _ := jid.New("ortuman", "localhost", "balcony", true)
	require.Equal(t, stm1.Session(), env.router.Registry().Session(j))
	require.Equal(t, 1, stm1.Session().ConflictCount())
}

func TestStream_LegacyAuthentication(t *testing.T) {
	env := tUtilEnv(t)

	stm, conn := tUtilStreamInit(env, nil)
	_, _ = conn.inboundWrite([]byte(`<?xml version="1.0"?>
<stream:stream xmlns:stream="http://etherx.jabber.org/streams" xmlns="jabber:client" to="localhost">`))

	elem := conn.outboundRead()
	require.Equal(t, "stream:stream", elem.Name())
	require.Equal(t, "", elem.Version())

	// fields request
	_, _ = conn.inboundWrite([]byte(`<iq type='get' id='auth1'><query xmlns='jabber:iq:auth'><username>ortuman</username></query></iq>`))
	elem = conn.outboundRead()
	require.Equal(t, xmpp.ResultType, elem.Type())
	require.NotNil(t, elem.Elements().ChildNamespace("query", auth.LegacyNamespace).Elements().Child("digest"))

	// wrong password
	_, _ = conn.inboundWrite([]byte(`<iq type='set' id='auth2'><query xmlns='jabber:iq:auth'>
<username>ortuman</username><password>bad</password><resource>balcony</resource>
</query></iq>`))
	elem = conn.outboundRead()
	require.Equal(t, xmpp.ErrorType, elem.Type())
	require.NotNil(t, elem.Elements().Child("error").Elements().Child("not-authorized"))

	// digest
	digest := auth.LegacyDigest(stm.stm.StreamID(), "1234")
	_, _ = conn.inboundWrite([]byte(`<iq type='set' id='auth3'><query xmlns='jabber:iq:auth'>
<username>ortuman</username><digest>` + digest + `</digest><resource>balcony</resource>
</query></iq>`))
	elem = conn.outboundRead()
	require.Equal(t, xmpp.ResultType, elem.Type())

	require.Eventually(t, func() bool { return stm.getState() == bound }, time.Second, time.Millisecond*10)
	require.Equal(t, "ortuman@localhost/balcony", stm.JID().String())
}

func TestStream_SendElement(t *testing.T) {
	env := tUtilEnv(t)
	stm, conn := tUtilStreamReady(t, env, "ortuman", "1234", "balcony")

	from, _ := jid.New("noelia", "localhost", "yard", true)
	msg := xmpp.NewMessageType("msg-1", xmpp.ChatType)
	msg.SetFromJID(from)
	msg.SetToJID(stm.JID())
	require.Nil(t, stm.Session().Deliver(context.Background(), msg))

	elem := conn.outboundRead()
	require.Equal(t, "message", elem.Name())
	require.Equal(t, "msg-1", elem.ID())

	// spoofed 'from'
	_, _ = conn.inboundWrite([]byte(`<message from="noelia@localhost/yard" to="ortuman@localhost"/>`))
	elem = conn.outboundRead()
	require.Equal(t, "stream:error", elem.Name())
	require.NotNil(t, elem.Elements().Child("invalid-from"))
	require.True(t, conn.waitClose())
}

type securedTransport struct {
	transport.Transport
}

func (t *securedTransport) IsSecured() bool { return true }
