/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/jackal-im/presenced/auth"
	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/transport"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const (
	testStreamID       = "D60000229F"
	dialbackFeatureXML = `<dialback xmlns="urn:xmpp:features:dialback"><errors/></dialback>`
)

func tUtilOutStreamInit(secured bool, cfgFn func(cfg *outConfig)) (*outStream, *fakeSocketConn) {
	cfg := &outConfig{
		localDomain:    "localhost",
		remoteDomain:   "jackal.im",
		tls:            transport.TLSOptional,
		tlsConfig:      &tls.Config{ServerName: "jackal.im"},
		dialback:       DialbackConfig{Enabled: true, Secret: testSecret, Fallback: true, MultipleDomains: true},
		keyGen:         &keyGen{secret: testSecret},
		connectTimeout: time.Second * 5,
		maxStanzaSize:  8192,
	}
	if cfgFn != nil {
		cfgFn(cfg)
	}
	stm := newOutStream(cfg)

	conn := newFakeSocketConn()
	tr := transport.NewSocketTransport(conn, 0)
	if secured {
		tr = &securedTransport{Transport: tr}
	}
	stm.start(tr)
	return stm, conn
}

// tUtilPeerOpen reads the initiating stream header and answers it with features.
func tUtilPeerOpen(t *testing.T, conn *fakeSocketConn, version string, features string) {
	elem := conn.outboundRead()
	require.Equal(t, "stream:stream", elem.Name())
	require.Equal(t, "localhost", elem.From())
	require.Equal(t, "jackal.im", elem.To())

	header := `<?xml version="1.0"?>
<stream:stream xmlns:stream="http://etherx.jabber.org/streams" xmlns="jabber:server" xmlns:db="jabber:server:dialback"
from="jackal.im" to="localhost" id="` + testStreamID + `"`
	if len(version) > 0 {
		header += ` version="` + version + `">`
		header += `<stream:features>` + features + `</stream:features>`
	} else {
		header += `>`
	}
	_, _ = conn.inboundWrite([]byte(header))
}

func tUtilPeerValidate(t *testing.T, conn *fakeSocketConn, typ string) {
	elem := conn.outboundRead()
	require.Equal(t, dbResultName, elem.Name())
	require.Equal(t, "localhost", elem.From())
	require.Equal(t, "jackal.im", elem.To())

	kg := &keyGen{secret: testSecret}
	require.Equal(t, kg.generate("jackal.im", "localhost", testStreamID), elem.Text())

	_, _ = conn.inboundWrite([]byte(`<db:result from="jackal.im" to="localhost" type="` + typ + `"/>`))
}

func TestOutStream_Dialback(t *testing.T) {
	stm, conn := tUtilOutStreamInit(false, func(cfg *outConfig) { cfg.tls = transport.TLSDisabled })

	tUtilPeerOpen(t, conn, "1.0", dialbackFeatureXML)
	tUtilPeerValidate(t, conn, dbTypeValid)

	require.Nil(t, stm.waitVerified(context.Background()))
	require.Equal(t, outVerified, stm.getState())

	sess := stm.Session()
	require.True(t, sess.IsAuthenticated())
	require.True(t, sess.OutgoingServer().IsAuthenticatedDomain("localhost"))
	require.True(t, sess.OutgoingServer().HasHostname("jackal.im"))

	msg := xmpp.NewElementName("message")
	msg.SetFrom("ortuman@localhost")
	msg.SetTo("romeo@jackal.im")
	stm.SendElement(msg)

	elem := conn.outboundRead()
	require.Equal(t, "message", elem.Name())
	require.Equal(t, "romeo@jackal.im", elem.To())

	sess.Close(context.Background(), nil)
	require.True(t, conn.waitClose())
}

func TestOutStream_DialbackRejected(t *testing.T) {
	stm, conn := tUtilOutStreamInit(false, func(cfg *outConfig) { cfg.tls = transport.TLSDisabled })

	tUtilPeerOpen(t, conn, "1.0", dialbackFeatureXML)
	tUtilPeerValidate(t, conn, dbTypeInvalid)

	err := stm.waitVerified(context.Background())
	require.NotNil(t, err)
	require.Equal(t, errDialbackKeyFailed, errors.Cause(err))
	require.True(t, conn.waitClose())
	require.Equal(t, session.Closed, stm.Session().Status())
}

func TestOutStream_LegacyPeer(t *testing.T) {
	stm, conn := tUtilOutStreamInit(false, nil)

	tUtilPeerOpen(t, conn, "", "")
	tUtilPeerValidate(t, conn, dbTypeValid)

	require.Nil(t, stm.waitVerified(context.Background()))
}

func TestOutStream_StartTLS(t *testing.T) {
	stm, conn := tUtilOutStreamInit(false, nil)

	tUtilPeerOpen(t, conn, "1.0", `<starttls xmlns="urn:ietf:params:xml:ns:xmpp-tls"/>`+dialbackFeatureXML)

	elem := conn.outboundRead()
	require.Equal(t, "starttls", elem.Name())
	require.Equal(t, tlsNamespace, elem.Namespace())
	require.Eventually(t, func() bool { return stm.getState() == outSecuring }, time.Second, time.Millisecond*10)

	// refused by the peer
	_, _ = conn.inboundWrite([]byte(`<failure xmlns="urn:ietf:params:xml:ns:xmpp-tls"/>`))
	require.NotNil(t, stm.waitVerified(context.Background()))
	require.True(t, conn.waitClose())
}

func TestOutStream_TLSRequiredNotOffered(t *testing.T) {
	stm, conn := tUtilOutStreamInit(false, func(cfg *outConfig) { cfg.tls = transport.TLSRequired })

	tUtilPeerOpen(t, conn, "1.0", dialbackFeatureXML)

	elem := conn.outboundRead()
	require.Equal(t, "stream:error", elem.Name())
	require.NotNil(t, elem.Elements().Child("policy-violation"))
	require.NotNil(t, stm.waitVerified(context.Background()))
}

func TestOutStream_NoAuthMechanism(t *testing.T) {
	stm, conn := tUtilOutStreamInit(false, func(cfg *outConfig) { cfg.tls = transport.TLSDisabled })

	tUtilPeerOpen(t, conn, "1.0", "")

	elem := conn.outboundRead()
	require.Equal(t, "stream:error", elem.Name())
	require.NotNil(t, elem.Elements().Child("remote-connection-failed"))
	require.Equal(t, errNoAuthMechanism, errors.Cause(stm.waitVerified(context.Background())))
}

const externalFeatureXML = `<mechanisms xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><mechanism>EXTERNAL</mechanism></mechanisms>`

func TestOutStream_External(t *testing.T) {
	stm, conn := tUtilOutStreamInit(true, func(cfg *outConfig) { cfg.hasCertificates = true })

	tUtilPeerOpen(t, conn, "1.0", externalFeatureXML+dialbackFeatureXML)

	elem := conn.outboundRead()
	require.Equal(t, "auth", elem.Name())
	require.Equal(t, auth.SASLNamespace, elem.Namespace())
	require.Equal(t, "EXTERNAL", elem.Attributes().Get("mechanism"))
	require.Equal(t, "=", elem.Text())

	_, _ = conn.inboundWrite([]byte(`<success xmlns="urn:ietf:params:xml:ns:xmpp-sasl"/>`))

	// stream restart
	tUtilPeerOpen(t, conn, "1.0", "")

	require.Nil(t, stm.waitVerified(context.Background()))
	require.True(t, stm.Session().IsAuthenticated())
}

func TestOutStream_ExternalFallback(t *testing.T) {
	stm, conn := tUtilOutStreamInit(true, func(cfg *outConfig) { cfg.hasCertificates = true })

	tUtilPeerOpen(t, conn, "1.0", externalFeatureXML+dialbackFeatureXML)
	require.Equal(t, "auth", conn.outboundRead().Name())

	_, _ = conn.inboundWrite([]byte(`<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><not-authorized/></failure>`))

	tUtilPeerValidate(t, conn, dbTypeValid)
	require.Nil(t, stm.waitVerified(context.Background()))

	// fallback disabled
	stm, conn = tUtilOutStreamInit(true, func(cfg *outConfig) {
		cfg.hasCertificates = true
		cfg.dialback.Fallback = false
	})
	tUtilPeerOpen(t, conn, "1.0", externalFeatureXML+dialbackFeatureXML)
	require.Equal(t, "auth", conn.outboundRead().Name())

	_, _ = conn.inboundWrite([]byte(`<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><not-authorized/></failure>`))

	elem := conn.outboundRead()
	require.Equal(t, "stream:error", elem.Name())
	require.NotNil(t, elem.Elements().Child("remote-connection-failed"))
	require.NotNil(t, stm.waitVerified(context.Background()))
}

func TestOutStream_VerifyKey(t *testing.T) {
	dbVerify := xmpp.NewElementName(dbVerifyName)
	dbVerify.SetID("a1b2c3")
	dbVerify.SetFrom("localhost")
	dbVerify.SetTo("jackal.im")
	dbVerify.SetText("abcd")

	stm, conn := tUtilOutStreamInit(false, func(cfg *outConfig) {
		cfg.tls = transport.TLSDisabled
		cfg.dbVerify = dbVerify
	})
	tUtilPeerOpen(t, conn, "1.0", dialbackFeatureXML)

	elem := conn.outboundRead()
	require.Equal(t, dbVerifyName, elem.Name())
	require.Equal(t, "a1b2c3", elem.ID())
	require.Equal(t, "abcd", elem.Text())

	_, _ = conn.inboundWrite([]byte(`<db:verify from="jackal.im" to="localhost" id="a1b2c3" type="valid"/>`))

	valid, err := stm.waitVerifyResult(context.Background())
	require.Nil(t, err)
	require.True(t, valid)
	require.True(t, conn.waitClose())

	// verify streams never become routable
	require.False(t, stm.Session().IsAuthenticated())
}

func TestOutStream_ConnectTimeout(t *testing.T) {
	stm, conn := tUtilOutStreamInit(false, func(cfg *outConfig) { cfg.connectTimeout = time.Millisecond * 100 })

	require.Equal(t, "stream:stream", conn.outboundRead().Name())
	elem := conn.outboundRead()
	require.Equal(t, "stream:error", elem.Name())
	require.NotNil(t, elem.Elements().Child("connection-timeout"))

	require.NotNil(t, stm.waitVerified(context.Background()))
	require.True(t, conn.waitClose())
}

func TestOutStream_WaitVerifiedContext(t *testing.T) {
	stm, _ := tUtilOutStreamInit(false, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()
	require.Equal(t, context.DeadlineExceeded, stm.waitVerified(ctx))

	stm.Session().Close(context.Background(), nil)
}
