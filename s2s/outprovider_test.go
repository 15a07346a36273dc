/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackal-im/presenced/registry"
	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/transport"
	"github.com/stretchr/testify/require"
)

func tUtilOutProvider(conns ...*fakeSocketConn) (*OutProvider, *int32) {
	p := NewOutProvider(&Config{
		TLS:            transport.TLSDisabled,
		DialTimeout:    time.Second,
		ConnectTimeout: time.Second * 5,
		MaxStanzaSize:  8192,
		Dialback:       DialbackConfig{Enabled: true, Secret: testSecret, Fallback: true, MultipleDomains: true},
	}, nil, registry.New())

	var dials int32
	p.dialer.srvResolve = func(_, _, _ string) (string, []*net.SRV, error) {
		return "", nil, errors.New("no such host")
	}
	p.dialer.dialContext = func(_ context.Context, _, address string) (net.Conn, error) {
		n := atomic.AddInt32(&dials, 1)
		if int(n) > len(conns) || address != "jackal.im:5269" {
			return nil, errors.New("connection refused")
		}
		return conns[n-1], nil
	}
	return p, &dials
}

type getOutResult struct {
	sess *session.Session
	err  error
}

func TestOutProvider_GetOut(t *testing.T) {
	conn := newFakeSocketConn()
	p, dials := tUtilOutProvider(conn)

	resCh := make(chan getOutResult, 1)
	go func() {
		sess, err := p.GetOut(context.Background(), "localhost", "jackal.im")
		resCh <- getOutResult{sess: sess, err: err}
	}()
	tUtilPeerOpen(t, conn, "1.0", dialbackFeatureXML)
	tUtilPeerValidate(t, conn, dbTypeValid)

	res := <-resCh
	require.Nil(t, res.err)
	require.Equal(t, session.OutgoingServer, res.sess.Kind())
	require.NotNil(t, p.reg.SessionByStreamID(res.sess.StreamID()))

	// pooled per domain pair
	sess, err := p.GetOut(context.Background(), "localhost", "jackal.im")
	require.Nil(t, err)
	require.Equal(t, res.sess, sess)
	require.Equal(t, int32(1), atomic.LoadInt32(dials))

	require.Nil(t, p.Shutdown(context.Background()))

	elem := conn.outboundRead()
	require.Equal(t, "stream:error", elem.Name())
	require.NotNil(t, elem.Elements().Child("system-shutdown"))
	require.True(t, conn.waitClose())

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.outStreams) == 0
	}, time.Second, time.Millisecond*10)
	require.Nil(t, p.reg.SessionByStreamID(res.sess.StreamID()))
}

func TestOutProvider_DialFailure(t *testing.T) {
	p, _ := tUtilOutProvider()

	_, err := p.GetOut(context.Background(), "localhost", "jackal.im")
	require.NotNil(t, err)

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.outStreams) == 0
	}, time.Second, time.Millisecond*10)
}

func TestOutProvider_VerifyDialbackKey(t *testing.T) {
	conn := newFakeSocketConn()
	p, _ := tUtilOutProvider(conn)

	type verifyResult struct {
		valid bool
		err   error
	}
	resCh := make(chan verifyResult, 1)
	go func() {
		valid, err := p.verifyDialbackKey(context.Background(), "localhost", "jackal.im", "a1b2c3", "abcd")
		resCh <- verifyResult{valid: valid, err: err}
	}()
	tUtilPeerOpen(t, conn, "1.0", dialbackFeatureXML)

	elem := conn.outboundRead()
	require.Equal(t, dbVerifyName, elem.Name())
	require.Equal(t, "localhost", elem.From())
	require.Equal(t, "jackal.im", elem.To())
	require.Equal(t, "a1b2c3", elem.ID())
	require.Equal(t, "abcd", elem.Text())

	_, _ = conn.inboundWrite([]byte(`<db:verify from="jackal.im" to="localhost" id="a1b2c3" type="invalid"/>`))

	res := <-resCh
	require.Nil(t, res.err)
	require.False(t, res.valid)
	require.True(t, conn.waitClose())

	// never pooled
	p.mu.Lock()
	require.Len(t, p.outStreams, 0)
	p.mu.Unlock()
}
