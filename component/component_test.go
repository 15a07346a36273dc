/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package component

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackal-im/presenced/host"
	"github.com/jackal-im/presenced/model"
	"github.com/jackal-im/presenced/module/roster"
	"github.com/jackal-im/presenced/registry"
	"github.com/jackal-im/presenced/router"
	memorystorage "github.com/jackal-im/presenced/storage/memory"
	"github.com/jackal-im/presenced/transport"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/stretchr/testify/require"
)

var errFakeSockAlreadyClosed = errors.New("fakeSockReaderWriter: already closed")

type fakeSockReaderWriter struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newFakeSockReaderWriter() *fakeSockReaderWriter {
	pr, pw := io.Pipe()
	return &fakeSockReaderWriter{r: pr, w: pw}
}

func (frw *fakeSockReaderWriter) Write(b []byte) (n int, err error) { return frw.w.Write(b) }
func (frw *fakeSockReaderWriter) Read(b []byte) (n int, err error)  { return frw.r.Read(b) }

func (frw *fakeSockReaderWriter) Close() error {
	_ = frw.w.Close()
	_ = frw.r.Close()
	return nil
}

type fakeSocketConn struct {
	rd      *fakeSockReaderWriter
	wr      *fakeSockReaderWriter
	p       *xmpp.Parser
	wrCh    chan []byte
	closeCh chan struct{}
	closed  uint32
}

func newFakeSocketConn() *fakeSocketConn {
	fc := &fakeSocketConn{
		rd:      newFakeSockReaderWriter(),
		wr:      newFakeSockReaderWriter(),
		wrCh:    make(chan []byte, 256),
		closeCh: make(chan struct{}, 1),
	}
	fc.p = xmpp.NewParser(fc.wr, xmpp.SocketStream, 0)
	go fc.loop()
	return fc
}

func (c *fakeSocketConn) Read(b []byte) (n int, err error) {
	if atomic.LoadUint32(&c.closed) == 1 {
		return 0, errFakeSockAlreadyClosed
	}
	return c.rd.Read(b)
}

func (c *fakeSocketConn) Write(b []byte) (n int, err error) {
	if atomic.LoadUint32(&c.closed) == 1 {
		return 0, errFakeSockAlreadyClosed
	}
	wb := make([]byte, len(b))
	copy(wb, b)
	c.wrCh <- wb
	return len(wb), nil
}

func (c *fakeSocketConn) Close() error {
	if atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		close(c.closeCh)
		return nil
	}
	return errFakeSockAlreadyClosed
}

func (c *fakeSocketConn) LocalAddr() net.Addr                { return fakeAddr(1) }
func (c *fakeSocketConn) RemoteAddr() net.Addr               { return fakeAddr(2) }
func (c *fakeSocketConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeSocketConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeSocketConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeSocketConn) inboundWrite(b []byte) (n int, err error) {
	return c.rd.Write(b)
}

func (c *fakeSocketConn) outboundRead() xmpp.XElement {
	var elem xmpp.XElement
	var err error
	for err == nil {
		elem, err = c.p.ParseElement()
		if elem != nil {
			return elem
		}
	}
	return &xmpp.Element{}
}

func (c *fakeSocketConn) waitClose() bool {
	select {
	case <-c.closeCh:
		return true
	case <-time.After(time.Second * 5):
		return false
	}
}

func (c *fakeSocketConn) loop() {
	for {
		select {
		case b := <-c.wrCh:
			_, _ = c.wr.Write(b)
		case <-c.closeCh:
			for {
				select {
				case b := <-c.wrCh:
					_, _ = c.wr.Write(b)
				default:
					_ = c.wr.w.Close()
					_ = c.rd.Close()
					return
				}
			}
		}
	}
}

type fakeAddr int

func (a fakeAddr) Network() string { return "net" }
func (a fakeAddr) String() string  { return "str" }

const (
	testDomain = "muc.localhost"
	testSecret = "sec3ret"
)

type tEnv struct {
	router  *router.Router
	handler *Handler
}

func tUtilEnv(t *testing.T) *tEnv {
	hosts, err := host.New([]host.Config{{Name: "localhost", Certificate: &tls.Certificate{}}})
	require.Nil(t, err)

	userRep := memorystorage.NewUser()
	require.Nil(t, userRep.UpsertUser(context.Background(), model.NewUser("ortuman", "1234", true)))

	rtr := router.New(hosts, registry.New(), userRep)
	return &tEnv{
		router:  rtr,
		handler: NewHandler(rtr, roster.New(rtr, memorystorage.NewRoster(), userRep)),
	}
}

func tUtilStreamInit(env *tEnv, cfgFn func(cfg *streamConfig)) (*inStream, *fakeSocketConn) {
	conn := newFakeSocketConn()
	cfg := &streamConfig{
		domain:         testDomain,
		secret:         testSecret,
		transport:      transport.NewSocketTransport(conn, 0),
		connectTimeout: time.Second * 5,
		maxStanzaSize:  8192,
	}
	if cfgFn != nil {
		cfgFn(cfg)
	}
	return newStream(cfg, env.router, env.handler), conn
}

func tUtilStreamOpen(conn *fakeSocketConn, to string) {
	_, _ = conn.inboundWrite([]byte(`<?xml version="1.0"?>
<stream:stream xmlns:stream="http://etherx.jabber.org/streams" xmlns="jabber:component:accept" to="` + to + `">`))
}

// tUtilStreamHandshake negotiates a component stream up to the handshake acknowledgement.
func tUtilStreamHandshake(t *testing.T, env *tEnv) (*inStream, *fakeSocketConn) {
	stm, conn := tUtilStreamInit(env, nil)
	tUtilStreamOpen(conn, testDomain)

	elem := conn.outboundRead()
	require.Equal(t, "stream:stream", elem.Name())
	require.Equal(t, testDomain, elem.From())

	_, _ = conn.inboundWrite([]byte(`<handshake>` + Handshake(elem.ID(), testSecret) + `</handshake>`))

	elem = conn.outboundRead()
	require.Equal(t, "handshake", elem.Name())
	require.Eventually(t, func() bool { return stm.getState() == authenticated }, time.Second, time.Millisecond*10)
	return stm, conn
}

func TestComponent_New(t *testing.T) {
	env := tUtilEnv(t)

	_, err := New([]Config{{Domain: "localhost", Secret: testSecret}}, env.router, env.handler)
	require.NotNil(t, err)

	_, err = New([]Config{{Domain: testDomain, Secret: "a"}, {Domain: testDomain, Secret: "b"}}, env.router, env.handler)
	require.NotNil(t, err)

	cs, err := New([]Config{{Domain: testDomain, Secret: testSecret}}, env.router, env.handler)
	require.Nil(t, err)
	require.Len(t, cs.servers, 1)
}

func TestComponent_StartAndShutdown(t *testing.T) {
	env := tUtilEnv(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	listenerProvider = func(_, _ string) (net.Listener, error) { return ln, nil }
	defer func() { listenerProvider = net.Listen }()

	cs, err := New([]Config{{Domain: testDomain, Secret: testSecret, Transport: TransportConfig{Port: 5275}}}, env.router, env.handler)
	require.Nil(t, err)
	cs.Start()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.Nil(t, err)
	defer conn.Close()

	srv := cs.servers[testDomain]
	streamCount := func() int {
		var n int
		srv.inStreams.Range(func(_, _ interface{}) bool { n++; return true })
		return n
	}
	require.Eventually(t, func() bool { return streamCount() == 1 }, time.Second, time.Millisecond*10)

	require.Nil(t, cs.Shutdown(context.Background()))
	require.Eventually(t, func() bool { return streamCount() == 0 }, time.Second, time.Millisecond*10)
}
