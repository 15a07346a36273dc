/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package transport

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackal-im/presenced/transport/compress"
)

const socketBuffSize = 4096

type socketTransport struct {
	conn      net.Conn // guarded by connMu
	keepAlive time.Duration

	connMu     sync.RWMutex
	mu         sync.Mutex
	rw         io.ReadWriter
	br         *bufio.Reader
	bw         *bufio.Writer
	secured    uint32
	compressed uint32
}

// NewSocketTransport returns a buffered transport over conn.
// When keepAlive is positive every read must complete within it.
func NewSocketTransport(conn net.Conn, keepAlive time.Duration) Transport {
	s := &socketTransport{
		conn:      conn,
		keepAlive: keepAlive,
		rw:        conn,
		br:        bufio.NewReaderSize(conn, socketBuffSize),
		bw:        bufio.NewWriterSize(conn, socketBuffSize),
	}
	if _, ok := conn.(*tls.Conn); ok {
		s.secured = 1
	}
	return s
}

func (s *socketTransport) Type() Type { return Socket }

func (s *socketTransport) Read(p []byte) (int, error) {
	if s.keepAlive > 0 {
		_ = s.netConn().SetReadDeadline(time.Now().Add(s.keepAlive))
	}
	return s.br.Read(p)
}

func (s *socketTransport) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.bw.Write(p)
	if err == nil {
		err = s.bw.Flush()
	}
	return n, err
}

func (s *socketTransport) WriteString(str string) error {
	_, err := s.Write([]byte(str))
	return err
}

func (s *socketTransport) Close() error { return s.netConn().Close() }

func (s *socketTransport) StartTLS(cfg *tls.Config, asClient bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsSecured() {
		return
	}
	var conn net.Conn
	if asClient {
		conn = tls.Client(s.netConn(), cfg)
	} else {
		conn = tls.Server(s.netConn(), cfg)
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.swap(conn)
	atomic.StoreUint32(&s.secured, 1)
}

func (s *socketTransport) EnableCompression(level compress.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsCompressed() {
		return
	}
	s.swap(compress.NewZlibCompressor(s.rw, s.rw, level))
	atomic.StoreUint32(&s.compressed, 1)
}

// swap must be called holding mu.
func (s *socketTransport) swap(rw io.ReadWriter) {
	s.rw = rw
	s.br.Reset(rw)
	s.bw.Reset(rw)
}

func (s *socketTransport) IsSecured() bool { return atomic.LoadUint32(&s.secured) == 1 }

func (s *socketTransport) IsCompressed() bool { return atomic.LoadUint32(&s.compressed) == 1 }

func (s *socketTransport) ChannelBindingBytes(mechanism ChannelBindingMechanism) []byte {
	st, ok := s.tlsState()
	if !ok || mechanism != TLSUnique {
		return nil
	}
	return st.TLSUnique
}

func (s *socketTransport) PeerCertificates() []*x509.Certificate {
	if st, ok := s.tlsState(); ok {
		return st.PeerCertificates
	}
	return nil
}

func (s *socketTransport) tlsState() (tls.ConnectionState, bool) {
	tlsConn, ok := s.netConn().(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tlsConn.ConnectionState(), true
}

// netConn returns the current underlying connection, which StartTLS may replace.
func (s *socketTransport) netConn() net.Conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}
