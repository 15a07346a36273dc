/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/router"
	"github.com/jackal-im/presenced/shaper"
	"github.com/jackal-im/presenced/streamerror"
	"github.com/jackal-im/presenced/transport"
)

var listenerProvider = net.Listen

type server struct {
	cfg       *Config
	router    *router.Router
	handler   *Handler
	verifier  dialbackVerifier
	keyGen    *keyGen
	ln        net.Listener
	listening uint32
	inStreams sync.Map
}

func (s *server) start() {
	address := s.cfg.Transport.BindAddress + ":" + strconv.Itoa(s.cfg.Transport.Port)

	log.Infof("s2s_in: listening at %s [tls: %s, dialback: %t]", address, s.cfg.TLS, s.cfg.Dialback.Enabled)

	if err := s.listenConn(address); err != nil {
		log.Fatalf("%v", err)
	}
}

func (s *server) listenConn(address string) error {
	ln, err := listenerProvider("tcp", address)
	if err != nil {
		return err
	}
	s.ln = ln

	atomic.StoreUint32(&s.listening, 1)
	for atomic.LoadUint32(&s.listening) == 1 {
		conn, err := ln.Accept()
		if err == nil {
			go s.startInStream(transport.NewSocketTransport(shaper.Shape(conn, s.cfg.Shaper), s.cfg.Transport.KeepAlive))
			continue
		}
	}
	return nil
}

func (s *server) shutdown(ctx context.Context) error {
	if atomic.CompareAndSwapUint32(&s.listening, 1, 0) {
		if err := s.ln.Close(); err != nil {
			return err
		}
	}
	s.inStreams.Range(func(_, v interface{}) bool {
		stm := v.(*inStream)
		stm.Session().Close(ctx, streamerror.ErrSystemShutdown)
		return true
	})
	return nil
}

func (s *server) startInStream(tr transport.Transport) *inStream {
	cfg := &inConfig{
		transport:      tr,
		tls:            s.cfg.TLS,
		dialback:       s.cfg.Dialback,
		keyGen:         s.keyGen,
		connectTimeout: s.cfg.ConnectTimeout,
		requestTimeout: s.cfg.RequestTimeout,
		maxStanzaSize:  s.cfg.MaxStanzaSize,
		onDisconnect:   s.unregisterInStream,
	}
	stm := newInStream(cfg, s.router, s.handler, s.verifier)
	s.registerInStream(stm)
	return stm
}

func (s *server) registerInStream(stm *inStream) {
	s.inStreams.Store(stm.ID(), stm)
	log.Infof("s2s_in: registered stream... (id: %s)", stm.ID())
}

func (s *server) unregisterInStream(stm *inStream) {
	s.inStreams.Delete(stm.ID())
	log.Infof("s2s_in: unregistered stream... (id: %s)", stm.ID())
}
