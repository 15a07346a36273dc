/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package component

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/router"
	"github.com/jackal-im/presenced/streamerror"
	"github.com/jackal-im/presenced/transport"
)

var listenerProvider = net.Listen

type server struct {
	cfg       *Config
	router    *router.Router
	handler   *Handler
	ln        net.Listener
	listening uint32
	inStreams sync.Map
}

func (s *server) start() {
	address := s.cfg.Transport.BindAddress + ":" + strconv.Itoa(s.cfg.Transport.Port)

	log.Infof("component: listening at %s [domain: %s]", address, s.cfg.Domain)

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
			go s.startStream(transport.NewSocketTransport(conn, s.cfg.Transport.KeepAlive))
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

func (s *server) startStream(tr transport.Transport) *inStream {
	cfg := &streamConfig{
		domain:         s.cfg.Domain,
		secret:         s.cfg.Secret,
		transport:      tr,
		connectTimeout: s.cfg.ConnectTimeout,
		maxStanzaSize:  s.cfg.MaxStanzaSize,
		onDisconnect:   s.unregisterStream,
	}
	stm := newStream(cfg, s.router, s.handler)
	s.inStreams.Store(stm.ID(), stm)
	log.Infof("component: registered stream... (id: %s)", stm.ID())
	return stm
}

func (s *server) unregisterStream(stm *inStream) {
	s.inStreams.Delete(stm.ID())
	log.Infof("component: unregistered stream... (id: %s)", stm.ID())
}
