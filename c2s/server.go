/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jackal-im/presenced/cluster"
	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/router"
	"github.com/jackal-im/presenced/shaper"
	"github.com/jackal-im/presenced/storage/repository"
	"github.com/jackal-im/presenced/streamerror"
	"github.com/jackal-im/presenced/transport"
)

var listenerProvider = net.Listen

type server struct {
	cfg       *Config
	router    *router.Router
	userRep   repository.User
	handler   *Handler
	publisher cluster.Publisher
	ln        net.Listener
	listening uint32
	inStreams sync.Map
}

func (s *server) start() {
	address := s.cfg.Transport.BindAddress + ":" + strconv.Itoa(s.cfg.Transport.Port)

	log.Infof("c2s_in: listening at %s [id: %s, tls: %s]", address, s.cfg.ID, s.cfg.TLS)

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
			go s.startStream(transport.NewSocketTransport(shaper.Shape(conn, s.cfg.Shaper), s.cfg.Transport.KeepAlive))
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
	// close all active streams
	s.inStreams.Range(func(_, v interface{}) bool {
		stm := v.(*inStream)
		stm.Session().Close(ctx, streamerror.ErrSystemShutdown)
		return true
	})
	return nil
}

func (s *server) startStream(tr transport.Transport) *inStream {
	cfg := &streamConfig{
		transport:      tr,
		tls:            s.cfg.TLS,
		compression:    s.cfg.Compression,
		connectTimeout: s.cfg.ConnectTimeout,
		maxStanzaSize:  s.cfg.MaxStanzaSize,
		conflictLimit:  s.cfg.ConflictLimit,
		sasl:           s.cfg.SASL,
		onDisconnect:   s.unregisterStream,
	}
	stm := newStream(cfg, s.router, s.userRep, s.handler, s.publisher)
	s.registerStream(stm)
	return stm
}

func (s *server) registerStream(stm *inStream) {
	s.inStreams.Store(stm.ID(), stm)
	log.Infof("c2s_in: registered stream... (id: %s)", stm.ID())
}

func (s *server) unregisterStream(stm *inStream) {
	s.inStreams.Delete(stm.ID())
	log.Infof("c2s_in: unregistered stream... (id: %s)", stm.ID())
}
