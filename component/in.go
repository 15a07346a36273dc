/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package component

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/registry"
	"github.com/jackal-im/presenced/router"
	"github.com/jackal-im/presenced/runqueue"
	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/streamerror"
	"github.com/jackal-im/presenced/transport"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/jackal-im/presenced/xmpp/jid"
)

const (
	connecting uint32 = iota
	handshaking
	authenticated
	disconnected
)

type streamConfig struct {
	domain         string
	secret         string
	transport      transport.Transport
	connectTimeout time.Duration
	maxStanzaSize  int
	onDisconnect   func(s *inStream)
}

type inStream struct {
	cfg       *streamConfig
	router    *router.Router
	sess      *session.Session
	stm       *session.Stream
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	connectTm *time.Timer
	runQueue  *runqueue.RunQueue
	state     uint32
}

func newStream(cfg *streamConfig, router *router.Router, handler session.PacketHandler) *inStream {
	s := &inStream{
		cfg:    cfg,
		router: router,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.sess = session.New(&session.Config{
		Kind:    session.Component,
		Sender:  s,
		Handler: handler,
	})
	s.sess.AddCloseHook(func(_ context.Context, sess *session.Session) {
		router.Registry().Unregister(sess)
	})
	s.id = s.sess.StreamID()
	s.runQueue = runqueue.New(s.id)

	domainJID, _ := jid.New("", cfg.domain, "", true)
	s.stm = session.NewStream(s.id, &session.StreamConfig{
		JID:           domainJID,
		Transport:     cfg.transport,
		MaxStanzaSize: cfg.maxStanzaSize,
		Namespace:     session.ComponentAcceptNamespace,
		IsLocalDomain: func(domain string) bool { return domain == cfg.domain },
	})
	s.setState(connecting)

	if cfg.connectTimeout > 0 {
		// armed on the run queue, where every other timer access happens
		s.runQueue.Run(func() { s.connectTm = time.AfterFunc(cfg.connectTimeout, s.connectTimeout) })
	}
	go s.doRead() // start reading...

	return s
}

// ID returns stream identifier.
func (s *inStream) ID() string {
	return s.id
}

// Session returns the component session negotiated over this stream.
func (s *inStream) Session() *session.Session {
	return s.sess
}

// SendElement satisfies session.Sender interface.
func (s *inStream) SendElement(elem xmpp.XElement) {
	if s.getState() == disconnected {
		return
	}
	s.runQueue.Run(func() { s.writeElement(elem) })
}

// Disconnect satisfies session.Sender interface.
func (s *inStream) Disconnect(streamErr *streamerror.Error) {
	if s.getState() == disconnected {
		return
	}
	s.runQueue.Run(func() { s.disconnect(streamErr) })
}

func (s *inStream) connectTimeout() {
	s.runQueue.Run(func() {
		if st := s.getState(); st == authenticated || st == disconnected {
			return
		}
		log.Infof("component: handshake timed out... id: %s, domain: %s", s.id, s.cfg.domain)
		s.close(streamerror.ErrConnectionTimeout)
	})
}

func (s *inStream) handleElement(elem xmpp.XElement) {
	switch s.getState() {
	case connecting:
		s.handleConnecting(elem)
	case handshaking:
		s.handleHandshaking(elem)
	case authenticated:
		s.handleAuthenticated(elem)
	}
}

func (s *inStream) handleConnecting(_ xmpp.XElement) {
	s.sess.SetStatus(session.Negotiating)
	if err := s.stm.Open(); err != nil {
		log.Error(err)
		s.close(nil)
		return
	}
	s.setState(handshaking)
}

func (s *inStream) handleHandshaking(elem xmpp.XElement) {
	if elem.Name() != "handshake" {
		s.close(streamerror.ErrNotAuthorized)
		return
	}
	if !VerifyHandshake(elem.Text(), s.stm.StreamID(), s.cfg.secret) {
		log.Infof("component: handshake failed... id: %s, domain: %s", s.id, s.cfg.domain)
		reportHandshake(false)
		s.close(streamerror.ErrNotAuthorized)
		return
	}
	domainJID, _ := jid.New("", s.cfg.domain, "", true)
	s.sess.SetJID(domainJID)
	s.sess.Component().SetDomain(s.cfg.domain)
	s.sess.SetStatus(session.Authenticated)

	if err := s.router.Registry().RegisterComponent(s.sess); err != nil {
		if err == registry.ErrConflict {
			log.Infof("component: domain already served... id: %s, domain: %s", s.id, s.cfg.domain)
			s.close(streamerror.ErrConflict)
			return
		}
		log.Error(err)
		s.close(streamerror.ErrInternalServerError)
		return
	}
	if s.connectTm != nil {
		s.connectTm.Stop()
		s.connectTm = nil
	}
	s.setState(authenticated)
	reportHandshake(true)

	s.writeElement(xmpp.NewElementName("handshake"))
	log.Infof("component: registered component... id: %s, domain: %s", s.id, s.cfg.domain)
}

func (s *inStream) handleAuthenticated(elem xmpp.XElement) {
	stanza, ok := elem.(xmpp.Stanza)
	if !ok {
		s.close(streamerror.ErrUnsupportedStanzaType)
		return
	}
	if err := s.sess.Process(s.ctx, stanza); err == session.ErrNotProcessable {
		s.close(streamerror.ErrInvalidFrom)
	}
}

// Runs on it's own goroutine
func (s *inStream) doRead() {
	elem, sErr := s.stm.Receive()
	if sErr == nil {
		s.runQueue.Run(func() { s.readElement(elem) })
	} else {
		s.runQueue.Run(func() {
			if s.getState() == disconnected {
				return
			}
			s.handleStreamError(sErr)
		})
	}
}

func (s *inStream) handleStreamError(sErr *session.StreamError) {
	switch err := sErr.UnderlyingErr.(type) {
	case nil:
		s.close(nil)
	case *streamerror.Error:
		s.close(err)
	case *xmpp.StanzaError:
		if sErr.Element != nil {
			if stanza, e := xmpp.NewStanzaFromElement(sErr.Element); e == nil {
				s.writeElement(xmpp.NewErrorStanzaFromStanza(stanza, err, nil))
			}
		}
		if s.isReading() {
			go s.doRead()
		}
	default:
		log.Error(err)
		s.close(streamerror.ErrUndefinedCondition)
	}
}

func (s *inStream) readElement(elem xmpp.XElement) {
	if elem != nil {
		s.handleElement(elem)
	}
	if s.isReading() {
		go s.doRead() // Keep reading...
	}
}

func (s *inStream) isReading() bool {
	return s.getState() != disconnected && s.sess.Status() != session.Closed
}

func (s *inStream) writeElement(elem xmpp.XElement) {
	s.stm.Send(elem)
}

func (s *inStream) close(streamErr *streamerror.Error) {
	if !s.sess.Close(s.ctx, streamErr) {
		s.disconnect(streamErr)
	}
}

func (s *inStream) disconnect(streamErr *streamerror.Error) {
	if s.getState() == disconnected {
		return
	}
	if s.connectTm != nil {
		s.connectTm.Stop()
		s.connectTm = nil
	}
	if streamErr != nil {
		_ = s.stm.Open()
		s.writeElement(streamErr.Element())
	}
	_ = s.stm.Close()

	s.setState(disconnected)
	_ = s.cfg.transport.Close()
	s.cancel()

	if s.cfg.onDisconnect != nil {
		s.cfg.onDisconnect(s)
	}
	s.runQueue.Stop(nil)
}

func (s *inStream) setState(state uint32) {
	atomic.StoreUint32(&s.state, state)
}

func (s *inStream) getState() uint32 {
	return atomic.LoadUint32(&s.state)
}
