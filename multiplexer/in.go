/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package multiplexer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jackal-im/presenced/c2s"
	"github.com/jackal-im/presenced/cluster"
	"github.com/jackal-im/presenced/component"
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
	secret         string
	transport      transport.Transport
	connectTimeout time.Duration
	maxStanzaSize  int
	conflictLimit  int
	publisher      cluster.Publisher
	onDisconnect   func(s *inStream)
}

type inStream struct {
	cfg       *streamConfig
	router    *router.Router
	handler   *c2s.Handler
	sess      *session.Session
	stm       *session.Stream
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	connectTm *time.Timer
	runQueue  *runqueue.RunQueue
	state     uint32
}

func newStream(cfg *streamConfig, router *router.Router, handler *c2s.Handler) *inStream {
	s := &inStream{
		cfg:     cfg,
		router:  router,
		handler: handler,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.sess = session.New(&session.Config{
		Kind:   session.Multiplexer,
		Sender: s,
	})
	s.sess.AddCloseHook(s.closeVirtualSessions)
	s.id = s.sess.StreamID()
	s.runQueue = runqueue.New(s.id)

	hosts := router.Hosts()
	serverJID, _ := jid.New("", hosts.DefaultHostName(), "", true)
	s.stm = session.NewStream(s.id, &session.StreamConfig{
		JID:           serverJID,
		Transport:     cfg.transport,
		MaxStanzaSize: cfg.maxStanzaSize,
		Namespace:     session.ConnectionManagerNamespace,
		IsLocalDomain: hosts.IsLocalHost,
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

// Session returns the multiplexer session negotiated over this stream.
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
		log.Infof("multiplexer: handshake timed out... id: %s", s.id)
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

func (s *inStream) handleConnecting(elem xmpp.XElement) {
	s.sess.SetStatus(session.Negotiating)

	// answer with the addressed local domain
	localJID, _ := jid.New("", s.stm.PeerTo(), "", true)
	s.stm.SetJID(localJID)

	muxJID, err := jid.New("", elem.From(), "", false)
	if err != nil || len(elem.From()) == 0 {
		s.close(streamerror.ErrInvalidFrom)
		return
	}
	s.sess.SetJID(muxJID)

	if err := s.stm.Open(); err != nil {
		log.Error(err)
		s.close(nil)
		return
	}
	s.setState(handshaking)
}

func (s *inStream) handleHandshaking(elem xmpp.XElement) {
	domain := s.sess.JID().Domain()
	if elem.Name() != "handshake" {
		s.close(streamerror.ErrNotAuthorized)
		return
	}
	if !component.VerifyHandshake(elem.Text(), s.stm.StreamID(), s.cfg.secret) {
		log.Infof("multiplexer: handshake failed... id: %s, domain: %s", s.id, domain)
		s.close(streamerror.ErrNotAuthorized)
		return
	}
	s.sess.SetStatus(session.Authenticated)

	if err := s.router.Registry().RegisterMultiplexer(s.sess); err != nil {
		if err == registry.ErrConflict {
			log.Infof("multiplexer: domain already connected... id: %s, domain: %s", s.id, domain)
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

	s.writeElement(xmpp.NewElementName("handshake"))
	log.Infof("multiplexer: registered multiplexer... id: %s, domain: %s", s.id, domain)
}

func (s *inStream) handleAuthenticated(elem xmpp.XElement) {
	if elem.Name() == "route" {
		s.processRoute(elem)
		return
	}
	iq, ok := elem.(*xmpp.IQ)
	if !ok {
		s.close(streamerror.ErrUnsupportedStanzaType)
		return
	}
	ctl := iq.Elements().ChildNamespace("session", sessionNamespace)
	if ctl == nil || !iq.IsSet() {
		if iq.IsGet() || iq.IsSet() {
			s.writeElement(iq.ServiceUnavailableError())
		}
		return
	}
	sid := ctl.ID()
	if len(sid) == 0 {
		s.writeElement(iq.BadRequestError())
		return
	}
	switch {
	case ctl.Elements().Child("create") != nil:
		s.createVirtualSession(iq, sid, ctl.Elements().Child("create").Attributes().Get("jid"))
	case ctl.Elements().Child("close") != nil:
		s.closeVirtualSession(iq, sid)
	default:
		s.writeElement(iq.BadRequestError())
	}
}

func (s *inStream) createVirtualSession(iq *xmpp.IQ, sid, jidStr string) {
	userJID, err := jid.NewWithString(jidStr, false)
	if err != nil || !userJID.IsFullWithUser() {
		s.writeElement(iq.JidMalformedError())
		return
	}
	if !s.router.Hosts().IsLocalHost(userJID.Domain()) {
		s.writeElement(iq.NotAllowedError())
		return
	}
	mi := s.sess.Multiplexer()
	if mi.VirtualSession(sid) != nil {
		s.writeElement(iq.ConflictError())
		return
	}
	sender := &virtualSender{mux: s, streamID: sid, jid: userJID}
	vsess := session.New(&session.Config{
		Kind:                session.Client,
		Sender:              sender,
		Handler:             s.handler,
		Publisher:           s.cfg.publisher,
		MultiplexerStreamID: s.id,
	})
	vsess.AddCloseHook(s.handler.CloseSession)
	vsess.SetStatus(session.Authenticated)

	mi.AddVirtualSession(sid, vsess)
	virtualSessions.Inc()

	switch err := s.router.Registry().BindClient(s.ctx, vsess, userJID, s.cfg.conflictLimit); err {
	case nil:
		s.writeElement(iq.ResultIQ())
		log.Infof("multiplexer: created virtual session... sid: %s, jid: %s", sid, userJID)

	case registry.ErrConflict:
		s.releaseVirtualSession(sid).Close(s.ctx, nil)
		s.writeElement(iq.ConflictError())

	default:
		log.Error(err)
		s.releaseVirtualSession(sid).Close(s.ctx, nil)
		s.writeElement(iq.InternalServerError())
	}
}

func (s *inStream) closeVirtualSession(iq *xmpp.IQ, sid string) {
	vsess := s.releaseVirtualSession(sid)
	if vsess == nil {
		s.writeElement(iq.ItemNotFoundError())
		return
	}
	vsess.Close(s.ctx, nil)
	s.writeElement(iq.ResultIQ())
	log.Infof("multiplexer: closed virtual session... sid: %s", sid)
}

func (s *inStream) processRoute(route xmpp.XElement) {
	sid := route.Attributes().Get("streamid")
	vsess := s.sess.Multiplexer().VirtualSession(sid)
	if vsess == nil {
		log.Warnf("multiplexer: dropping route to unknown virtual session... sid: %s", sid)
		return
	}
	all := route.Elements().All()
	if len(all) != 1 || !all[0].IsStanza() {
		s.close(streamerror.ErrUnsupportedStanzaType)
		return
	}
	elem := all[0]

	fromJID := vsess.JID()
	var toJID *jid.JID
	if to := elem.To(); len(to) > 0 {
		j, err := jid.NewWithString(to, false)
		if err != nil {
			if stanza, e := xmpp.NewStanzaFromElement(elem); e == nil {
				vsess.SendElement(xmpp.NewErrorStanzaFromStanza(stanza, xmpp.ErrJidMalformed, nil))
			}
			return
		}
		toJID = j
	} else {
		toJID = fromJID.ToBareJID()
	}
	var stanza xmpp.Stanza
	var err error
	switch elem.Name() {
	case xmpp.IQName:
		stanza, err = xmpp.NewIQFromElement(elem, fromJID, toJID)
	case xmpp.PresenceName:
		stanza, err = xmpp.NewPresenceFromElement(elem, fromJID, toJID)
	case xmpp.MessageName:
		stanza, err = xmpp.NewMessageFromElement(elem, fromJID, toJID)
	}
	if err != nil {
		log.Error(err)
		return
	}
	_ = vsess.Process(s.ctx, stanza)
}

// releaseVirtualSession detaches a hosted session, returning nil if it was not hosted anymore.
func (s *inStream) releaseVirtualSession(sid string) *session.Session {
	vsess := s.sess.Multiplexer().RemoveVirtualSession(sid)
	if vsess != nil {
		virtualSessions.Dec()
	}
	return vsess
}

// closeVirtualSessions is registered as the multiplexer session close hook.
// Hosted sessions go away along with their multiplexer without notifying it back.
func (s *inStream) closeVirtualSessions(ctx context.Context, sess *session.Session) {
	hosted := sess.Multiplexer().RemoveAllVirtualSessions()
	virtualSessions.Sub(float64(len(hosted)))
	for _, vsess := range hosted {
		vsess.Close(ctx, nil)
	}
	s.router.Registry().Unregister(sess)
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
