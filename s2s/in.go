/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"sync/atomic"
	"time"

	"github.com/jackal-im/presenced/auth"
	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/router"
	"github.com/jackal-im/presenced/runqueue"
	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/streamerror"
	"github.com/jackal-im/presenced/transport"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/jackal-im/presenced/xmpp/jid"
)

const (
	inConnecting uint32 = iota
	inConnected
	inDisconnected
)

// dialbackVerifier asks the authoritative server of an originating domain whether a dialback key is genuine.
type dialbackVerifier interface {
	verifyDialbackKey(ctx context.Context, localDomain, remoteDomain, streamID, key string) (bool, error)
}

type inConfig struct {
	transport      transport.Transport
	tls            transport.TLSPolicy
	dialback       DialbackConfig
	keyGen         *keyGen
	connectTimeout time.Duration
	requestTimeout time.Duration
	maxStanzaSize  int
	onDisconnect   func(s *inStream)
}

type inStream struct {
	cfg       *inConfig
	router    *router.Router
	verifier  dialbackVerifier
	sess      *session.Session
	stm       *session.Stream
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	connectTm *time.Timer
	runQueue  *runqueue.RunQueue
	state     uint32

	// runqueue owned
	remoteDomain string
	external     bool
}

func newInStream(cfg *inConfig, router *router.Router, handler session.PacketHandler, verifier dialbackVerifier) *inStream {
	s := &inStream{
		cfg:      cfg,
		router:   router,
		verifier: verifier,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.sess = session.New(&session.Config{
		Kind:    session.IncomingServer,
		Sender:  s,
		Handler: handler,
	})
	s.sess.AddCloseHook(func(_ context.Context, sess *session.Session) {
		router.Registry().Unregister(sess)
	})
	s.id = s.sess.StreamID()
	s.runQueue = runqueue.New(s.id)

	srvJID, _ := jid.New("", router.Hosts().DefaultHostName(), "", true)
	s.stm = session.NewStream(s.id, &session.StreamConfig{
		JID:           srvJID,
		Transport:     cfg.transport,
		MaxStanzaSize: cfg.maxStanzaSize,
		Namespace:     session.JabberServerNamespace,
		Dialback:      cfg.dialback.Enabled,
		IsLocalDomain: router.Hosts().IsLocalHost,
	})
	s.setState(inConnecting)

	if cfg.connectTimeout > 0 {
		// armed on the run queue, where every other timer access happens
		s.runQueue.Run(func() { s.connectTm = time.AfterFunc(cfg.connectTimeout, s.connectTimeout) })
	}
	incomingConnections.Inc()

	go s.doRead() // start reading...

	return s
}

// ID returns stream identifier.
func (s *inStream) ID() string {
	return s.id
}

// Session returns the incoming server session negotiated over this stream.
func (s *inStream) Session() *session.Session {
	return s.sess
}

// SendElement satisfies session.Sender interface.
func (s *inStream) SendElement(elem xmpp.XElement) {
	if s.getState() == inDisconnected {
		return
	}
	s.runQueue.Run(func() { s.writeElement(elem) })
}

// Disconnect satisfies session.Sender interface.
func (s *inStream) Disconnect(streamErr *streamerror.Error) {
	if s.getState() == inDisconnected {
		return
	}
	s.runQueue.Run(func() { s.disconnect(streamErr) })
}

func (s *inStream) connectTimeout() {
	s.runQueue.Run(func() {
		if s.getState() == inDisconnected || s.sess.IsAuthenticated() {
			return
		}
		log.Infof("s2s_in: negotiation timed out... id: %s", s.id)
		s.close(streamerror.ErrConnectionTimeout)
	})
}

func (s *inStream) handleElement(elem xmpp.XElement) {
	switch s.getState() {
	case inConnecting:
		s.handleConnecting(elem)
	case inConnected:
		s.handleConnected(elem)
	}
}

func (s *inStream) handleConnecting(elem xmpp.XElement) {
	s.sess.SetStatus(session.Negotiating)
	if len(s.remoteDomain) == 0 {
		s.remoteDomain = elem.From()
	}
	localJID, _ := jid.New("", elem.To(), "", true)
	s.stm.SetJID(localJID)

	if err := s.stm.Open(); err != nil {
		log.Error(err)
		s.close(nil)
		return
	}
	s.setState(inConnected)

	if len(s.stm.PeerVersion()) == 0 {
		return // pre-1.0 peers negotiate dialback without features
	}
	features := xmpp.NewElementName("stream:features")
	features.SetAttribute("xmlns:stream", streamNamespace)
	features.SetAttribute("version", "1.0")

	secured := s.cfg.transport.IsSecured()
	if !secured && s.cfg.tls != transport.TLSDisabled {
		startTLS := xmpp.NewElementNamespace("starttls", tlsNamespace)
		if s.cfg.tls == transport.TLSRequired {
			startTLS.AppendElement(xmpp.NewElementName("required"))
		}
		features.AppendElement(startTLS)
	}
	if secured && !s.external && len(s.cfg.transport.PeerCertificates()) > 0 {
		mechanisms := xmpp.NewElementNamespace("mechanisms", auth.SASLNamespace)
		mechanism := xmpp.NewElementName("mechanism")
		mechanism.SetText("EXTERNAL")
		mechanisms.AppendElement(mechanism)
		features.AppendElement(mechanisms)
	}
	if s.cfg.dialback.Enabled {
		dialback := xmpp.NewElementNamespace("dialback", dialbackFeatureNamespace)
		dialback.AppendElement(xmpp.NewElementName("errors"))
		features.AppendElement(dialback)
	}
	s.writeElement(features)
}

func (s *inStream) handleConnected(elem xmpp.XElement) {
	switch elem.Name() {
	case "starttls":
		s.proceedStartTLS(elem)

	case "auth":
		s.authenticateExternal(elem)

	case dbResultName:
		s.authorizeDialbackKey(elem)

	case dbVerifyName:
		s.verifyDialbackKey(elem)

	default:
		stanza, ok := elem.(xmpp.Stanza)
		if !ok {
			s.close(streamerror.ErrUnsupportedStanzaType)
			return
		}
		if !s.sess.IsAuthenticated() {
			s.close(streamerror.ErrNotAuthorized)
			return
		}
		if err := s.sess.Process(s.ctx, stanza); err == session.ErrNotProcessable {
			// stanza originated by a domain that was never validated on this connection
			s.close(streamerror.ErrInvalidFrom)
		}
	}
}

func (s *inStream) proceedStartTLS(elem xmpp.XElement) {
	if elem.Namespace() != tlsNamespace {
		s.close(streamerror.ErrInvalidNamespace)
		return
	}
	if s.cfg.tls == transport.TLSDisabled {
		s.writeElement(xmpp.NewElementNamespace("failure", tlsNamespace))
		s.close(nil)
		return
	}
	if s.cfg.transport.IsSecured() {
		s.close(streamerror.ErrNotAuthorized)
		return
	}
	s.writeElement(xmpp.NewElementNamespace("proceed", tlsNamespace))

	s.cfg.transport.StartTLS(&tls.Config{
		Certificates: s.router.Hosts().Certificates(),
		ClientAuth:   tls.VerifyClientCertIfGiven,
	}, false)

	log.Infof("s2s_in: secured stream... id: %s", s.id)
	s.restartSession()
}

func (s *inStream) authenticateExternal(elem xmpp.XElement) {
	if elem.Namespace() != auth.SASLNamespace {
		s.close(streamerror.ErrInvalidNamespace)
		return
	}
	if elem.Attributes().Get("mechanism") != "EXTERNAL" || s.external {
		s.writeElement(auth.ErrSASLInvalidMechanism.(*auth.SASLError).Element())
		return
	}
	if !s.cfg.transport.IsSecured() {
		s.writeElement(auth.ErrSASLEncryptionRequired.(*auth.SASLError).Element())
		return
	}
	domain := s.remoteDomain
	if authzID := elem.Text(); len(authzID) > 0 && authzID != "=" {
		b, err := base64.StdEncoding.DecodeString(authzID)
		if err != nil {
			s.writeElement(auth.ErrSASLIncorrectEncoding.(*auth.SASLError).Element())
			return
		}
		domain = string(b)
	}
	if len(domain) == 0 || domain != s.remoteDomain || !certificatesVerify(s.cfg.transport.PeerCertificates(), domain) {
		log.Infof("s2s_in: failed EXTERNAL authentication... id: %s, domain: %s", s.id, domain)
		s.writeElement(auth.ErrSASLNotAuthorized.(*auth.SASLError).Element())
		return
	}
	s.external = true
	s.validateDomain(domain, s.stm.PeerTo())

	s.writeElement(xmpp.NewElementNamespace("success", auth.SASLNamespace))
	log.Infof("s2s_in: authenticated stream... id: %s, domain: %s", s.id, domain)

	s.restartSession()
}

// authorizeDialbackKey processes a 'db:result' request sent by an originating server.
func (s *inStream) authorizeDialbackKey(elem xmpp.XElement) {
	from := elem.From()
	to := elem.To()

	switch {
	case !s.cfg.dialback.Enabled:
		s.close(streamerror.ErrPolicyViolation)
		return

	case s.cfg.tls == transport.TLSRequired && !s.cfg.transport.IsSecured():
		s.close(streamerror.ErrPolicyViolation)
		return

	case len(from) == 0:
		s.close(streamerror.ErrInvalidFrom)
		return

	case !s.router.Hosts().IsLocalHost(to):
		s.replyDialbackResult(dialbackError(dbResultName, to, from, "", xmpp.ErrItemNotFound))
		return
	}
	info := s.sess.IncomingServer()
	if info.IsValidatedDomain(from) {
		s.replyDialbackResult(dialbackResult(to, from, dbTypeValid))
		return
	}
	if !s.cfg.dialback.MultipleDomains && len(info.ValidatedDomains()) > 0 {
		s.replyDialbackResult(dialbackError(dbResultName, to, from, "", xmpp.ErrResourceConstraint))
		return
	}
	if certificatesVerify(s.cfg.transport.PeerCertificates(), from) {
		// no need to call back: the peer certificate vouches for the originating domain
		s.validateDomain(from, to)
		s.replyDialbackResult(dialbackResult(to, from, dbTypeValid))
		return
	}
	streamID := s.stm.StreamID()
	key := elem.Text()
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.requestTimeout)
		valid, err := s.verifier.verifyDialbackKey(ctx, to, from, streamID, key)
		cancel()

		s.runQueue.Run(func() { s.handleDialbackResult(from, to, valid, err) })
	}()
}

func (s *inStream) handleDialbackResult(from, to string, valid bool, err error) {
	if s.getState() == inDisconnected {
		return
	}
	switch {
	case err != nil:
		log.Warnf("s2s_in: failed to verify dialback key... id: %s, domain: %s: %v", s.id, from, err)
		s.replyDialbackResult(dialbackError(dbResultName, to, from, "", xmpp.ErrRemoteServerTimeout))

	case valid:
		s.validateDomain(from, to)
		s.replyDialbackResult(dialbackResult(to, from, dbTypeValid))

	default:
		log.Infof("s2s_in: invalid dialback key... id: %s, domain: %s", s.id, from)
		// a concurrent request may have validated the domain meanwhile; an invalid key revokes it
		if s.sess.IncomingServer().RemoveValidatedDomain(from) {
			log.Infof("s2s_in: revoked domain... id: %s, domain: %s", s.id, from)
		}
		s.replyDialbackResult(dialbackResult(to, from, dbTypeInvalid))
	}
}

func (s *inStream) replyDialbackResult(elem *xmpp.Element) {
	reportDialbackResult(elem.Type())
	s.writeElement(elem)
}

// verifyDialbackKey answers a 'db:verify' request sent by a receiving server.
func (s *inStream) verifyDialbackKey(elem xmpp.XElement) {
	from := elem.From()
	to := elem.To()
	streamID := elem.ID()

	if !s.cfg.dialback.Enabled {
		s.writeElement(dialbackError(dbVerifyName, to, from, streamID, xmpp.ErrPolicyViolation))
		return
	}
	if !s.router.Hosts().IsLocalHost(to) {
		s.writeElement(dialbackError(dbVerifyName, to, from, streamID, xmpp.ErrItemNotFound))
		return
	}
	typ := dbTypeInvalid
	if s.cfg.keyGen.verify(elem.Text(), from, to, streamID) {
		typ = dbTypeValid
	}
	log.Infof("s2s_in: dialback key verification... id: %s, receiving: %s, result: %s", s.id, from, typ)
	s.writeElement(dialbackVerify(to, from, streamID, typ))
}

// validateDomain allows domain to originate stanzas over this connection.
func (s *inStream) validateDomain(domain, localDomain string) {
	s.router.Registry().AddIncomingDomain(s.sess, domain, localDomain)
	if !s.sess.IsAuthenticated() {
		s.sess.SetStatus(session.Authenticated)
		s.router.Registry().Register(s.sess)
	}
	if s.connectTm != nil {
		s.connectTm.Stop()
		s.connectTm = nil
	}
	log.Infof("s2s_in: validated domain... id: %s, domain: %s", s.id, domain)
}

// Runs on it's own goroutine
func (s *inStream) doRead() {
	elem, sErr := s.stm.Receive()
	if sErr == nil {
		s.runQueue.Run(func() { s.readElement(elem) })
	} else {
		s.runQueue.Run(func() {
			if s.getState() == inDisconnected {
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
		log.Warnf("s2s_in: discarded malformed stanza... id: %s: %v", s.id, err)
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
	return s.getState() != inDisconnected && s.sess.Status() != session.Closed
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
	if s.getState() == inDisconnected {
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

	s.setState(inDisconnected)
	_ = s.cfg.transport.Close()
	s.cancel()

	if s.cfg.onDisconnect != nil {
		s.cfg.onDisconnect(s)
	}
	s.runQueue.Stop(nil)
}

func (s *inStream) restartSession() {
	s.stm.Reset()
	s.setState(inConnecting)
}

func (s *inStream) setState(state uint32) {
	atomic.StoreUint32(&s.state, state)
}

func (s *inStream) getState() uint32 {
	return atomic.LoadUint32(&s.state)
}

// certificatesVerify reports whether the leaf peer certificate is valid for domain.
func certificatesVerify(certs []*x509.Certificate, domain string) bool {
	if len(certs) == 0 || len(domain) == 0 {
		return false
	}
	return certs[0].VerifyHostname(domain) == nil
}
