/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackal-im/presenced/auth"
	"github.com/jackal-im/presenced/cluster"
	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/registry"
	"github.com/jackal-im/presenced/router"
	"github.com/jackal-im/presenced/runqueue"
	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/storage/repository"
	"github.com/jackal-im/presenced/streamerror"
	"github.com/jackal-im/presenced/transport"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/jackal-im/presenced/xmpp/jid"
	"github.com/pborman/uuid"
)

const (
	connecting uint32 = iota
	connected
	authenticating
	authenticated
	bound
	disconnected
)

type streamConfig struct {
	transport      transport.Transport
	tls            transport.TLSPolicy
	compression    CompressConfig
	connectTimeout time.Duration
	maxStanzaSize  int
	conflictLimit  int
	sasl           []string
	onDisconnect   func(s *inStream)
}

type inStream struct {
	cfg            *streamConfig
	router         *router.Router
	userRep        repository.User
	legacy         *auth.Legacy
	sess           *session.Session
	stm            *session.Stream
	id             string
	ctx            context.Context
	cancel         context.CancelFunc
	connectTm      *time.Timer
	state          uint32
	authenticators []auth.Authenticator
	activeAuth     auth.Authenticator
	runQueue       *runqueue.RunQueue

	mu          sync.RWMutex
	jid         *jid.JID
	compressed  bool
	sessStarted bool
}

func newStream(cfg *streamConfig, router *router.Router, userRep repository.User, handler *Handler, publisher cluster.Publisher) *inStream {
	s := &inStream{
		cfg:     cfg,
		router:  router,
		userRep: userRep,
		legacy:  auth.NewLegacy(userRep),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.sess = session.New(&session.Config{
		Kind:      session.Client,
		Sender:    s,
		Handler:   handler,
		Publisher: publisher,
	})
	s.sess.AddCloseHook(handler.CloseSession)

	s.id = s.sess.StreamID()
	s.runQueue = runqueue.New(s.id)

	// until the peer names a host, the stream belongs to the default one
	srvJID, _ := jid.New("", router.Hosts().DefaultHostName(), "", true)
	s.setJID(srvJID)

	s.stm = session.NewStream(s.id, &session.StreamConfig{
		JID:           srvJID,
		Transport:     cfg.transport,
		MaxStanzaSize: cfg.maxStanzaSize,
		Namespace:     session.JabberClientNamespace,
		IsLocalDomain: router.Hosts().IsLocalHost,
	})

	s.initializeAuthenticators()
	s.setState(connecting)

	if cfg.connectTimeout > 0 {
		// armed on the run queue, where every other timer access happens
		s.runQueue.Run(func() { s.connectTm = time.AfterFunc(cfg.connectTimeout, s.connectTimeout) })
	}
	go s.doRead() // start reading...

	return s
}

func (s *inStream) ID() string { return s.id }

// Session returns the client session negotiated over this stream.
func (s *inStream) Session() *session.Session { return s.sess }

// JID is the server address before authentication, the user address afterwards.
func (s *inStream) JID() *jid.JID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jid
}

func (s *inStream) IsSecured() bool { return s.cfg.transport.IsSecured() }

// SendElement satisfies session.Sender interface.
func (s *inStream) SendElement(elem xmpp.XElement) {
	if s.getState() == disconnected {
		return
	}
	s.runQueue.Run(func() { s.writeElement(elem) })
}

// Disconnect satisfies session.Sender interface.
// The stream error, if any, is written before closing the underlying transport.
func (s *inStream) Disconnect(streamErr *streamerror.Error) {
	if s.getState() == disconnected {
		return
	}
	s.runQueue.Run(func() { s.disconnect(streamErr) })
}

// initializeAuthenticators builds one authenticator per configured mechanism.
// SCRAM mechanisms also get their channel binding (-PLUS) variant.
func (s *inStream) initializeAuthenticators() {
	tr := s.cfg.transport
	scram := func(tp auth.ScramType) []auth.Authenticator {
		return []auth.Authenticator{
			auth.NewScram(tr, tp, false, s.userRep),
			auth.NewScram(tr, tp, true, s.userRep),
		}
	}
	s.authenticators = nil
	for _, mechanism := range s.cfg.sasl {
		switch mechanism {
		case "plain":
			s.authenticators = append(s.authenticators, auth.NewPlain(s.userRep))
		case "scram_sha_1":
			s.authenticators = append(s.authenticators, scram(auth.ScramSHA1)...)
		case "scram_sha_256":
			s.authenticators = append(s.authenticators, scram(auth.ScramSHA256)...)
		}
	}
}

func (s *inStream) connectTimeout() {
	s.runQueue.Run(func() {
		if st := s.getState(); st == bound || st == disconnected {
			return
		}
		log.Infof("c2s: negotiation timed out... id: %s", s.id)
		s.close(streamerror.ErrConnectionTimeout)
	})
}

func (s *inStream) handleElement(elem xmpp.XElement) {
	switch s.getState() {
	case connecting:
		s.handleConnecting(elem)
	case connected:
		s.handleConnected(elem)
	case authenticated:
		s.handleAuthenticated(elem)
	case authenticating:
		s.handleAuthenticating(elem)
	case bound:
		s.handleBound(elem)
	}
}

func (s *inStream) handleConnecting(elem xmpp.XElement) {
	s.sess.SetStatus(session.Negotiating)

	// header 'to' has already been validated against local hosts
	if !s.sess.IsAuthenticated() {
		j, _ := jid.New("", elem.To(), "", true)
		s.setJID(j)
	}
	s.stm.SetJID(s.JID())
	if err := s.stm.Open(); err != nil {
		log.Error(err)
		s.close(nil)
		return
	}
	if len(s.stm.PeerVersion()) == 0 {
		// pre-1.0 stream: no features, only legacy authentication
		s.setState(connected)
		return
	}
	features := xmpp.NewElementName("stream:features")
	features.SetAttribute("xmlns:stream", streamNamespace)
	features.SetAttribute("version", "1.0")

	if !s.sess.IsAuthenticated() {
		features.AppendElements(s.unauthenticatedFeatures())
		s.setState(connected)
	} else {
		features.AppendElements(s.authenticatedFeatures())
		s.setState(authenticated)
	}
	s.writeElement(features)
}

func (s *inStream) unauthenticatedFeatures() (features []xmpp.XElement) {
	secured := s.IsSecured()
	if !secured && s.cfg.tls != transport.TLSDisabled {
		startTLS := xmpp.NewElementNamespace("starttls", tlsNamespace)
		if s.cfg.tls == transport.TLSRequired {
			startTLS.AppendElement(xmpp.NewElementName("required"))
		}
		features = append(features, startTLS)
	}
	if s.canCompress() {
		features = append(features, compressionFeature())
	}
	// with TLS required, mechanisms only show up on the secured restart
	if s.cfg.tls == transport.TLSRequired && !secured {
		return features
	}
	mechanisms := xmpp.NewElementNamespace("mechanisms", auth.SASLNamespace)
	for _, ath := range s.authenticators {
		// -PLUS variants need channel binding data
		if !ath.UsesChannelBinding() || secured {
			mechanisms.AppendElement(xmpp.NewElementName("mechanism").SetText(ath.Mechanism()))
		}
	}
	if mechanisms.Elements().Count() > 0 {
		features = append(features, mechanisms)
	}
	return features
}

func (s *inStream) authenticatedFeatures() (features []xmpp.XElement) {
	if s.canCompress() {
		features = append(features, compressionFeature())
	}
	bind := xmpp.NewElementNamespace("bind", bindNamespace)
	bind.AppendElement(xmpp.NewElementName("required"))

	// session establishment is a no-op kept for older clients
	return append(features, bind, xmpp.NewElementNamespace("session", sessionNamespace))
}

// canCompress reports whether zlib may still be negotiated.
// Compression is offered both before and after authentication, never over a plain channel.
func (s *inStream) canCompress() bool {
	return s.IsSecured() && !s.isCompressed() && s.cfg.compression.Policy == CompressOptional
}

func compressionFeature() xmpp.XElement {
	compression := xmpp.NewElementNamespace("compression", compressFeatureNamespace)
	compression.AppendElement(xmpp.NewElementName("method").SetText("zlib"))
	return compression
}

func (s *inStream) handleConnected(elem xmpp.XElement) {
	switch elem.Name() {
	case "starttls":
		s.proceedStartTLS(elem)

	case "compress":
		s.handleCompress(elem)

	case "auth":
		if s.cfg.tls == transport.TLSRequired && !s.IsSecured() {
			s.writeElement(auth.ErrSASLEncryptionRequired.(*auth.SASLError).Element())
			return
		}
		s.startAuthentication(elem)

	case "iq":
		iq := elem.(*xmpp.IQ)
		if query := iq.Elements().ChildNamespace("query", auth.LegacyNamespace); query != nil {
			if len(s.stm.PeerVersion()) > 0 {
				// non-SASL authentication is reserved to pre-1.0 streams
				s.writeElement(iq.ServiceUnavailableError())
				return
			}
			s.legacyAuthenticate(iq, query)
			return
		}
		fallthrough

	case "message", "presence":
		s.close(streamerror.ErrNotAuthorized)

	default:
		s.close(streamerror.ErrUnsupportedStanzaType)
	}
}

func (s *inStream) handleAuthenticating(elem xmpp.XElement) {
	if elem.Namespace() != auth.SASLNamespace {
		s.close(streamerror.ErrInvalidNamespace)
		return
	}
	ath := s.activeAuth
	if err := s.continueAuthentication(elem, ath); err != nil {
		return
	}
	if ath.Authenticated() {
		s.finishAuthentication(ath.Username())
	}
}

func (s *inStream) handleAuthenticated(elem xmpp.XElement) {
	switch elem.Name() {
	case "compress":
		s.handleCompress(elem)

	case "iq":
		iq := elem.(*xmpp.IQ)
		if len(s.JID().Resource()) == 0 { // Expecting bind
			s.bindResource(iq)
			return
		}
		s.writeElement(iq.NotAllowedError())

	default:
		s.close(streamerror.ErrUnsupportedStanzaType)
	}
}

func (s *inStream) handleBound(elem xmpp.XElement) {
	stanza, ok := elem.(xmpp.Stanza)
	if !ok {
		s.close(streamerror.ErrUnsupportedStanzaType)
		return
	}
	// handle session IQ
	if iq, ok := stanza.(*xmpp.IQ); ok && iq.IsSet() {
		if iq.Elements().ChildNamespace("session", sessionNamespace) != nil {
			if !s.isSessionStarted() {
				s.setSessionStarted(true)
				s.writeElement(iq.ResultIQ())
			} else {
				s.writeElement(iq.NotAllowedError())
			}
			return
		}
	}
	if err := s.sess.Process(s.ctx, stanza); err != nil {
		log.Warnf("c2s: %v... id: %s", err, s.id)
	}
}

func (s *inStream) proceedStartTLS(elem xmpp.XElement) {
	if len(elem.Namespace()) > 0 && elem.Namespace() != tlsNamespace {
		s.close(streamerror.ErrInvalidNamespace)
		return
	}
	if s.cfg.tls == transport.TLSDisabled {
		s.writeElement(xmpp.NewElementNamespace("failure", tlsNamespace))
		s.close(nil)
		return
	}
	if s.IsSecured() {
		s.close(streamerror.ErrNotAuthorized)
		return
	}
	s.writeElement(xmpp.NewElementNamespace("proceed", tlsNamespace))

	s.cfg.transport.StartTLS(&tls.Config{Certificates: s.router.Hosts().Certificates()}, false)

	log.Infof("c2s: secured stream... id: %s", s.id)
	s.restartSession()
}

func (s *inStream) handleCompress(elem xmpp.XElement) {
	if elem.Namespace() != compressProtocolNamespace {
		s.close(streamerror.ErrUnsupportedStanzaType)
		return
	}
	s.compress(elem)
}

func (s *inStream) compress(elem xmpp.XElement) {
	if s.isCompressed() {
		s.close(streamerror.ErrUnsupportedStanzaType)
		return
	}
	failure := func(reason string) {
		f := xmpp.NewElementNamespace("failure", compressProtocolNamespace)
		f.AppendElement(xmpp.NewElementName(reason))
		s.writeElement(f)
	}
	method := elem.Elements().Child("method")
	switch {
	case method == nil || method.Text() == "" || s.cfg.compression.Policy != CompressOptional || !s.IsSecured():
		failure("setup-failed")
		return
	case method.Text() != "zlib":
		failure("unsupported-method")
		return
	}
	s.writeElement(xmpp.NewElementNamespace("compressed", compressProtocolNamespace))

	s.cfg.transport.EnableCompression(s.cfg.compression.Level)
	s.setCompressed(true)

	log.Infof("c2s: compressed stream... id: %s", s.id)

	s.restartSession()
}

func (s *inStream) startAuthentication(elem xmpp.XElement) {
	if elem.Namespace() != auth.SASLNamespace {
		s.close(streamerror.ErrInvalidNamespace)
		return
	}
	mechanism := elem.Attributes().Get("mechanism")
	for _, authenticator := range s.authenticators {
		if authenticator.Mechanism() != mechanism {
			continue
		}
		if authenticator.UsesChannelBinding() && !s.IsSecured() {
			break
		}
		if err := s.continueAuthentication(elem, authenticator); err != nil {
			return
		}
		if authenticator.Authenticated() {
			s.finishAuthentication(authenticator.Username())
		} else {
			s.activeAuth = authenticator
			s.setState(authenticating)
		}
		return
	}
	// ...mechanism not found...
	s.writeElement(auth.ErrSASLInvalidMechanism.(*auth.SASLError).Element())
}

func (s *inStream) continueAuthentication(elem xmpp.XElement, authr auth.Authenticator) error {
	resp, err := authr.ProcessElement(s.ctx, elem)
	if saslErr, ok := err.(*auth.SASLError); ok {
		s.failAuthentication(saslErr.Element())
	} else if err != nil {
		log.Error(err)
		s.failAuthentication(auth.ErrSASLTemporaryAuthFailure.(*auth.SASLError).Element())
	} else if resp != nil {
		s.writeElement(resp)
	}
	return err
}

func (s *inStream) finishAuthentication(username string) {
	if s.activeAuth != nil {
		s.activeAuth.Reset()
		s.activeAuth = nil
	}
	j, _ := jid.New(username, s.JID().Domain(), "", true)
	s.setJID(j)
	s.sess.SetStatus(session.Authenticated)

	log.Infof("c2s: authenticated stream... id: %s, username: %s", s.id, username)
	s.restartSession()
}

func (s *inStream) failAuthentication(failure xmpp.XElement) {
	s.writeElement(failure)

	if s.activeAuth != nil {
		s.activeAuth.Reset()
		s.activeAuth = nil
	}
	s.setState(connected)
}

func (s *inStream) legacyAuthenticate(iq *xmpp.IQ, query xmpp.XElement) {
	if s.cfg.tls == transport.TLSRequired && !s.IsSecured() {
		s.writeElement(iq.NotAuthorizedError())
		return
	}
	switch {
	case iq.IsGet():
		s.writeElement(s.legacy.Fields(iq, true))

	case iq.IsSet():
		username, resource, err := s.legacy.Authenticate(s.ctx, s.stm.StreamID(), query)
		if err != nil {
			if stanzaErr, ok := err.(*xmpp.StanzaError); ok {
				s.writeElement(xmpp.NewErrorStanzaFromStanza(iq, stanzaErr, nil))
				return
			}
			log.Error(err)
			s.writeElement(iq.InternalServerError())
			return
		}
		userJID, err := jid.New(username, s.JID().Domain(), resource, false)
		if err != nil {
			s.writeElement(iq.JidMalformedError())
			return
		}
		s.sess.SetStatus(session.Authenticated)
		if errStanza := s.bind(iq, userJID); errStanza != nil {
			s.writeElement(errStanza)
			return
		}
		s.writeElement(iq.ResultIQ())

	default:
		s.writeElement(iq.BadRequestError())
	}
}

func (s *inStream) bindResource(iq *xmpp.IQ) {
	bind := iq.Elements().ChildNamespace("bind", bindNamespace)
	if bind == nil {
		s.writeElement(iq.NotAllowedError())
		return
	}
	var resource string
	if resourceElem := bind.Elements().Child("resource"); resourceElem != nil && len(resourceElem.Text()) > 0 {
		resource = resourceElem.Text()
	} else {
		resource = uuid.New()
	}
	authJID := s.JID()
	userJID, err := jid.New(authJID.Node(), authJID.Domain(), resource, false)
	if err != nil {
		// malformed resource: the session survives
		s.writeElement(iq.JidMalformedError())
		return
	}
	if errStanza := s.bind(iq, userJID); errStanza != nil {
		s.writeElement(errStanza)
		return
	}
	//...notify successful binding
	result := xmpp.NewIQType(iq.ID(), xmpp.ResultType)
	result.SetNamespace(iq.Namespace())

	boundElem := xmpp.NewElementNamespace("bind", bindNamespace)
	j := xmpp.NewElementName("jid")
	j.SetText(userJID.String())
	boundElem.AppendElement(j)
	result.AppendElement(boundElem)

	s.writeElement(result)
}

// bind registers the session under userJID applying the configured conflict policy.
func (s *inStream) bind(iq *xmpp.IQ, userJID *jid.JID) xmpp.Stanza {
	switch err := s.router.Registry().BindClient(s.ctx, s.sess, userJID, s.cfg.conflictLimit); err {
	case nil:
		break
	case registry.ErrConflict:
		return iq.ConflictError()
	default:
		log.Error(err)
		return iq.InternalServerError()
	}
	if s.connectTm != nil {
		s.connectTm.Stop()
		s.connectTm = nil
	}
	s.setJID(userJID)
	s.stm.SetJID(userJID)
	s.setState(bound)

	log.Infof("c2s: bound resource... id: %s, jid: %s", s.id, userJID)
	return nil
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
		s.writeStanzaErrorResponse(sErr.Element, err)
		if s.isReading() {
			go s.doRead()
		}
	default:
		log.Error(err)
		s.close(streamerror.ErrUndefinedCondition)
	}
}

func (s *inStream) writeStanzaErrorResponse(elem xmpp.XElement, stanzaErr *xmpp.StanzaError) {
	resp := xmpp.NewElementFromElement(elem)
	resp.SetType(xmpp.ErrorType)
	resp.SetFrom(resp.To())
	resp.SetTo(s.JID().String())
	resp.AppendElement(stanzaErr.Element())
	s.writeElement(resp)
}

func (s *inStream) writeElement(elem xmpp.XElement) {
	s.stm.Send(elem)
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

// close closes the client session, which in turn disconnects the stream once
// every session close hook has run.
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
		_ = s.stm.Open() // no-op once the header has been sent
		s.writeElement(streamErr.Element())
	}
	_ = s.stm.Close()

	s.setState(disconnected)
	_ = s.cfg.transport.Close()
	s.cancel()

	// notify disconnection
	if s.cfg.onDisconnect != nil {
		s.cfg.onDisconnect(s)
	}
	s.runQueue.Stop(nil) // stop processing messages
}

func (s *inStream) restartSession() {
	s.stm.Reset()
	s.setState(connecting)
}

func (s *inStream) setJID(j *jid.JID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jid = j
}

func (s *inStream) isCompressed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compressed
}

func (s *inStream) setCompressed(compressed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compressed = compressed
}

func (s *inStream) isSessionStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessStarted
}

func (s *inStream) setSessionStarted(sessStarted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessStarted = sessStarted
}

func (s *inStream) setState(state uint32) {
	atomic.StoreUint32(&s.state, state)
}

func (s *inStream) getState() uint32 {
	return atomic.LoadUint32(&s.state)
}
