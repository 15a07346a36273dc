/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackal-im/presenced/auth"
	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/runqueue"
	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/streamerror"
	"github.com/jackal-im/presenced/transport"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/jackal-im/presenced/xmpp/jid"
	"github.com/pkg/errors"
)

const (
	outDialing uint32 = iota
	outConnecting
	outConnected
	outSecuring
	outAuthenticating
	outValidatingDialbackKey
	outVerifyingDialbackKey
	outVerified
	outDisconnected
)

var (
	errOutStreamFailed   = errors.New("s2s: outgoing stream negotiation failed")
	errNoAuthMechanism   = errors.New("s2s: no authentication mechanism available")
	errDialbackKeyFailed = errors.New("s2s: dialback key verification failed")
)

type outConfig struct {
	localDomain     string
	remoteDomain    string
	tls             transport.TLSPolicy
	tlsConfig       *tls.Config
	hasCertificates bool
	dialback        DialbackConfig
	keyGen          *keyGen
	connectTimeout  time.Duration
	keepAlive       time.Duration
	maxStanzaSize   int

	// dbVerify, when set, turns the stream into a one-shot dialback key verification request.
	dbVerify xmpp.XElement

	onDisconnect func(s *outStream)
}

type verifyResult struct {
	valid bool
	err   error
}

type outStream struct {
	cfg       *outConfig
	id        string
	sess      *session.Session
	tr        transport.Transport
	stm       *session.Stream
	connectTm *time.Timer
	runQueue  *runqueue.RunQueue
	state     uint32

	verifiedCh chan struct{}
	doneCh     chan struct{}
	verifyCh   chan verifyResult

	errMu sync.Mutex
	err   error

	// runqueue owned
	authenticated   bool
	dialbackOffered bool
}

func newOutStream(cfg *outConfig) *outStream {
	s := &outStream{
		cfg:        cfg,
		verifiedCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
		verifyCh:   make(chan verifyResult, 1),
	}
	s.sess = session.New(&session.Config{
		Kind:   session.OutgoingServer,
		Sender: s,
	})
	s.id = s.sess.StreamID()
	s.runQueue = runqueue.New(s.id)
	s.setState(outDialing)
	return s
}

// ID returns stream identifier.
func (s *outStream) ID() string {
	return s.id
}

// Session returns the outgoing server session negotiated over this stream.
func (s *outStream) Session() *session.Session {
	return s.sess
}

// SendElement satisfies session.Sender interface.
func (s *outStream) SendElement(elem xmpp.XElement) {
	if s.getState() == outDisconnected {
		return
	}
	s.runQueue.Run(func() {
		if s.getState() != outVerified {
			log.Warnf("s2s_out: discarding element sent over an unverified stream... id: %s", s.id)
			return
		}
		s.writeElement(elem)
	})
}

// Disconnect satisfies session.Sender interface.
func (s *outStream) Disconnect(streamErr *streamerror.Error) {
	if s.getState() == outDisconnected {
		return
	}
	s.runQueue.Run(func() { s.disconnect(streamErr) })
}

// start begins the negotiation over an already dialed transport.
func (s *outStream) start(tr transport.Transport) {
	s.runQueue.Run(func() {
		if s.getState() == outDisconnected {
			_ = tr.Close()
			return
		}
		s.tr = tr
		localJID, _ := jid.New("", s.cfg.localDomain, "", true)
		s.stm = session.NewStream(s.id, &session.StreamConfig{
			JID:           localJID,
			Transport:     tr,
			MaxStanzaSize: s.cfg.maxStanzaSize,
			Namespace:     session.JabberServerNamespace,
			RemoteDomain:  s.cfg.remoteDomain,
			IsInitiating:  true,
			Dialback:      s.cfg.dialback.Enabled,
		})
		if s.cfg.connectTimeout > 0 {
			s.connectTm = time.AfterFunc(s.cfg.connectTimeout, s.connectTimeout)
		}
		s.sess.SetStatus(session.Negotiating)
		s.openStream()

		go s.doRead()
	})
}

// fail aborts a stream that could not be dialed.
func (s *outStream) fail(err error) {
	s.runQueue.Run(func() {
		s.setErr(err)
		s.close(nil)
	})
}

// waitVerified blocks until the stream gets verified, fails or ctx is done.
func (s *outStream) waitVerified(ctx context.Context) error {
	select {
	case <-s.verifiedCh:
		return nil
	case <-s.doneCh:
		return s.getErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitVerifyResult blocks until the authoritative server answers a db:verify request.
func (s *outStream) waitVerifyResult(ctx context.Context) (bool, error) {
	select {
	case res := <-s.verifyCh:
		return res.valid, res.err
	case <-s.doneCh:
		select {
		case res := <-s.verifyCh:
			return res.valid, res.err
		default:
			return false, s.getErr()
		}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *outStream) connectTimeout() {
	s.runQueue.Run(func() {
		if st := s.getState(); st == outVerified || st == outDisconnected {
			return
		}
		log.Infof("s2s_out: negotiation timed out... id: %s, remote: %s", s.id, s.cfg.remoteDomain)
		s.failNegotiation(streamerror.ErrConnectionTimeout, errors.Wrap(errOutStreamFailed, "connection timeout"))
	})
}

func (s *outStream) handleElement(elem xmpp.XElement) {
	switch s.getState() {
	case outConnecting:
		s.handleConnecting(elem)
	case outConnected:
		s.handleConnected(elem)
	case outSecuring:
		s.handleSecuring(elem)
	case outAuthenticating:
		s.handleAuthenticating(elem)
	case outValidatingDialbackKey:
		s.handleValidatingDialbackKey(elem)
	case outVerifyingDialbackKey:
		s.handleVerifyingDialbackKey(elem)
	case outVerified:
		// the receiving side of a connection never carries stanzas back
		s.failNegotiation(streamerror.ErrUnsupportedStanzaType, errOutStreamFailed)
	}
}

func (s *outStream) handleConnecting(_ xmpp.XElement) {
	if len(s.stm.PeerVersion()) > 0 {
		s.setState(outConnected)
		return
	}
	// pre-1.0 peers send no features
	s.dialbackOffered = true
	s.authenticate()
}

func (s *outStream) handleConnected(elem xmpp.XElement) {
	if elem.Name() != "stream:features" {
		s.failNegotiation(streamerror.ErrUnsupportedStanzaType, errOutStreamFailed)
		return
	}
	if !s.tr.IsSecured() {
		startTLS := elem.Elements().ChildNamespace("starttls", tlsNamespace)
		switch {
		case startTLS != nil && s.cfg.tls != transport.TLSDisabled:
			s.setState(outSecuring)
			s.writeElement(xmpp.NewElementNamespace("starttls", tlsNamespace))
			return

		case s.cfg.tls == transport.TLSRequired,
			startTLS != nil && startTLS.Elements().Child("required") != nil:
			s.failNegotiation(streamerror.ErrPolicyViolation, errors.Wrap(errOutStreamFailed, "tls policy mismatch"))
			return
		}
	}
	s.dialbackOffered = elem.Elements().ChildNamespace("dialback", dialbackFeatureNamespace) != nil

	if s.cfg.dbVerify == nil && !s.authenticated && s.tr.IsSecured() && s.cfg.hasCertificates && offersExternal(elem) {
		s.setState(outAuthenticating)
		authElem := xmpp.NewElementNamespace("auth", auth.SASLNamespace)
		authElem.SetAttribute("mechanism", "EXTERNAL")
		authElem.SetText("=")
		s.writeElement(authElem)
		return
	}
	s.authenticate()
}

// authenticate proceeds once no further stream features are going to be negotiated.
func (s *outStream) authenticate() {
	switch {
	case s.cfg.dbVerify != nil:
		s.setState(outVerifyingDialbackKey)
		s.writeElement(s.cfg.dbVerify)

	case s.authenticated:
		s.finishVerification()

	case s.cfg.dialback.Enabled && s.dialbackOffered:
		s.setState(outValidatingDialbackKey)
		db := xmpp.NewElementName(dbResultName)
		db.SetFrom(s.cfg.localDomain)
		db.SetTo(s.cfg.remoteDomain)
		db.SetText(s.cfg.keyGen.generate(s.cfg.remoteDomain, s.cfg.localDomain, s.stm.StreamID()))
		s.writeElement(db)

	default:
		s.failNegotiation(streamerror.ErrRemoteConnectionFailed, errNoAuthMechanism)
	}
}

func (s *outStream) handleSecuring(elem xmpp.XElement) {
	if elem.Namespace() != tlsNamespace {
		s.failNegotiation(streamerror.ErrInvalidNamespace, errOutStreamFailed)
		return
	}
	if elem.Name() != "proceed" {
		s.failNegotiation(nil, errors.Wrap(errOutStreamFailed, "starttls rejected"))
		return
	}
	s.tr.StartTLS(s.cfg.tlsConfig, true)
	log.Infof("s2s_out: secured stream... id: %s, remote: %s", s.id, s.cfg.remoteDomain)
	s.restartSession()
}

func (s *outStream) handleAuthenticating(elem xmpp.XElement) {
	if elem.Namespace() != auth.SASLNamespace {
		s.failNegotiation(streamerror.ErrInvalidNamespace, errOutStreamFailed)
		return
	}
	switch elem.Name() {
	case "success":
		s.authenticated = true
		s.restartSession()

	case "failure":
		if s.cfg.dialback.Fallback && s.cfg.dialback.Enabled && s.dialbackOffered {
			log.Infof("s2s_out: EXTERNAL authentication failed, falling back to dialback... id: %s", s.id)
			s.authenticate()
			return
		}
		s.failNegotiation(streamerror.ErrRemoteConnectionFailed, errors.Wrap(errOutStreamFailed, "EXTERNAL authentication failed"))

	default:
		s.failNegotiation(streamerror.ErrUnsupportedStanzaType, errOutStreamFailed)
	}
}

func (s *outStream) handleValidatingDialbackKey(elem xmpp.XElement) {
	if elem.Name() != dbResultName {
		s.failNegotiation(streamerror.ErrUnsupportedStanzaType, errOutStreamFailed)
		return
	}
	if elem.From() != s.cfg.remoteDomain {
		s.failNegotiation(streamerror.ErrInvalidFrom, errOutStreamFailed)
		return
	}
	switch elem.Type() {
	case dbTypeValid:
		s.finishVerification()
	default:
		log.Infof("s2s_out: dialback key rejected... id: %s, remote: %s, type: %s", s.id, s.cfg.remoteDomain, elem.Type())
		s.failNegotiation(nil, errDialbackKeyFailed)
	}
}

func (s *outStream) handleVerifyingDialbackKey(elem xmpp.XElement) {
	if elem.Name() != dbVerifyName {
		s.failNegotiation(streamerror.ErrUnsupportedStanzaType, errOutStreamFailed)
		return
	}
	var res verifyResult
	switch elem.Type() {
	case dbTypeValid:
		res.valid = true
	case dbTypeInvalid:
		break
	default:
		res.err = errDialbackKeyFailed
	}
	s.verifyCh <- res
	s.close(nil)
}

func (s *outStream) finishVerification() {
	if s.connectTm != nil {
		s.connectTm.Stop()
		s.connectTm = nil
	}
	info := s.sess.OutgoingServer()
	info.AddAuthenticatedDomain(s.cfg.localDomain)
	info.AddHostname(s.cfg.remoteDomain)

	s.sess.SetStatus(session.Authenticated)
	s.setState(outVerified)
	close(s.verifiedCh)

	reportOutgoingConnection(true)
	log.Infof("s2s_out: verified stream... id: %s, domainpair: %s:%s", s.id, s.cfg.localDomain, s.cfg.remoteDomain)
}

func (s *outStream) failNegotiation(streamErr *streamerror.Error, err error) {
	s.setErr(err)
	s.close(streamErr)
}

// Runs on it's own goroutine
func (s *outStream) doRead() {
	elem, sErr := s.stm.Receive()
	if sErr == nil {
		s.runQueue.Run(func() { s.readElement(elem) })
	} else {
		s.runQueue.Run(func() {
			if s.getState() == outDisconnected {
				return
			}
			s.handleStreamError(sErr)
		})
	}
}

func (s *outStream) handleStreamError(sErr *session.StreamError) {
	switch err := sErr.UnderlyingErr.(type) {
	case nil:
		s.failNegotiation(nil, errors.Wrap(errOutStreamFailed, "stream closed by peer"))
	case *streamerror.Error:
		s.failNegotiation(err, errors.Wrap(errOutStreamFailed, err.Error()))
	case *xmpp.StanzaError:
		if s.isReading() {
			go s.doRead()
		}
	default:
		log.Error(err)
		s.failNegotiation(streamerror.ErrUndefinedCondition, errOutStreamFailed)
	}
}

func (s *outStream) readElement(elem xmpp.XElement) {
	if elem != nil {
		if elem.Name() == "stream:error" {
			s.failNegotiation(nil, errors.Wrap(errOutStreamFailed, "stream error received"))
			return
		}
		s.handleElement(elem)
	}
	if s.isReading() {
		go s.doRead() // Keep reading...
	}
}

func (s *outStream) isReading() bool {
	return s.getState() != outDisconnected && s.sess.Status() != session.Closed
}

func (s *outStream) writeElement(elem xmpp.XElement) {
	s.stm.Send(elem)
}

func (s *outStream) openStream() {
	if err := s.stm.Open(); err != nil {
		log.Error(err)
	}
	s.setState(outConnecting)
}

func (s *outStream) restartSession() {
	s.stm.Reset()
	s.openStream()
}

func (s *outStream) close(streamErr *streamerror.Error) {
	if !s.sess.Close(context.Background(), streamErr) {
		s.disconnect(streamErr)
	}
}

func (s *outStream) disconnect(streamErr *streamerror.Error) {
	if s.getState() == outDisconnected {
		return
	}
	if s.connectTm != nil {
		s.connectTm.Stop()
		s.connectTm = nil
	}
	if s.stm != nil {
		if streamErr != nil {
			s.writeElement(streamErr.Element())
		}
		_ = s.stm.Close()
	}
	if s.tr != nil {
		_ = s.tr.Close()
	}
	if s.getState() != outVerified && s.cfg.dbVerify == nil {
		reportOutgoingConnection(false)
	}
	s.setState(outDisconnected)
	if s.getErr() == nil {
		s.setErr(errOutStreamFailed)
	}
	close(s.doneCh)

	if s.cfg.onDisconnect != nil {
		s.cfg.onDisconnect(s)
	}
	s.runQueue.Stop(nil)
}

func (s *outStream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *outStream) getErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *outStream) setState(state uint32) {
	atomic.StoreUint32(&s.state, state)
}

func (s *outStream) getState() uint32 {
	return atomic.LoadUint32(&s.state)
}

func offersExternal(features xmpp.XElement) bool {
	mechanisms := features.Elements().ChildNamespace("mechanisms", auth.SASLNamespace)
	if mechanisms == nil {
		return false
	}
	for _, m := range mechanisms.Elements().Children("mechanism") {
		if m.Text() == "EXTERNAL" {
			return true
		}
	}
	return false
}
