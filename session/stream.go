/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package session

import (
	stdxml "encoding/xml"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/streamerror"
	"github.com/jackal-im/presenced/transport"
	"github.com/jackal-im/presenced/version"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/jackal-im/presenced/xmpp/jid"
	"github.com/pkg/errors"
)

const (
	// JabberClientNamespace is the client to server stream namespace.
	JabberClientNamespace = "jabber:client"

	// JabberServerNamespace is the server to server stream namespace.
	JabberServerNamespace = "jabber:server"

	// ComponentAcceptNamespace is the external component stream namespace.
	ComponentAcceptNamespace = "jabber:component:accept"

	// ConnectionManagerNamespace is the connection multiplexer stream namespace.
	ConnectionManagerNamespace = "jabber:connectionmanager"

	// DialbackNamespace is the server dialback namespace.
	DialbackNamespace = "jabber:server:dialback"

	streamNamespace = "http://etherx.jabber.org/streams"
)

type namespaceSettable interface {
	SetNamespace(string) *xmpp.Element
}

// StreamError represents a stream level reading error.
type StreamError struct {
	// Element is the original incoming element that generated the error.
	Element xmpp.XElement

	// UnderlyingErr is the underlying stream error.
	UnderlyingErr error
}

// StreamConfig is used to configure a stream.
type StreamConfig struct {
	// JID defines the local stream address.
	JID *jid.JID

	// Transport provides the underlying transport.
	Transport transport.Transport

	// MaxStanzaSize defines the maximum stanza size that can be read from the transport.
	MaxStanzaSize int

	// Namespace is the default stream namespace.
	Namespace string

	// RemoteDomain represents the remote receiving entity domain name.
	RemoteDomain string

	// IsInitiating defines whether or not this is an initiating entity stream.
	IsInitiating bool

	// Dialback declares dialback namespace support on the stream header.
	Dialback bool

	// IsLocalDomain validates the header 'to' attribute of a receiving entity stream.
	IsLocalDomain func(domain string) bool
}

// Stream encodes and decodes XML elements exchanged with a peer over a transport.
type Stream struct {
	id  string
	cfg StreamConfig
	pr  *xmpp.Parser

	opened  uint32
	started uint32

	mu          sync.RWMutex
	streamID    string
	peerVersion string
	peerFrom    string
	peerTo      string
	sJID        *jid.JID
}

// NewStream creates a new stream instance.
func NewStream(id string, cfg *StreamConfig) *Stream {
	s := &Stream{id: id, cfg: *cfg, sJID: cfg.JID}
	s.reset()
	return s
}

// Reset discards the parser state and waits for a new stream header.
// Must be invoked after securing or compressing the transport.
func (s *Stream) Reset() {
	atomic.StoreUint32(&s.opened, 0)
	atomic.StoreUint32(&s.started, 0)
	s.reset()
}

func (s *Stream) reset() {
	s.pr = xmpp.NewParser(s.cfg.Transport, xmpp.SocketStream, s.cfg.MaxStanzaSize)
	s.mu.Lock()
	if !s.cfg.IsInitiating {
		s.streamID = uuid.New().String()
	}
	s.mu.Unlock()
}

// StreamID returns stream identifier.
func (s *Stream) StreamID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamID
}

// PeerVersion returns the version declared by the peer stream header.
func (s *Stream) PeerVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerVersion
}

// PeerFrom returns the 'from' attribute of the peer stream header.
func (s *Stream) PeerFrom() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerFrom
}

// PeerTo returns the 'to' attribute of the peer stream header.
func (s *Stream) PeerTo() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerTo
}

// SetJID updates local stream address.
func (s *Stream) SetJID(j *jid.JID) {
	s.mu.Lock()
	s.sJID = j
	s.mu.Unlock()
}

// SetRemoteDomain sets stream remote domain.
func (s *Stream) SetRemoteDomain(remoteDomain string) {
	s.mu.Lock()
	s.cfg.RemoteDomain = remoteDomain
	s.mu.Unlock()
}

// Open writes the stream header.
func (s *Stream) Open() error {
	if !atomic.CompareAndSwapUint32(&s.opened, 0, 1) {
		return errors.New("session: stream already opened")
	}
	ops := xmpp.NewElementName("stream:stream")
	ops.SetAttribute("xmlns", s.cfg.Namespace)
	ops.SetAttribute("xmlns:stream", streamNamespace)
	if s.cfg.Dialback {
		ops.SetAttribute("xmlns:db", DialbackNamespace)
	}
	s.mu.RLock()
	if s.cfg.IsInitiating {
		ops.SetAttribute("from", s.sJID.Domain())
		ops.SetAttribute("to", s.cfg.RemoteDomain)
		ops.SetAttribute("version", "1.0")
	} else {
		ops.SetAttribute("id", s.streamID)
		ops.SetAttribute("from", s.sJID.Domain())
		if len(s.peerVersion) > 0 {
			ops.SetAttribute("version", "1.0")
		}
	}
	s.mu.RUnlock()

	buf := &strings.Builder{}
	buf.WriteString(`<?xml version="1.0"?>`)
	ops.ToXML(buf, false)

	openStr := buf.String()
	log.Debugf("SEND(%s): %s", s.id, openStr)
	return s.cfg.Transport.WriteString(openStr)
}

// Close writes the stream closing tag.
// Is responsibility of the caller to close underlying transport.
func (s *Stream) Close() error {
	if atomic.LoadUint32(&s.opened) == 0 {
		return errors.New("session: stream not opened")
	}
	return s.cfg.Transport.WriteString("</stream:stream>")
}

// Send writes an XML element to the underlying transport.
func (s *Stream) Send(elem xmpp.XElement) {
	// clear namespace if sending a stanza
	if e, ok := elem.(namespaceSettable); ok && elem.IsStanza() {
		e.SetNamespace("")
	}
	log.Debugf("SEND(%s): %v", s.id, elem)
	elem.ToXML(s.cfg.Transport, true)
}

// Receive returns next incoming stream element.
// The stream header itself is validated and returned once.
func (s *Stream) Receive() (xmpp.XElement, *StreamError) {
	elem, err := s.pr.ParseElement()
	if err != nil {
		return nil, s.mapErrorToStreamError(err)
	}
	if elem == nil {
		return nil, nil
	}
	log.Debugf("RECV(%s): %v", s.id, elem)

	if atomic.LoadUint32(&s.started) == 0 {
		if err := s.validateStreamElement(elem); err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.cfg.IsInitiating {
			s.streamID = elem.ID()
		}
		s.peerVersion = elem.Version()
		s.peerFrom = elem.From()
		s.peerTo = elem.To()
		s.mu.Unlock()
		atomic.StoreUint32(&s.started, 1)
		return elem, nil
	}
	if elem.IsStanza() {
		return s.buildStanza(elem)
	}
	return elem, nil
}

func (s *Stream) buildStanza(elem xmpp.XElement) (xmpp.Stanza, *StreamError) {
	if err := s.validateNamespace(elem); err != nil {
		return nil, err
	}
	fromJID, toJID, err := s.extractAddresses(elem)
	if err != nil {
		return nil, err
	}
	var stanza xmpp.Stanza
	var bErr error
	switch elem.Name() {
	case xmpp.IQName:
		stanza, bErr = xmpp.NewIQFromElement(elem, fromJID, toJID)
	case xmpp.PresenceName:
		stanza, bErr = xmpp.NewPresenceFromElement(elem, fromJID, toJID)
	case xmpp.MessageName:
		stanza, bErr = xmpp.NewMessageFromElement(elem, fromJID, toJID)
	}
	if bErr != nil {
		log.Error(bErr)
		return nil, &StreamError{Element: elem, UnderlyingErr: xmpp.ErrBadRequest}
	}
	return stanza, nil
}

func (s *Stream) extractAddresses(elem xmpp.XElement) (*jid.JID, *jid.JID, *StreamError) {
	var fromJID, toJID *jid.JID
	var err error

	sJID := s.jid()
	from := elem.From()
	switch s.cfg.Namespace {
	case JabberClientNamespace:
		// do not validate 'from' address until full user JID has been set
		if sJID.IsFullWithUser() {
			if len(from) > 0 && !s.isValidFrom(from) {
				return nil, nil, &StreamError{UnderlyingErr: streamerror.ErrInvalidFrom}
			}
		}
		fromJID = sJID
	default:
		fromJID, err = jid.NewWithString(from, false)
		if err != nil || len(from) == 0 {
			return nil, nil, &StreamError{UnderlyingErr: streamerror.ErrInvalidFrom}
		}
	}
	to := elem.To()
	if len(to) > 0 {
		toJID, err = jid.NewWithString(to, false)
		if err != nil {
			return nil, nil, &StreamError{Element: elem, UnderlyingErr: xmpp.ErrJidMalformed}
		}
	} else {
		toJID = sJID.ToBareJID() // account's bare JID as default 'to'
	}
	return fromJID, toJID, nil
}

func (s *Stream) isValidFrom(from string) bool {
	j, err := jid.NewWithString(from, false)
	if err != nil {
		return false
	}
	sJID := s.jid()
	validFrom := j.Node() == sJID.Node() && j.Domain() == sJID.Domain()
	if len(j.Resource()) > 0 {
		validFrom = validFrom && j.Resource() == sJID.Resource()
	}
	return validFrom
}

func (s *Stream) validateStreamElement(elem xmpp.XElement) *StreamError {
	if elem.Name() != "stream:stream" {
		return &StreamError{UnderlyingErr: streamerror.ErrInvalidXML}
	}
	if elem.Namespace() != s.cfg.Namespace || elem.Attributes().Get("xmlns:stream") != streamNamespace {
		return &StreamError{UnderlyingErr: streamerror.ErrInvalidNamespace}
	}
	if !s.cfg.IsInitiating && s.cfg.IsLocalDomain != nil {
		to := elem.To()
		if len(to) == 0 || !s.cfg.IsLocalDomain(to) {
			return &StreamError{UnderlyingErr: streamerror.ErrHostUnknown}
		}
	}
	if v := elem.Version(); len(v) > 0 && !isSupportedVersion(v) {
		return &StreamError{UnderlyingErr: streamerror.ErrUnsupportedVersion}
	}
	return nil
}

func (s *Stream) validateNamespace(elem xmpp.XElement) *StreamError {
	ns := elem.Namespace()
	if len(ns) == 0 || ns == s.cfg.Namespace {
		return nil
	}
	return &StreamError{UnderlyingErr: streamerror.ErrInvalidNamespace}
}

func (s *Stream) jid() *jid.JID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sJID
}

func (s *Stream) mapErrorToStreamError(err error) *StreamError {
	switch err {
	case nil, io.EOF, io.ErrUnexpectedEOF, xmpp.ErrStreamClosedByPeer:
		return &StreamError{}

	case xmpp.ErrTooLargeStanza:
		return &StreamError{UnderlyingErr: streamerror.ErrPolicyViolation}
	}
	switch e := errors.Cause(err).(type) {
	case net.Error:
		if e.Timeout() {
			return &StreamError{UnderlyingErr: streamerror.ErrConnectionTimeout}
		}
		return &StreamError{UnderlyingErr: err}
	case *stdxml.SyntaxError:
		return &StreamError{UnderlyingErr: streamerror.ErrInvalidXML}
	}
	return &StreamError{UnderlyingErr: err}
}

// isSupportedVersion accepts any 1.x stream version.
func isSupportedVersion(v string) bool {
	pv, err := version.Parse(v)
	return err == nil && pv.IsCompatible(version.StreamVersion)
}
