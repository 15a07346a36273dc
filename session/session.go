/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package session

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackal-im/presenced/cluster"
	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/streamerror"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/jackal-im/presenced/xmpp/jid"
	"github.com/pkg/errors"
)

const (
	presenceMetadataKey           = "presence"
	activePrivacyListMetadataKey  = "active_privacy_list"
	defaultPrivacyListMetadataKey = "default_privacy_list"
)

var (
	// ErrNotProcessable is returned by Process when the session is not allowed to originate a stanza.
	ErrNotProcessable = errors.New("session: stanza not processable")

	// ErrNotDeliverable is returned by Deliver when a stanza cannot be delivered through the session.
	ErrNotDeliverable = errors.New("session: stanza not deliverable")
)

// Sender writes elements to the session peer.
type Sender interface {
	// SendElement writes an element to the peer.
	SendElement(elem xmpp.XElement)

	// Disconnect tears down the underlying connection, sending streamErr first when not nil.
	Disconnect(streamErr *streamerror.Error)
}

// PacketHandler processes stanzas originated by a session peer.
type PacketHandler interface {
	ProcessStanza(ctx context.Context, sess *Session, stanza xmpp.Stanza) error
}

// PacketHandlerFunc is an adapter to allow the use of ordinary functions as packet handlers.
type PacketHandlerFunc func(ctx context.Context, sess *Session, stanza xmpp.Stanza) error

// ProcessStanza calls f(ctx, sess, stanza).
func (f PacketHandlerFunc) ProcessStanza(ctx context.Context, sess *Session, stanza xmpp.Stanza) error {
	return f(ctx, sess, stanza)
}

// CloseHook is invoked exactly once when a session gets closed.
type CloseHook func(ctx context.Context, sess *Session)

// Config contains session creation parameters.
type Config struct {
	Kind      Kind
	StreamID  string
	JID       *jid.JID
	Sender    Sender
	Handler   PacketHandler
	Publisher cluster.Publisher

	// MultiplexerStreamID identifies the hosting multiplexer session of a virtual client session.
	MultiplexerStreamID string
}

// Session represents a negotiated or in-negotiation stream of any kind.
type Session struct {
	kind      Kind
	streamID  string
	createdAt time.Time
	sender    Sender
	handler   PacketHandler
	publisher cluster.Publisher
	ctx       *Context

	status        int32
	lastActiveAt  int64
	clientPackets uint64
	serverPackets uint64
	conflictCount int32
	wasAvailable  uint32

	closeOnce sync.Once

	mu                 sync.RWMutex
	jid                *jid.JID
	presence           *xmpp.Presence
	activePrivacyList  string
	defaultPrivacyList string
	closeHooks         []CloseHook

	client         *ClientInfo
	incomingServer *IncomingServerInfo
	outgoingServer *OutgoingServerInfo
	component      *ComponentInfo
	multiplexer    *MultiplexerInfo
}

// New returns a new session in Connecting status.
func New(cfg *Config) *Session {
	now := time.Now()
	s := &Session{
		kind:         cfg.Kind,
		streamID:     cfg.StreamID,
		createdAt:    now,
		lastActiveAt: now.UnixNano(),
		sender:       cfg.Sender,
		handler:      cfg.Handler,
		publisher:    cfg.Publisher,
		ctx:          newContext(),
		jid:          cfg.JID,
	}
	if len(s.streamID) == 0 {
		s.streamID = uuid.New().String()
	}
	if s.publisher == nil {
		s.publisher = cluster.NopPublisher{}
	}
	switch cfg.Kind {
	case Client:
		s.client = &ClientInfo{multiplexerStreamID: cfg.MultiplexerStreamID}
	case IncomingServer:
		s.incomingServer = newIncomingServerInfo()
	case OutgoingServer:
		s.outgoingServer = newOutgoingServerInfo()
	case Component:
		s.component = &ComponentInfo{}
	case Multiplexer:
		s.multiplexer = newMultiplexerInfo()
	}
	return s
}

// Kind returns session kind.
func (s *Session) Kind() Kind { return s.kind }

// StreamID returns session stream identifier.
func (s *Session) StreamID() string { return s.streamID }

// CreatedAt returns session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActiveAt returns the time of the last processed or delivered stanza.
func (s *Session) LastActiveAt() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastActiveAt))
}

// ClientPacketCount returns the number of stanzas received from the peer.
func (s *Session) ClientPacketCount() uint64 { return atomic.LoadUint64(&s.clientPackets) }

// ServerPacketCount returns the number of stanzas delivered to the peer.
func (s *Session) ServerPacketCount() uint64 { return atomic.LoadUint64(&s.serverPackets) }

// Context returns session scratch store.
func (s *Session) Context() *Context { return s.ctx }

// Client returns client kind payload, or nil for any other kind.
func (s *Session) Client() *ClientInfo { return s.client }

// IncomingServer returns incoming server kind payload, or nil for any other kind.
func (s *Session) IncomingServer() *IncomingServerInfo { return s.incomingServer }

// OutgoingServer returns outgoing server kind payload, or nil for any other kind.
func (s *Session) OutgoingServer() *OutgoingServerInfo { return s.outgoingServer }

// Component returns component kind payload, or nil for any other kind.
func (s *Session) Component() *ComponentInfo { return s.component }

// Multiplexer returns multiplexer kind payload, or nil for any other kind.
func (s *Session) Multiplexer() *MultiplexerInfo { return s.multiplexer }

// JID returns session address.
func (s *Session) JID() *jid.JID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jid
}

// SetJID updates session address.
func (s *Session) SetJID(j *jid.JID) {
	s.mu.Lock()
	s.jid = j
	s.mu.Unlock()
}

// Status returns current session status.
func (s *Session) Status() Status { return Status(atomic.LoadInt32(&s.status)) }

// IsAuthenticated reports whether the session is ready.
func (s *Session) IsAuthenticated() bool { return s.Status() == Authenticated }

// SetStatus moves the session forward to st.
// It returns false if st is not ahead of the current status. Closed can only be reached through Close.
func (s *Session) SetStatus(st Status) bool {
	if st >= Closed {
		return false
	}
	for {
		cur := atomic.LoadInt32(&s.status)
		if Status(cur) >= st {
			return false
		}
		if atomic.CompareAndSwapInt32(&s.status, cur, int32(st)) {
			return true
		}
	}
}

// ConflictCount returns the number of times another session tried to bind this session address.
func (s *Session) ConflictCount() int { return int(atomic.LoadInt32(&s.conflictCount)) }

// IncConflictCount increments session conflict counter returning its new value.
func (s *Session) IncConflictCount() int { return int(atomic.AddInt32(&s.conflictCount, 1)) }

// Presence returns last presence sent by the session peer.
func (s *Session) Presence() *xmpp.Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presence
}

// WasAvailable reports whether the session has ever sent an available presence.
func (s *Session) WasAvailable() bool { return atomic.LoadUint32(&s.wasAvailable) == 1 }

// IsAvailable reports whether the last presence sent by the session peer is an available one.
func (s *Session) IsAvailable() bool {
	p := s.Presence()
	return p != nil && p.IsAvailable()
}

// SetPresence updates session presence.
func (s *Session) SetPresence(ctx context.Context, presence *xmpp.Presence) error {
	s.mu.Lock()
	s.presence = presence
	s.mu.Unlock()
	if presence.IsAvailable() {
		atomic.StoreUint32(&s.wasAvailable, 1)
	}
	return s.publish(ctx, presenceMetadataKey, presence.String())
}

// ActivePrivacyList returns session active privacy list name.
func (s *Session) ActivePrivacyList() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activePrivacyList
}

// SetActivePrivacyList updates session active privacy list name.
func (s *Session) SetActivePrivacyList(ctx context.Context, name string) error {
	s.mu.Lock()
	s.activePrivacyList = name
	s.mu.Unlock()
	return s.publish(ctx, activePrivacyListMetadataKey, name)
}

// DefaultPrivacyList returns session default privacy list name.
func (s *Session) DefaultPrivacyList() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultPrivacyList
}

// SetDefaultPrivacyList updates session default privacy list name.
func (s *Session) SetDefaultPrivacyList(ctx context.Context, name string) error {
	s.mu.Lock()
	s.defaultPrivacyList = name
	s.mu.Unlock()
	return s.publish(ctx, defaultPrivacyListMetadataKey, name)
}

// AddCloseHook registers a function to be called once the session gets closed.
// Hooks run in registration order.
func (s *Session) AddCloseHook(hook CloseHook) {
	s.mu.Lock()
	s.closeHooks = append(s.closeHooks, hook)
	s.mu.Unlock()
}

// Process hands over a stanza originated by the session peer to its packet handler.
// Handler failures never propagate past this call.
func (s *Session) Process(ctx context.Context, stanza xmpp.Stanza) error {
	atomic.AddUint64(&s.clientPackets, 1)
	s.touch()

	if !CanProcess(s, stanza) {
		return ErrNotProcessable
	}
	if s.handler == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			n := runtime.Stack(stack, false)
			log.Errorf("session %s: panic processing stanza: %v\n%s", s.streamID, r, stack[:n])
		}
	}()
	if err := s.handler.ProcessStanza(ctx, s, stanza); err != nil {
		log.Errorf("session %s: %v", s.streamID, err)
	}
	return nil
}

// Deliver writes a stanza to the session peer.
func (s *Session) Deliver(_ context.Context, stanza xmpp.Stanza) error {
	if !CanDeliver(s, stanza) {
		return ErrNotDeliverable
	}
	atomic.AddUint64(&s.serverPackets, 1)
	s.touch()

	s.sender.SendElement(stanza)
	return nil
}

// SendElement writes a non stanza element to the session peer.
func (s *Session) SendElement(elem xmpp.XElement) {
	if s.Status() == Closed {
		return
	}
	s.sender.SendElement(elem)
}

// Close terminates the session. Only the first call has any effect,
// it returns whether this call was the one closing the session.
func (s *Session) Close(ctx context.Context, streamErr *streamerror.Error) bool {
	var closed bool
	s.closeOnce.Do(func() {
		closed = true
		atomic.StoreInt32(&s.status, int32(Closed))

		s.mu.RLock()
		hooks := s.closeHooks
		j := s.jid
		s.mu.RUnlock()

		for _, hook := range hooks {
			hook(ctx, s)
		}
		if j != nil {
			for _, k := range []string{presenceMetadataKey, activePrivacyListMetadataKey, defaultPrivacyListMetadataKey} {
				if err := s.publisher.Retract(ctx, MetadataKey(j, k)); err != nil {
					log.Error(err)
				}
			}
		}
		s.ctx.terminate()
		if s.sender != nil {
			s.sender.Disconnect(streamErr)
		}
	})
	return closed
}

// String returns a string representation of the session.
func (s *Session) String() string {
	var addr string
	if j := s.JID(); j != nil {
		addr = j.String()
	}
	return fmt.Sprintf("%s(%s, %s)", s.kind, s.streamID, addr)
}

func (s *Session) publish(ctx context.Context, key, value string) error {
	j := s.JID()
	if j == nil {
		return nil
	}
	if err := s.publisher.Publish(ctx, MetadataKey(j, key), []byte(value)); err != nil {
		return errors.Wrapf(err, "session: failed to publish '%s'", key)
	}
	return nil
}

func (s *Session) touch() {
	atomic.StoreInt64(&s.lastActiveAt, time.Now().UnixNano())
}

// MetadataKey returns the replicated key under which a session metadata field is published.
func MetadataKey(j *jid.JID, field string) string {
	return "session/" + j.String() + "/" + field
}
