/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package registry

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/streamerror"
	"github.com/jackal-im/presenced/xmpp/jid"
	"github.com/pkg/errors"
)

// NeverKick disables conflict evictions: a bound session is never replaced by a newer one.
const NeverKick = -1

const shardCount = 32

var (
	// ErrConflict is returned when an address or domain is already held by a live session.
	ErrConflict = errors.New("registry: conflict")

	// ErrNotAuthenticated is returned when trying to bind an unauthenticated session.
	ErrNotAuthenticated = errors.New("registry: session not authenticated")
)

type userShard struct {
	mu sync.RWMutex
	// bare address -> resource -> session
	users map[string]map[string]*session.Session
}

type streamShard struct {
	mu      sync.RWMutex
	streams map[string]*session.Session
}

type domainShard struct {
	mu sync.RWMutex
	// domain -> stream id -> incoming server session
	domains map[string]map[string]*session.Session
}

// Registry maps addresses to live sessions of every kind.
// All operations are safe for concurrent use; state is partitioned in shards with independent locks.
type Registry struct {
	users   [shardCount]*userShard
	streams [shardCount]*streamShard
	domains [shardCount]*domainShard

	compMu     sync.RWMutex
	components map[string]*session.Session

	muxMu        sync.RWMutex
	multiplexers map[string]*session.Session
}

// New returns an empty session registry.
func New() *Registry {
	r := &Registry{
		components:   make(map[string]*session.Session),
		multiplexers: make(map[string]*session.Session),
	}
	for i := 0; i < shardCount; i++ {
		r.users[i] = &userShard{users: make(map[string]map[string]*session.Session)}
		r.streams[i] = &streamShard{streams: make(map[string]*session.Session)}
		r.domains[i] = &domainShard{domains: make(map[string]map[string]*session.Session)}
	}
	return r
}

// Register indexes a session by its stream identifier.
func (r *Registry) Register(sess *session.Session) {
	sh := r.streamShard(sess.StreamID())
	sh.mu.Lock()
	_, exists := sh.streams[sess.StreamID()]
	sh.streams[sess.StreamID()] = sess
	sh.mu.Unlock()

	if !exists {
		reportRegistered(sess.Kind(), 1)
	}
}

// SessionByStreamID returns the session identified by streamID.
func (r *Registry) SessionByStreamID(streamID string) *session.Session {
	sh := r.streamShard(streamID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.streams[streamID]
}

// BindClient binds an authenticated client session to a full address.
//
// If the address is held by another live session its conflict counter is incremented. Once the
// counter exceeds conflictLimit the old session is closed with a conflict stream error in favor of
// sess, otherwise ErrConflict is returned. NeverKick disables evictions.
func (r *Registry) BindClient(ctx context.Context, sess *session.Session, j *jid.JID, conflictLimit int) error {
	if sess.Status() != session.Authenticated {
		return ErrNotAuthenticated
	}
	bare := j.ToBareJID().String()
	res := j.Resource()

	sh := r.userShard(bare)
	sh.mu.Lock()
	resources := sh.users[bare]
	if resources == nil {
		resources = make(map[string]*session.Session)
		sh.users[bare] = resources
	}
	old := resources[res]
	if old != nil && old != sess {
		cnt := old.IncConflictCount()
		if conflictLimit == NeverKick || cnt <= conflictLimit {
			sh.mu.Unlock()
			return ErrConflict
		}
	}
	resources[res] = sess
	sh.mu.Unlock()

	sess.SetJID(j)
	r.Register(sess)

	if old != nil && old != sess {
		conflictEvictions.Inc()
		log.Infof("registry: evicting session %s in favor of %s (%s)", old.StreamID(), sess.StreamID(), j.String())
		old.Close(ctx, streamerror.ErrConflict)
	}
	return nil
}

// Session returns the client session bound to a full address.
func (r *Registry) Session(j *jid.JID) *session.Session {
	bare := j.ToBareJID().String()
	sh := r.userShard(bare)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.users[bare][j.Resource()]
}

// UserSessions returns every client session bound to a bare address.
func (r *Registry) UserSessions(j *jid.JID) []*session.Session {
	bare := j.ToBareJID().String()
	sh := r.userShard(bare)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	resources := sh.users[bare]
	ret := make([]*session.Session, 0, len(resources))
	for _, sess := range resources {
		ret = append(ret, sess)
	}
	return ret
}

// AddIncomingDomain records domain as validated on an incoming server session and indexes the session by it.
func (r *Registry) AddIncomingDomain(sess *session.Session, domain, localDomain string) {
	info := sess.IncomingServer()
	if info == nil {
		return
	}
	info.SetRemoveHook(func(d string) { r.unindexDomain(sess, d) })
	info.AddValidatedDomain(domain, localDomain)

	sh := r.domainShard(domain)
	sh.mu.Lock()
	set := sh.domains[domain]
	if set == nil {
		set = make(map[string]*session.Session)
		sh.domains[domain] = set
	}
	set[sess.StreamID()] = sess
	sh.mu.Unlock()
}

// IncomingSessions returns every incoming server session validated for domain.
func (r *Registry) IncomingSessions(domain string) []*session.Session {
	sh := r.domainShard(domain)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	set := sh.domains[domain]
	ret := make([]*session.Session, 0, len(set))
	for _, sess := range set {
		ret = append(ret, sess)
	}
	return ret
}

// RegisterComponent binds a component session to its domain.
func (r *Registry) RegisterComponent(sess *session.Session) error {
	domain := sess.Component().Domain()
	r.compMu.Lock()
	if cur := r.components[domain]; cur != nil && cur != sess {
		r.compMu.Unlock()
		return ErrConflict
	}
	r.components[domain] = sess
	r.compMu.Unlock()

	r.Register(sess)
	return nil
}

// Component returns the component session serving domain.
func (r *Registry) Component(domain string) *session.Session {
	r.compMu.RLock()
	defer r.compMu.RUnlock()
	return r.components[domain]
}

// RegisterMultiplexer binds a multiplexer session to its domain.
func (r *Registry) RegisterMultiplexer(sess *session.Session) error {
	domain := sess.JID().Domain()
	r.muxMu.Lock()
	if cur := r.multiplexers[domain]; cur != nil && cur != sess {
		r.muxMu.Unlock()
		return ErrConflict
	}
	r.multiplexers[domain] = sess
	r.muxMu.Unlock()

	r.Register(sess)
	return nil
}

// Multiplexer returns the multiplexer session registered for domain.
func (r *Registry) Multiplexer(domain string) *session.Session {
	r.muxMu.RLock()
	defer r.muxMu.RUnlock()
	return r.multiplexers[domain]
}

// Unregister removes every index entry pointing at sess.
// Entries already taken over by another session are left untouched, so it is safe to call it more than once.
func (r *Registry) Unregister(sess *session.Session) {
	sh := r.streamShard(sess.StreamID())
	sh.mu.Lock()
	removed := sh.streams[sess.StreamID()] == sess
	if removed {
		delete(sh.streams, sess.StreamID())
	}
	sh.mu.Unlock()
	if removed {
		reportRegistered(sess.Kind(), -1)
	}

	switch sess.Kind() {
	case session.Client:
		if j := sess.JID(); j != nil && j.IsFullWithUser() {
			r.unbindClient(sess, j)
		}

	case session.IncomingServer:
		for _, d := range sess.IncomingServer().ValidatedDomains() {
			r.unindexDomain(sess, d)
		}

	case session.Component:
		domain := sess.Component().Domain()
		r.compMu.Lock()
		if r.components[domain] == sess {
			delete(r.components, domain)
		}
		r.compMu.Unlock()

	case session.Multiplexer:
		if j := sess.JID(); j != nil {
			r.muxMu.Lock()
			if r.multiplexers[j.Domain()] == sess {
				delete(r.multiplexers, j.Domain())
			}
			r.muxMu.Unlock()
		}
	}
}

func (r *Registry) unbindClient(sess *session.Session, j *jid.JID) {
	bare := j.ToBareJID().String()
	sh := r.userShard(bare)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	resources := sh.users[bare]
	if resources[j.Resource()] != sess {
		return
	}
	delete(resources, j.Resource())
	if len(resources) == 0 {
		delete(sh.users, bare)
	}
}

func (r *Registry) unindexDomain(sess *session.Session, domain string) {
	sh := r.domainShard(domain)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	set := sh.domains[domain]
	if set[sess.StreamID()] != sess {
		return
	}
	delete(set, sess.StreamID())
	if len(set) == 0 {
		delete(sh.domains, domain)
	}
}

func (r *Registry) userShard(key string) *userShard { return r.users[shardIndex(key)] }

func (r *Registry) streamShard(key string) *streamShard { return r.streams[shardIndex(key)] }

func (r *Registry) domainShard(key string) *domainShard { return r.domains[shardIndex(key)] }

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
