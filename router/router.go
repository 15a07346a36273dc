/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package router

import (
	"context"
	"sync"

	"github.com/jackal-im/presenced/host"
	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/registry"
	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/storage/repository"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/jackal-im/presenced/xmpp/jid"
)

// OutProvider provides an authenticated outgoing server session for every single
// pair of (localDomain, remoteDomain) values.
type OutProvider interface {
	GetOut(ctx context.Context, localDomain, remoteDomain string) (*session.Session, error)
}

// Router represents an XMPP stanza router.
type Router struct {
	hosts   *host.Hosts
	reg     *registry.Registry
	userRep repository.User

	mu          sync.RWMutex
	outProvider OutProvider
}

// New returns a router delivering stanzas to the sessions held by reg.
func New(hosts *host.Hosts, reg *registry.Registry, userRep repository.User) *Router {
	return &Router{hosts: hosts, reg: reg, userRep: userRep}
}

// Hosts returns local hosts.
func (r *Router) Hosts() *host.Hosts { return r.hosts }

// Registry returns the session registry used to resolve local routes.
func (r *Router) Registry() *registry.Registry { return r.reg }

// SetOutProvider sets the provider to be used when routing stanzas to remote domains.
func (r *Router) SetOutProvider(provider OutProvider) {
	r.mu.Lock()
	r.outProvider = provider
	r.mu.Unlock()
}

// HasLocalRoute tells whether j is served by a session bound to this node.
func (r *Router) HasLocalRoute(j *jid.JID) bool {
	if r.reg.Component(j.Domain()) != nil {
		return true
	}
	if !r.hosts.IsLocalHost(j.Domain()) {
		return false
	}
	if j.IsFullWithUser() {
		return r.reg.Session(j) != nil
	}
	return len(r.reg.UserSessions(j)) > 0
}

// Route routes a stanza applying server rules for handling XML stanzas.
// (https://xmpp.org/rfcs/rfc6121.html#rules)
//
// When forceDelivery is set a stanza addressed to an unavailable resource
// is handled as if it had been addressed to the bare JID.
func (r *Router) Route(ctx context.Context, stanza xmpp.Stanza, forceDelivery bool) error {
	toJID := stanza.ToJID()
	if comp := r.reg.Component(toJID.Domain()); comp != nil {
		return comp.Deliver(ctx, stanza)
	}
	if !r.hosts.IsLocalHost(toJID.Domain()) {
		return r.remoteRoute(ctx, stanza)
	}
	return r.localRoute(ctx, stanza, forceDelivery)
}

func (r *Router) localRoute(ctx context.Context, stanza xmpp.Stanza, forceDelivery bool) error {
	toJID := stanza.ToJID()

	sessions := r.reg.UserSessions(toJID)
	if len(sessions) == 0 {
		exists, err := r.userRep.UserExists(ctx, toJID.Node())
		if err != nil {
			return err
		}
		if exists {
			return ErrNotAuthenticated
		}
		return ErrNotExistingAccount
	}
	if toJID.IsFullWithUser() {
		if sess := r.reg.Session(toJID); sess != nil {
			return sess.Deliver(ctx, stanza)
		}
		if !forceDelivery {
			return ErrResourceNotFound
		}
	}
	switch stanza.(type) {
	case *xmpp.Message:
		sess := highestPrioritySession(sessions)
		if sess == nil {
			return ErrNotAuthenticated
		}
		return sess.Deliver(ctx, stanza)

	default:
		for _, sess := range sessions {
			if err := sess.Deliver(ctx, stanza); err != nil {
				log.Warnf("router: failed to deliver stanza to %s: %v", sess, err)
			}
		}
	}
	return nil
}

func (r *Router) remoteRoute(ctx context.Context, stanza xmpp.Stanza) error {
	r.mu.RLock()
	provider := r.outProvider
	r.mu.RUnlock()

	if provider == nil {
		return ErrFailedRemoteConnect
	}
	out, err := provider.GetOut(ctx, stanza.FromJID().Domain(), stanza.ToJID().Domain())
	if err != nil {
		log.Error(err)
		return ErrFailedRemoteConnect
	}
	return out.Deliver(ctx, stanza)
}

// highestPrioritySession returns the available session with the highest non negative priority.
func highestPrioritySession(sessions []*session.Session) *session.Session {
	var ret *session.Session
	var highest int8
	for _, sess := range sessions {
		p := sess.Presence()
		if p == nil || !p.IsAvailable() || p.Priority() < 0 {
			continue
		}
		if ret == nil || p.Priority() > highest || (p.Priority() == highest && sess.StreamID() < ret.StreamID()) {
			ret = sess
			highest = p.Priority()
		}
	}
	return ret
}
