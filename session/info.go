/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package session

import (
	"sort"
	"sync"
)

// ClientInfo holds client kind session state.
type ClientInfo struct {
	mu                  sync.RWMutex
	secured             bool
	compressed          bool
	multiplexerStreamID string
}

// SetSecured marks the session transport as encrypted.
func (ci *ClientInfo) SetSecured(secured bool) {
	ci.mu.Lock()
	ci.secured = secured
	ci.mu.Unlock()
}

// IsSecured reports whether the session transport is encrypted.
func (ci *ClientInfo) IsSecured() bool {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.secured
}

// SetCompressed marks the session transport as compressed.
func (ci *ClientInfo) SetCompressed(compressed bool) {
	ci.mu.Lock()
	ci.compressed = compressed
	ci.mu.Unlock()
}

// IsCompressed reports whether the session transport is compressed.
func (ci *ClientInfo) IsCompressed() bool {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.compressed
}

// MultiplexerStreamID returns the hosting multiplexer stream id, or an empty string for directly connected clients.
func (ci *ClientInfo) MultiplexerStreamID() string { return ci.multiplexerStreamID }

// IncomingServerInfo holds incoming server kind session state.
type IncomingServerInfo struct {
	mu                           sync.RWMutex
	validatedDomains             map[string]struct{}
	localDomainUsedForValidation string
	onRemove                     func(domain string)
}

func newIncomingServerInfo() *IncomingServerInfo {
	return &IncomingServerInfo{validatedDomains: make(map[string]struct{})}
}

// AddValidatedDomain registers a domain the remote peer proved to own.
// It returns false if the domain was already validated.
func (ii *IncomingServerInfo) AddValidatedDomain(domain, localDomain string) bool {
	ii.mu.Lock()
	defer ii.mu.Unlock()
	if _, ok := ii.validatedDomains[domain]; ok {
		return false
	}
	ii.validatedDomains[domain] = struct{}{}
	if len(ii.localDomainUsedForValidation) == 0 {
		ii.localDomainUsedForValidation = localDomain
	}
	return true
}

// RemoveValidatedDomain revokes a validated domain.
// The domain is removed from any index registered through SetRemoveHook.
func (ii *IncomingServerInfo) RemoveValidatedDomain(domain string) bool {
	ii.mu.Lock()
	_, ok := ii.validatedDomains[domain]
	delete(ii.validatedDomains, domain)
	onRemove := ii.onRemove
	ii.mu.Unlock()

	if ok && onRemove != nil {
		onRemove(domain)
	}
	return ok
}

// SetRemoveHook sets the function invoked every time a validated domain is revoked.
func (ii *IncomingServerInfo) SetRemoveHook(fn func(domain string)) {
	ii.mu.Lock()
	ii.onRemove = fn
	ii.mu.Unlock()
}

// IsValidatedDomain reports whether domain may originate stanzas on this session.
func (ii *IncomingServerInfo) IsValidatedDomain(domain string) bool {
	ii.mu.RLock()
	defer ii.mu.RUnlock()
	_, ok := ii.validatedDomains[domain]
	return ok
}

// ValidatedDomains returns all validated domains sorted by name.
func (ii *IncomingServerInfo) ValidatedDomains() []string {
	ii.mu.RLock()
	defer ii.mu.RUnlock()
	return sortedKeys(ii.validatedDomains)
}

// LocalDomainUsedForValidation returns the local domain the first validation was requested for.
func (ii *IncomingServerInfo) LocalDomainUsedForValidation() string {
	ii.mu.RLock()
	defer ii.mu.RUnlock()
	return ii.localDomainUsedForValidation
}

// OutgoingServerInfo holds outgoing server kind session state.
type OutgoingServerInfo struct {
	mu                   sync.RWMutex
	authenticatedDomains map[string]struct{}
	hostnames            map[string]struct{}
}

func newOutgoingServerInfo() *OutgoingServerInfo {
	return &OutgoingServerInfo{
		authenticatedDomains: make(map[string]struct{}),
		hostnames:            make(map[string]struct{}),
	}
}

// AddAuthenticatedDomain registers a local domain the session may send stanzas as.
func (oi *OutgoingServerInfo) AddAuthenticatedDomain(domain string) {
	oi.mu.Lock()
	oi.authenticatedDomains[domain] = struct{}{}
	oi.mu.Unlock()
}

// IsAuthenticatedDomain reports whether stanzas may be sent as domain.
func (oi *OutgoingServerInfo) IsAuthenticatedDomain(domain string) bool {
	oi.mu.RLock()
	defer oi.mu.RUnlock()
	_, ok := oi.authenticatedDomains[domain]
	return ok
}

// AuthenticatedDomains returns all authenticated local domains sorted by name.
func (oi *OutgoingServerInfo) AuthenticatedDomains() []string {
	oi.mu.RLock()
	defer oi.mu.RUnlock()
	return sortedKeys(oi.authenticatedDomains)
}

// AddHostname registers a remote name reachable through the session.
func (oi *OutgoingServerInfo) AddHostname(hostname string) {
	oi.mu.Lock()
	oi.hostnames[hostname] = struct{}{}
	oi.mu.Unlock()
}

// HasHostname reports whether hostname is reachable through the session.
func (oi *OutgoingServerInfo) HasHostname(hostname string) bool {
	oi.mu.RLock()
	defer oi.mu.RUnlock()
	_, ok := oi.hostnames[hostname]
	return ok
}

// Hostnames returns all reachable remote names sorted by name.
func (oi *OutgoingServerInfo) Hostnames() []string {
	oi.mu.RLock()
	defer oi.mu.RUnlock()
	return sortedKeys(oi.hostnames)
}

// ComponentInfo holds component kind session state.
type ComponentInfo struct {
	mu     sync.RWMutex
	domain string
}

// SetDomain sets the domain served by the component.
func (ci *ComponentInfo) SetDomain(domain string) {
	ci.mu.Lock()
	ci.domain = domain
	ci.mu.Unlock()
}

// Domain returns the domain served by the component.
func (ci *ComponentInfo) Domain() string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.domain
}

// MultiplexerInfo holds multiplexer kind session state.
type MultiplexerInfo struct {
	mu      sync.RWMutex
	virtual map[string]*Session
}

func newMultiplexerInfo() *MultiplexerInfo {
	return &MultiplexerInfo{virtual: make(map[string]*Session)}
}

// AddVirtualSession registers a client session hosted by the multiplexer.
func (mi *MultiplexerInfo) AddVirtualSession(streamID string, sess *Session) {
	mi.mu.Lock()
	mi.virtual[streamID] = sess
	mi.mu.Unlock()
}

// RemoveVirtualSession unregisters a hosted client session.
func (mi *MultiplexerInfo) RemoveVirtualSession(streamID string) *Session {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	sess := mi.virtual[streamID]
	delete(mi.virtual, streamID)
	return sess
}

// VirtualSession returns a hosted client session.
func (mi *MultiplexerInfo) VirtualSession(streamID string) *Session {
	mi.mu.RLock()
	defer mi.mu.RUnlock()
	return mi.virtual[streamID]
}

// VirtualSessions returns all hosted client sessions.
func (mi *MultiplexerInfo) VirtualSessions() []*Session {
	mi.mu.RLock()
	defer mi.mu.RUnlock()
	ret := make([]*Session, 0, len(mi.virtual))
	for _, sess := range mi.virtual {
		ret = append(ret, sess)
	}
	return ret
}

// RemoveAllVirtualSessions unregisters and returns every hosted client session.
func (mi *MultiplexerInfo) RemoveAllVirtualSessions() []*Session {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	ret := make([]*Session, 0, len(mi.virtual))
	for _, sess := range mi.virtual {
		ret = append(ret, sess)
	}
	mi.virtual = make(map[string]*Session)
	return ret
}

func sortedKeys(m map[string]struct{}) []string {
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}
