/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package host

import (
	"crypto/tls"
	"sort"
	"sync"

	"github.com/jackal-im/presenced/util"
)

// Hosts type represents all local domains set.
type Hosts struct {
	mu          sync.RWMutex
	defaultHost string
	hosts       map[string]*tls.Certificate
}

// New creates a Hosts instance out of a set of host configurations.
// First configured host becomes the default one; if none is configured 'localhost'
// is registered along with a self signed certificate.
func New(configurations []Config) (*Hosts, error) {
	hs := &Hosts{hosts: make(map[string]*tls.Certificate)}
	if len(configurations) == 0 {
		cer, err := util.LoadCertificate("", "", localhostDomain)
		if err != nil {
			return nil, err
		}
		hs.RegisterDefaultHost(localhostDomain, &cer)
		return hs, nil
	}
	for i, h := range configurations {
		if i == 0 {
			hs.RegisterDefaultHost(h.Name, h.Certificate)
			continue
		}
		hs.RegisterHost(h.Name, h.Certificate)
	}
	return hs, nil
}

// RegisterDefaultHost registers default host value along with its certificate.
func (hs *Hosts) RegisterDefaultHost(h string, cer *tls.Certificate) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.defaultHost = h
	hs.hosts[h] = cer
}

// RegisterHost registers a host value along with its certificate.
func (hs *Hosts) RegisterHost(h string, cer *tls.Certificate) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.hosts[h] = cer
}

// DefaultHostName returns default host name value.
func (hs *Hosts) DefaultHostName() string {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return hs.defaultHost
}

// IsLocalHost tells whether or not h value corresponds to local host.
func (hs *Hosts) IsLocalHost(h string) bool {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	_, ok := hs.hosts[h]
	return ok
}

// HostNames returns the list of all registered local hosts.
func (hs *Hosts) HostNames() []string {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	var ret []string
	for n := range hs.hosts {
		ret = append(ret, n)
	}
	sort.Strings(ret)
	return ret
}

// HasCertificates reports whether every local host carries certificate material.
func (hs *Hosts) HasCertificates() bool {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	for _, cer := range hs.hosts {
		if cer == nil {
			return false
		}
	}
	return len(hs.hosts) > 0
}

// Certificates returns all registered domain certificates.
func (hs *Hosts) Certificates() []tls.Certificate {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	var certs []tls.Certificate
	for _, cer := range hs.hosts {
		if cer != nil {
			certs = append(certs, *cer)
		}
	}
	return certs
}
