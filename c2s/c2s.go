/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"context"
	"fmt"

	"github.com/jackal-im/presenced/cluster"
	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/router"
	"github.com/jackal-im/presenced/storage/repository"
	"github.com/jackal-im/presenced/transport"
)

const (
	streamNamespace           = "http://etherx.jabber.org/streams"
	tlsNamespace              = "urn:ietf:params:xml:ns:xmpp-tls"
	compressProtocolNamespace = "http://jabber.org/protocol/compress"
	compressFeatureNamespace  = "http://jabber.org/features/compress"
	bindNamespace             = "urn:ietf:params:xml:ns:xmpp-bind"
	sessionNamespace          = "urn:ietf:params:xml:ns:xmpp-session"
)

// C2S represents a client-to-server connection manager.
type C2S struct {
	servers map[string]*server
}

// New returns a new instance of a c2s connection manager.
// A listener requiring TLS on a deployment that lacks certificate material is a
// configuration error reported here, before accepting any connection.
func New(configs []Config, router *router.Router, userRep repository.User, handler *Handler, publisher cluster.Publisher) (*C2S, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("c2s: no listener configured")
	}
	if publisher == nil {
		publisher = cluster.NopPublisher{}
	}
	c := &C2S{servers: make(map[string]*server)}
	for i := range configs {
		cfg := &configs[i]
		if cfg.TLS == transport.TLSRequired && !router.Hosts().HasCertificates() {
			return nil, fmt.Errorf("c2s: listener %s requires TLS but no certificate is configured", cfg.ID)
		}
		if _, ok := c.servers[cfg.ID]; ok {
			return nil, fmt.Errorf("c2s: duplicated listener id: %s", cfg.ID)
		}
		c.servers[cfg.ID] = &server{
			cfg:       cfg,
			router:    router,
			userRep:   userRep,
			handler:   handler,
			publisher: publisher,
		}
	}
	return c, nil
}

// Start starts c2s connection manager.
func (c *C2S) Start() {
	for _, srv := range c.servers {
		go srv.start()
	}
}

// Shutdown gracefully shuts down c2s connection manager.
func (c *C2S) Shutdown(ctx context.Context) error {
	for _, srv := range c.servers {
		if err := srv.shutdown(ctx); err != nil {
			log.Error(err)
		}
	}
	return nil
}
