/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"context"
	"fmt"

	"github.com/jackal-im/presenced/router"
	"github.com/jackal-im/presenced/transport"
)

const (
	streamNamespace          = "http://etherx.jabber.org/streams"
	tlsNamespace             = "urn:ietf:params:xml:ns:xmpp-tls"
	dialbackFeatureNamespace = "urn:xmpp:features:dialback"
)

// S2S represents a server-to-server connection manager.
type S2S struct {
	srv         *server
	outProvider *OutProvider
}

// New returns a new instance of an s2s connection manager.
// The returned manager becomes the router provider of outgoing server sessions.
func New(cfg *Config, router *router.Router, handler *Handler) (*S2S, error) {
	if cfg.TLS == transport.TLSRequired && !router.Hosts().HasCertificates() {
		return nil, fmt.Errorf("s2s: TLS required but no certificate is configured")
	}
	outProvider := NewOutProvider(cfg, router.Hosts().Certificates(), router.Registry())
	router.SetOutProvider(outProvider)

	return &S2S{
		srv: &server{
			cfg:      cfg,
			router:   router,
			handler:  handler,
			verifier: outProvider,
			keyGen:   outProvider.keyGen,
		},
		outProvider: outProvider,
	}, nil
}

// Start starts s2s connection manager.
func (s *S2S) Start() {
	go s.srv.start()
}

// Shutdown gracefully shuts down s2s connection manager.
func (s *S2S) Shutdown(ctx context.Context) error {
	if err := s.srv.shutdown(ctx); err != nil {
		return err
	}
	return s.outProvider.Shutdown(ctx)
}
