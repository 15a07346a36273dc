/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package multiplexer

import (
	"context"

	"github.com/jackal-im/presenced/c2s"
	"github.com/jackal-im/presenced/cluster"
	"github.com/jackal-im/presenced/router"
)

const sessionNamespace = "http://jabber.org/protocol/connectionmanager"

// Multiplexer accepts connection managers hosting client sessions on behalf of the server.
type Multiplexer struct {
	srv *server
}

// New returns a connection multiplexer listener.
// Virtual client sessions are processed by the regular client stanza handler and
// replicate their metadata through publisher, as directly connected clients do.
func New(cfg *Config, router *router.Router, handler *c2s.Handler, publisher cluster.Publisher) *Multiplexer {
	return &Multiplexer{
		srv: &server{
			cfg:       cfg,
			router:    router,
			handler:   handler,
			publisher: publisher,
		},
	}
}

// Start starts the multiplexer listener.
func (m *Multiplexer) Start() {
	go m.srv.start()
}

// Shutdown gracefully shuts down the listener, closing every hosted session.
func (m *Multiplexer) Shutdown(ctx context.Context) error {
	return m.srv.shutdown(ctx)
}
