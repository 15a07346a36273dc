/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package component

import (
	"context"
	"fmt"

	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/router"
)

// Components represents the set of external component listeners.
type Components struct {
	servers map[string]*server
}

// New returns a set of external component listeners, one per configured domain.
func New(configs []Config, router *router.Router, handler *Handler) (*Components, error) {
	cs := &Components{servers: make(map[string]*server)}
	for i := range configs {
		cfg := &configs[i]
		if router.Hosts().IsLocalHost(cfg.Domain) {
			return nil, fmt.Errorf("component: domain %s conflicts with a local host", cfg.Domain)
		}
		if _, ok := cs.servers[cfg.Domain]; ok {
			return nil, fmt.Errorf("component: duplicated domain: %s", cfg.Domain)
		}
		cs.servers[cfg.Domain] = &server{
			cfg:     cfg,
			router:  router,
			handler: handler,
		}
	}
	return cs, nil
}

// Start starts every component listener.
func (cs *Components) Start() {
	for _, srv := range cs.servers {
		go srv.start()
	}
}

// Shutdown gracefully shuts down component listeners and their streams.
func (cs *Components) Shutdown(ctx context.Context) error {
	for _, srv := range cs.servers {
		if err := srv.shutdown(ctx); err != nil {
			log.Error(err)
		}
	}
	return nil
}
