/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package cluster

import "context"

// Publisher replicates keyed state to the rest of the cluster.
// State mutators call it unconditionally; single node deployments use NopPublisher.
type Publisher interface {
	// Publish stores value under key, owned by the local node.
	Publish(ctx context.Context, key string, value []byte) error

	// Retract removes a previously published key.
	Retract(ctx context.Context, key string) error
}

// Reader gives read access to replicated state published by any node.
type Reader interface {
	// Get returns the value stored under key and the id of its owning node.
	Get(key string) (value []byte, owner string, ok bool)
}

// NopPublisher is a Publisher that does nothing.
type NopPublisher struct{}

// Publish satisfies Publisher interface.
func (NopPublisher) Publish(_ context.Context, _ string, _ []byte) error { return nil }

// Retract satisfies Publisher interface.
func (NopPublisher) Retract(_ context.Context, _ string) error { return nil }
