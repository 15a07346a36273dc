/*
 * Copyright (c) 2019 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package presencehub

import (
	"bytes"
	"context"
	"encoding/gob"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/jackal-im/presenced/cluster"
	"github.com/jackal-im/presenced/host"
	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/jackal-im/presenced/xmpp/jid"
	"github.com/pkg/errors"
)

const (
	shardCount = 32

	keyPrefix = "directed/"
)

// Router routes the unavailable presences emitted by the hub.
type Router interface {
	Hosts() *host.Hosts
	Route(ctx context.Context, stanza xmpp.Stanza, forceDelivery bool) error
	HasLocalRoute(j *jid.JID) bool
}

// Cluster replicates directed presence records across nodes.
type Cluster interface {
	cluster.Publisher
	cluster.Reader
	IsCoordinator() bool
}

// Receivers maps every handler address to the set of receivers it handled a directed presence for.
type Receivers map[string][]string

type shard struct {
	mu sync.Mutex
	// sender full address -> handler -> receivers
	senders map[string]map[string]map[string]struct{}
}

// Hub keeps track of the directed presences sent by local users, so that
// every entity that received an available presence gets its unavailable counterpart.
type Hub struct {
	router  Router
	cluster Cluster
	shards  [shardCount]*shard
}

// New returns a directed presence hub. A nil cluster means a single node deployment.
func New(router Router, cl Cluster) *Hub {
	h := &Hub{router: router, cluster: cl}
	for i := 0; i < shardCount; i++ {
		h.shards[i] = &shard{senders: make(map[string]map[string]map[string]struct{})}
	}
	return h
}

// RecordDirected annotates that handler received a directed available presence
// from sender addressed to receiver.
func (h *Hub) RecordDirected(ctx context.Context, sender, handler *jid.JID, receiver string) {
	key := sender.String()
	sh := h.shard(key)

	sh.mu.Lock()
	handlers := sh.senders[key]
	if handlers == nil {
		handlers = make(map[string]map[string]struct{})
		sh.senders[key] = handlers
	}
	receivers := handlers[handler.String()]
	if receivers == nil {
		receivers = make(map[string]struct{})
		handlers[handler.String()] = receivers
	}
	receivers[receiver] = struct{}{}
	h.publish(ctx, key, toReceivers(handlers))
	sh.mu.Unlock()
}

// RemoveDirected processes a directed unavailable presence. A client handler only
// ever gets presences for its own address, so its whole record is dropped; a service
// handler just forgets receiver.
func (h *Hub) RemoveDirected(ctx context.Context, sender, handler *jid.JID, receiver string, handlerIsClient bool) {
	key := sender.String()
	sh := h.shard(key)

	sh.mu.Lock()
	handlers := sh.senders[key]
	if handlers == nil {
		sh.mu.Unlock()
		return
	}
	if handlerIsClient {
		delete(handlers, handler.String())
	} else if receivers := handlers[handler.String()]; receivers != nil {
		delete(receivers, receiver)
		if len(receivers) == 0 {
			delete(handlers, handler.String())
		}
	}
	var snapshot Receivers
	if len(handlers) == 0 {
		delete(sh.senders, key)
	} else {
		snapshot = toReceivers(handlers)
	}
	h.publish(ctx, key, snapshot)
	sh.mu.Unlock()
}

// ClearOnUnavailable atomically removes and returns every directed presence recorded for sender.
func (h *Hub) ClearOnUnavailable(ctx context.Context, sender *jid.JID) Receivers {
	key := sender.String()
	sh := h.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	handlers := sh.senders[key]
	if handlers == nil {
		return nil
	}
	delete(sh.senders, key)
	h.publish(ctx, key, nil)
	return toReceivers(handlers)
}

// BroadcastUnavailable routes a copy of unavailable presence to every receiver
// sender had sent a directed presence to, forgetting all of them.
func (h *Hub) BroadcastUnavailable(ctx context.Context, unavailable *xmpp.Presence) {
	sender := unavailable.FromJID()
	if sender == nil || !h.router.Hosts().IsLocalHost(sender.Domain()) {
		return
	}
	for _, receivers := range h.ClearOnUnavailable(ctx, sender) {
		for _, receiver := range receivers {
			h.routeUnavailable(ctx, unavailable, sender, receiver)
		}
	}
}

// HasDirectedPresence tells whether sender has sent a directed presence to recipient,
// or to any of its resources. Records published by other nodes are considered too.
func (h *Hub) HasDirectedPresence(sender, recipient *jid.JID) bool {
	key := sender.String()
	bare := recipient.ToBareJID().String()

	sh := h.shard(key)
	sh.mu.Lock()
	handlers, ok := sh.senders[key]
	if ok {
		for _, receivers := range handlers {
			for receiver := range receivers {
				if matchesBare(receiver, bare) {
					sh.mu.Unlock()
					return true
				}
			}
		}
	}
	sh.mu.Unlock()
	if ok || h.cluster == nil {
		return false
	}
	b, _, found := h.cluster.Get(keyPrefix + key)
	if !found {
		return false
	}
	rcv, err := decodeReceivers(b)
	if err != nil {
		log.Error(err)
		return false
	}
	for _, receivers := range rcv {
		for _, receiver := range receivers {
			if matchesBare(receiver, bare) {
				return true
			}
		}
	}
	return false
}

// RemoveExpired drops every handler isLive reports as gone.
func (h *Hub) RemoveExpired(ctx context.Context, isLive func(handler *jid.JID) bool) {
	for _, sh := range h.shards {
		sh.mu.Lock()
		for sender, handlers := range sh.senders {
			var changed bool
			for handler := range handlers {
				j, err := jid.NewWithString(handler, true)
				if err != nil || !isLive(j) {
					delete(handlers, handler)
					changed = true
				}
			}
			if !changed {
				continue
			}
			if len(handlers) == 0 {
				delete(sh.senders, sender)
				h.publish(ctx, sender, nil)
			} else {
				h.publish(ctx, sender, toReceivers(handlers))
			}
		}
		sh.mu.Unlock()
	}
}

// NodeLeft satisfies cluster.Delegate interface.
// Directed presences recorded by a departed node are un-announced by the surviving ones.
func (h *Hub) NodeLeft(ctx context.Context, nodeID string, entries []cluster.Entry) {
	for _, e := range entries {
		if !strings.HasPrefix(e.Key, keyPrefix) {
			continue
		}
		sender, err := jid.NewWithString(strings.TrimPrefix(e.Key, keyPrefix), true)
		if err != nil {
			log.Error(err)
			continue
		}
		rcv, err := decodeReceivers(e.Value)
		if err != nil {
			log.Error(err)
			continue
		}
		log.Infof("presencehub: node %s left, un-announcing %s directed presences", nodeID, sender)

		unavailable := xmpp.NewPresence(sender, sender, xmpp.UnavailableType)
		for _, receivers := range rcv {
			for _, receiver := range receivers {
				h.routeUnavailable(ctx, unavailable, sender, receiver)
			}
		}
	}
}

func (h *Hub) routeUnavailable(ctx context.Context, unavailable *xmpp.Presence, sender *jid.JID, receiver string) {
	to, err := jid.NewWithString(receiver, true)
	if err != nil {
		log.Error(err)
		return
	}
	// every node routes to its own sessions, and only the coordinator reaches remote domains
	if h.router.Hosts().IsLocalHost(to.Domain()) {
		if !h.router.HasLocalRoute(to) {
			return
		}
	} else if h.cluster != nil && !h.cluster.IsCoordinator() {
		return
	}
	p, err := xmpp.NewPresenceFromElement(unavailable, sender, to)
	if err != nil {
		log.Error(err)
		return
	}
	if err := h.router.Route(ctx, p, false); err != nil {
		log.Debugf("presencehub: unavailable presence not routed to %s: %v", to, err)
	}
}

// publish replicates the current record of sender. Callers hold the sender's shard lock,
// so snapshots reach the cluster in the same order the local record changed.
func (h *Hub) publish(ctx context.Context, sender string, rcv Receivers) {
	if h.cluster == nil {
		return
	}
	key := keyPrefix + sender
	if len(rcv) == 0 {
		if err := h.cluster.Retract(ctx, key); err != nil {
			log.Error(err)
		}
		return
	}
	b, err := encodeReceivers(rcv)
	if err != nil {
		log.Error(err)
		return
	}
	if err := h.cluster.Publish(ctx, key, b); err != nil {
		log.Error(err)
	}
}

func (h *Hub) shard(key string) *shard {
	hs := fnv.New32a()
	_, _ = hs.Write([]byte(key))
	return h.shards[hs.Sum32()%shardCount]
}

func toReceivers(handlers map[string]map[string]struct{}) Receivers {
	ret := make(Receivers, len(handlers))
	for handler, receivers := range handlers {
		lst := make([]string, 0, len(receivers))
		for r := range receivers {
			lst = append(lst, r)
		}
		sort.Strings(lst)
		ret[handler] = lst
	}
	return ret
}

func matchesBare(receiver, bare string) bool {
	return receiver == bare || strings.HasPrefix(receiver, bare+"/")
}

func encodeReceivers(rcv Receivers) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rcv); err != nil {
		return nil, errors.Wrap(err, "presencehub: encode")
	}
	return buf.Bytes(), nil
}

func decodeReceivers(b []byte) (Receivers, error) {
	var rcv Receivers
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&rcv); err != nil {
		return nil, errors.Wrap(err, "presencehub: decode")
	}
	return rcv, nil
}
