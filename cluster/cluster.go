/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package cluster

import (
	"context"
	"io/ioutil"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/jackal-im/presenced/log"
	"github.com/pkg/errors"
)

const leaveTimeout = time.Second * 5

// Delegate is notified about cluster membership changes.
type Delegate interface {
	// NodeLeft is invoked once a node departs the cluster, along with
	// every live entry the node owned. Those entries have already been dropped.
	NodeLeft(ctx context.Context, nodeID string, entries []Entry)
}

type hashicorpMemberList interface {
	Join(existing []string) (int, error)
	Leave(timeout time.Duration) error
	Shutdown() error
}

var createHashicorpMemberList = func(conf *memberlist.Config) (hashicorpMemberList, error) {
	return memberlist.Create(conf)
}

// Cluster is a memberlist backed replicated key/value store.
// Every entry is owned by the node that published it.
type Cluster struct {
	cfg   *Config
	ml    hashicorpMemberList
	bq    *memberlist.TransmitLimitedQueue
	clock uint64

	delegatesMu sync.RWMutex
	delegates   []Delegate

	membersMu sync.RWMutex
	members   map[string]struct{}

	mu      sync.RWMutex
	entries map[string]*Entry
}

// New returns a new cluster instance. Join must be called to contact any peer.
func New(cfg *Config) (*Cluster, error) {
	c := &Cluster{
		cfg:     cfg,
		members: make(map[string]struct{}),
		entries: make(map[string]*Entry),
	}
	conf := memberlist.DefaultLANConfig()
	conf.Name = cfg.Name
	conf.BindPort = cfg.BindPort
	conf.AdvertisePort = cfg.BindPort
	conf.Delegate = &memberListDelegate{c: c}
	conf.Events = &memberListEventDelegate{c: c}
	conf.LogOutput = ioutil.Discard

	c.bq = &memberlist.TransmitLimitedQueue{
		NumNodes:       c.NumMembers,
		RetransmitMult: conf.RetransmitMult,
	}
	ml, err := createHashicorpMemberList(conf)
	if err != nil {
		return nil, errors.Wrap(err, "cluster: failed to create member list")
	}
	c.ml = ml
	return c, nil
}

// AddDelegate registers a membership delegate.
func (c *Cluster) AddDelegate(d Delegate) {
	c.delegatesMu.Lock()
	c.delegates = append(c.delegates, d)
	c.delegatesMu.Unlock()
}

// Join contacts the configured peers.
func (c *Cluster) Join() error {
	if len(c.cfg.Hosts) == 0 {
		return nil
	}
	n, err := c.ml.Join(c.cfg.Hosts)
	if err != nil {
		return errors.Wrap(err, "cluster: join failed")
	}
	log.Infof("cluster: joined %d node(s)", n)
	return nil
}

// Shutdown leaves the cluster gracefully.
func (c *Cluster) Shutdown() error {
	if err := c.ml.Leave(leaveTimeout); err != nil {
		return err
	}
	return c.ml.Shutdown()
}

// LocalNodeID returns the local node identifier.
func (c *Cluster) LocalNodeID() string {
	return c.cfg.Name
}

// NumMembers returns the number of known alive nodes, local node included.
func (c *Cluster) NumMembers() int {
	c.membersMu.RLock()
	defer c.membersMu.RUnlock()
	if _, ok := c.members[c.cfg.Name]; !ok {
		return len(c.members) + 1
	}
	return len(c.members)
}

// IsCoordinator reports whether the local node has the lowest id among alive members.
func (c *Cluster) IsCoordinator() bool {
	c.membersMu.RLock()
	names := make([]string, 0, len(c.members)+1)
	for name := range c.members {
		names = append(names, name)
	}
	c.membersMu.RUnlock()

	names = append(names, c.cfg.Name)
	sort.Strings(names)
	return names[0] == c.cfg.Name
}

// Publish satisfies Publisher interface.
func (c *Cluster) Publish(_ context.Context, key string, value []byte) error {
	e := Entry{
		Key:     key,
		Value:   value,
		Owner:   c.cfg.Name,
		Version: atomic.AddUint64(&c.clock, 1),
	}
	c.apply(&e)
	return c.queueBroadcast(&e)
}

// Retract satisfies Publisher interface.
func (c *Cluster) Retract(_ context.Context, key string) error {
	e := Entry{
		Key:     key,
		Owner:   c.cfg.Name,
		Version: atomic.AddUint64(&c.clock, 1),
		Deleted: true,
	}
	c.apply(&e)
	return c.queueBroadcast(&e)
}

// Get satisfies Reader interface.
func (c *Cluster) Get(key string) ([]byte, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e := c.entries[key]
	if e == nil || e.Deleted {
		return nil, "", false
	}
	return e.Value, e.Owner, true
}

// Range calls fn for every live entry whose key starts with prefix.
// Iteration stops as soon as fn returns false.
func (c *Cluster) Range(prefix string, fn func(e Entry) bool) {
	c.mu.RLock()
	var matched []Entry
	for k, e := range c.entries {
		if !e.Deleted && strings.HasPrefix(k, prefix) {
			matched = append(matched, *e)
		}
	}
	c.mu.RUnlock()

	for _, e := range matched {
		if !fn(e) {
			return
		}
	}
}

func (c *Cluster) queueBroadcast(e *Entry) error {
	b, err := encodeMessage(msgUpdateType, &message{Entries: []Entry{*e}})
	if err != nil {
		return err
	}
	c.bq.QueueBroadcast(&broadcast{key: e.Key, msg: b})
	return nil
}

// apply stores e unless a newer version is already known.
func (c *Cluster) apply(e *Entry) bool {
	for {
		cl := atomic.LoadUint64(&c.clock)
		if e.Version <= cl || atomic.CompareAndSwapUint64(&c.clock, cl, e.Version) {
			break
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur := c.entries[e.Key]; cur != nil && !e.newer(cur) {
		return false
	}
	if e.Deleted {
		e.deletedAt = time.Now()
	}
	c.entries[e.Key] = e
	return true
}

func (c *Cluster) localState() []byte {
	c.mu.Lock()
	entries := make([]Entry, 0, len(c.entries))
	for k, e := range c.entries {
		if e.Deleted && time.Since(e.deletedAt) > c.cfg.TombstoneTTL {
			delete(c.entries, k)
			continue
		}
		entries = append(entries, *e)
	}
	c.mu.Unlock()

	b, err := encodeMessage(msgStateType, &message{Entries: entries})
	if err != nil {
		log.Error(err)
		return nil
	}
	return b
}

func (c *Cluster) mergeState(b []byte) {
	_, m, err := decodeMessage(b)
	if err != nil {
		log.Error(err)
		return
	}
	for i := range m.Entries {
		e := m.Entries[i]
		if e.Owner == c.cfg.Name {
			continue // local node is authoritative for its own entries
		}
		c.apply(&e)
	}
}

func (c *Cluster) nodeJoined(name string) {
	if name == c.cfg.Name {
		return
	}
	c.membersMu.Lock()
	c.members[name] = struct{}{}
	c.membersMu.Unlock()
	log.Infof("cluster: node %s joined", name)
}

func (c *Cluster) nodeLeft(name string) {
	if name == c.cfg.Name {
		return
	}
	c.membersMu.Lock()
	delete(c.members, name)
	c.membersMu.Unlock()

	var owned []Entry
	c.mu.Lock()
	for k, e := range c.entries {
		if e.Owner != name {
			continue
		}
		if !e.Deleted {
			owned = append(owned, *e)
		}
		delete(c.entries, k)
	}
	c.mu.Unlock()

	log.Infof("cluster: node %s left (%d entries released)", name, len(owned))

	c.delegatesMu.RLock()
	delegates := c.delegates
	c.delegatesMu.RUnlock()
	for _, d := range delegates {
		d.NodeLeft(context.Background(), name, owned)
	}
}

type memberListDelegate struct {
	c *Cluster
}

func (d *memberListDelegate) NodeMeta(limit int) []byte { return nil }

func (d *memberListDelegate) NotifyMsg(msg []byte) {
	if len(msg) == 0 {
		return
	}
	d.c.mergeState(msg)
}

func (d *memberListDelegate) GetBroadcasts(overhead, limit int) [][]byte {
	return d.c.bq.GetBroadcasts(overhead, limit)
}

func (d *memberListDelegate) LocalState(join bool) []byte { return d.c.localState() }

func (d *memberListDelegate) MergeRemoteState(buf []byte, join bool) { d.c.mergeState(buf) }

type memberListEventDelegate struct {
	c *Cluster
}

func (d *memberListEventDelegate) NotifyJoin(n *memberlist.Node)   { d.c.nodeJoined(n.Name) }
func (d *memberListEventDelegate) NotifyLeave(n *memberlist.Node)  { d.c.nodeLeft(n.Name) }
func (d *memberListEventDelegate) NotifyUpdate(n *memberlist.Node) {}
