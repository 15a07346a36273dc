/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

type fakeHashicorpMemberList struct {
	err           error
	conf          *memberlist.Config
	joinCalls     int
	leaveCalls    int
	shutdownCalls int
}

func (ml *fakeHashicorpMemberList) Join(existing []string) (int, error) {
	if ml.err != nil {
		return 0, ml.err
	}
	ml.joinCalls++
	return len(existing), nil
}

func (ml *fakeHashicorpMemberList) Leave(timeout time.Duration) error {
	if ml.err != nil {
		return ml.err
	}
	ml.leaveCalls++
	return nil
}

func (ml *fakeHashicorpMemberList) Shutdown() error {
	if ml.err != nil {
		return ml.err
	}
	ml.shutdownCalls++
	return nil
}

type fakeDelegate struct {
	mu      sync.Mutex
	nodeID  string
	entries []Entry
	calls   int
}

func (d *fakeDelegate) NodeLeft(_ context.Context, nodeID string, entries []Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.nodeID = nodeID
	d.entries = entries
}

func TestCluster_JoinShutdown(t *testing.T) {
	c, ml := tUtilCluster(t, "node1")
	c.cfg.Hosts = []string{"127.0.0.1:7777", "127.0.0.1:8888"}

	require.Nil(t, c.Join())
	require.Equal(t, 1, ml.joinCalls)

	require.Nil(t, c.Shutdown())
	require.Equal(t, 1, ml.leaveCalls)
	require.Equal(t, 1, ml.shutdownCalls)

	ml.err = errors.New("")
	require.NotNil(t, c.Join())
	require.NotNil(t, c.Shutdown())
}

func TestCluster_PublishRetract(t *testing.T) {
	c, _ := tUtilCluster(t, "node1")

	require.Nil(t, c.Publish(context.Background(), "k1", []byte("v1")))
	v, owner, ok := c.Get("k1")
	require.True(t, ok)
	require.Equal(t, "v1", string(v))
	require.Equal(t, "node1", owner)

	require.Nil(t, c.Retract(context.Background(), "k1"))
	_, _, ok = c.Get("k1")
	require.False(t, ok)
}

func TestCluster_Broadcast(t *testing.T) {
	c1, _ := tUtilCluster(t, "node1")
	c2, _ := tUtilCluster(t, "node2")
	d1 := c1.bqDelegate()
	d2 := c2.bqDelegate()

	d1.events.NotifyJoin(&memberlist.Node{Name: "node2"})
	d2.events.NotifyJoin(&memberlist.Node{Name: "node1"})

	_ = c1.Publish(context.Background(), "directed/a", []byte("1"))
	_ = c1.Publish(context.Background(), "directed/a", []byte("2"))

	// older broadcast of the same key has been invalidated
	msgs := d1.delegate.GetBroadcasts(0, 4096)
	require.Len(t, msgs, 1)
	for _, msg := range msgs {
		d2.delegate.NotifyMsg(msg)
	}
	v, owner, ok := c2.Get("directed/a")
	require.True(t, ok)
	require.Equal(t, "2", string(v))
	require.Equal(t, "node1", owner)

	// stale update is ignored
	stale, _ := encodeMessage(msgUpdateType, &message{Entries: []Entry{{Key: "directed/a", Value: []byte("0"), Owner: "node1", Version: 1}}})
	d2.delegate.NotifyMsg(stale)
	v, _, _ = c2.Get("directed/a")
	require.Equal(t, "2", string(v))
}

func TestCluster_StateSync(t *testing.T) {
	c1, _ := tUtilCluster(t, "node1")
	c2, _ := tUtilCluster(t, "node2")

	_ = c1.Publish(context.Background(), "directed/a", []byte("a"))
	_ = c1.Publish(context.Background(), "session/b", []byte("b"))
	_ = c1.Retract(context.Background(), "session/b")

	c2.bqDelegate().delegate.MergeRemoteState(c1.bqDelegate().delegate.LocalState(true), true)

	_, _, ok := c2.Get("directed/a")
	require.True(t, ok)
	_, _, ok = c2.Get("session/b")
	require.False(t, ok)

	var keys []string
	c2.Range("directed/", func(e Entry) bool {
		keys = append(keys, e.Key)
		return true
	})
	require.Equal(t, []string{"directed/a"}, keys)

	// garbage input does not panic
	c2.bqDelegate().delegate.MergeRemoteState([]byte{0xff, 0x01}, false)
}

func TestCluster_NodeLeft(t *testing.T) {
	c1, _ := tUtilCluster(t, "node1")
	c2, _ := tUtilCluster(t, "node2")
	var d fakeDelegate
	c2.AddDelegate(&d)

	ev := c2.bqDelegate().events
	ev.NotifyJoin(&memberlist.Node{Name: "node1"})
	require.Equal(t, 2, c2.NumMembers())
	require.True(t, c1.IsCoordinator())
	require.False(t, c2.IsCoordinator())

	_ = c1.Publish(context.Background(), "directed/a", []byte("a"))
	_ = c1.Publish(context.Background(), "directed/b", []byte("b"))
	_ = c1.Retract(context.Background(), "directed/b")
	_ = c2.Publish(context.Background(), "directed/c", []byte("c"))
	c2.bqDelegate().delegate.MergeRemoteState(c1.bqDelegate().delegate.LocalState(false), false)

	ev.NotifyLeave(&memberlist.Node{Name: "node1"})

	require.Equal(t, 1, d.calls)
	require.Equal(t, "node1", d.nodeID)
	require.Len(t, d.entries, 1)
	require.Equal(t, "directed/a", d.entries[0].Key)

	_, _, ok := c2.Get("directed/a")
	require.False(t, ok)
	_, _, ok = c2.Get("directed/c")
	require.True(t, ok)
	require.True(t, c2.IsCoordinator())

	// local node departure notifications are ignored
	ev.NotifyLeave(&memberlist.Node{Name: "node2"})
	require.Equal(t, 1, d.calls)
}

func TestCluster_Config(t *testing.T) {
	var cfg Config
	err := yaml.Unmarshal([]byte("name: node-a\nhosts: [\"10.0.0.1:7946\"]\n"), &cfg)
	require.Nil(t, err)
	require.Equal(t, "node-a", cfg.Name)
	require.Equal(t, defaultBindPort, cfg.BindPort)
	require.Equal(t, defaultTombstoneTTL, cfg.TombstoneTTL)
	require.Equal(t, []string{"10.0.0.1:7946"}, cfg.Hosts)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	require.Nil(t, p.Publish(context.Background(), "k", nil))
	require.Nil(t, p.Retract(context.Background(), "k"))
}

type tDelegates struct {
	delegate memberlist.Delegate
	events   memberlist.EventDelegate
}

func (c *Cluster) bqDelegate() tDelegates {
	return tDelegates{
		delegate: &memberListDelegate{c: c},
		events:   &memberListEventDelegate{c: c},
	}
}

func tUtilCluster(t *testing.T, name string) (*Cluster, *fakeHashicorpMemberList) {
	ml := &fakeHashicorpMemberList{}
	createHashicorpMemberList = func(conf *memberlist.Config) (hashicorpMemberList, error) {
		ml.conf = conf
		return ml, nil
	}
	c, err := New(&Config{Name: name, BindPort: 7946, TombstoneTTL: time.Minute})
	require.Nil(t, err)
	return c, ml
}
