/*
 * Copyright (c) 2019 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package cached

import (
	"context"
	"hash/fnv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackal-im/presenced/model"
	"github.com/jackal-im/presenced/model/rostermodel"
	"github.com/jackal-im/presenced/storage/repository"
	"github.com/pkg/errors"
)

const lockStripes = 32

// DefaultSize is the number of entries kept per cache when no size is configured.
const DefaultSize = 4096

// stripedLock serializes cache fill and write-through for a given key.
type stripedLock [lockStripes]sync.Mutex

func (l *stripedLock) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &l[h.Sum32()%lockStripes]
	mu.Lock()
	return mu
}

type cachedContainer struct {
	repository.Container
	user   *User
	roster *Roster
}

// New wraps a repository container with write-through LRU caches for users and roster items.
func New(c repository.Container, size int) (repository.Container, error) {
	if size <= 0 {
		size = DefaultSize
	}
	usr, err := NewUser(c.User(), size)
	if err != nil {
		return nil, err
	}
	rst, err := NewRoster(c.Roster(), size)
	if err != nil {
		return nil, err
	}
	return &cachedContainer{Container: c, user: usr, roster: rst}, nil
}

func (c *cachedContainer) User() repository.User     { return c.user }
func (c *cachedContainer) Roster() repository.Roster { return c.roster }

// IsClusterCompatible returns false since cached entries are never invalidated by remote nodes.
func (c *cachedContainer) IsClusterCompatible() bool { return false }

// User is a cached user repository.
type User struct {
	rep   repository.User
	cache *lru.Cache[string, model.User]
	locks stripedLock
}

// NewUser returns a cached user repository wrapping rep.
func NewUser(rep repository.User, size int) (*User, error) {
	c, err := lru.New[string, model.User](size)
	if err != nil {
		return nil, errors.Wrap(err, "cached: failed to create user cache")
	}
	return &User{rep: rep, cache: c}, nil
}

// UpsertUser stores the user and refreshes its cached copy.
func (u *User) UpsertUser(ctx context.Context, user *model.User) error {
	mu := u.locks.lock(user.Username)
	defer mu.Unlock()

	if err := u.rep.UpsertUser(ctx, user); err != nil {
		u.cache.Remove(user.Username)
		return err
	}
	u.cache.Add(user.Username, *user)
	return nil
}

// FetchUser returns the cached user, falling back to the wrapped repository.
func (u *User) FetchUser(ctx context.Context, username string) (*model.User, error) {
	mu := u.locks.lock(username)
	defer mu.Unlock()

	if usr, ok := u.cache.Get(username); ok {
		return &usr, nil
	}
	usr, err := u.rep.FetchUser(ctx, username)
	if err != nil || usr == nil {
		return usr, err
	}
	u.cache.Add(username, *usr)
	return usr, nil
}

// UserExists tells whether a user exists, answering from cache when possible.
func (u *User) UserExists(ctx context.Context, username string) (bool, error) {
	if u.cache.Contains(username) {
		return true, nil
	}
	return u.rep.UserExists(ctx, username)
}

// Roster is a cached roster repository. Only single items are cached.
type Roster struct {
	rep   repository.Roster
	cache *lru.Cache[string, rostermodel.Item]
	locks stripedLock
}

// NewRoster returns a cached roster repository wrapping rep.
func NewRoster(rep repository.Roster, size int) (*Roster, error) {
	c, err := lru.New[string, rostermodel.Item](size)
	if err != nil {
		return nil, errors.Wrap(err, "cached: failed to create roster cache")
	}
	return &Roster{rep: rep, cache: c}, nil
}

// UpsertRosterItem stores the item and refreshes its cached copy.
func (r *Roster) UpsertRosterItem(ctx context.Context, ri *rostermodel.Item) error {
	k := itemKey(ri.Username, ri.JID)
	mu := r.locks.lock(k)
	defer mu.Unlock()

	if err := r.rep.UpsertRosterItem(ctx, ri); err != nil {
		r.cache.Remove(k)
		return err
	}
	r.cache.Add(k, cloneItem(ri))
	return nil
}

// DeleteRosterItem deletes the item and evicts its cached copy.
func (r *Roster) DeleteRosterItem(ctx context.Context, username, jid string) error {
	k := itemKey(username, jid)
	mu := r.locks.lock(k)
	defer mu.Unlock()

	r.cache.Remove(k)
	return r.rep.DeleteRosterItem(ctx, username, jid)
}

// FetchRosterItems always reads through to the wrapped repository.
func (r *Roster) FetchRosterItems(ctx context.Context, username string) ([]rostermodel.Item, error) {
	return r.rep.FetchRosterItems(ctx, username)
}

// FetchRosterItem returns the cached item, falling back to the wrapped repository.
func (r *Roster) FetchRosterItem(ctx context.Context, username, jid string) (*rostermodel.Item, error) {
	k := itemKey(username, jid)
	mu := r.locks.lock(k)
	defer mu.Unlock()

	if ri, ok := r.cache.Get(k); ok {
		c := cloneItem(&ri)
		return &c, nil
	}
	ri, err := r.rep.FetchRosterItem(ctx, username, jid)
	if err != nil || ri == nil {
		return ri, err
	}
	r.cache.Add(k, cloneItem(ri))
	return ri, nil
}

func itemKey(username, jid string) string {
	return username + "/" + jid
}

func cloneItem(ri *rostermodel.Item) rostermodel.Item {
	c := *ri
	if ri.Groups != nil {
		c.Groups = append([]string(nil), ri.Groups...)
	}
	return c
}
