/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package memorystorage

import (
	"context"

	"github.com/jackal-im/presenced/model/rostermodel"
)

// Roster represents an in memory roster repository.
type Roster struct {
	memoryStorage
	items map[string][]rostermodel.Item
}

// NewRoster returns an empty in memory roster repository.
func NewRoster() *Roster {
	return &Roster{items: make(map[string][]rostermodel.Item)}
}

// UpsertRosterItem inserts a new roster item entity into storage, or updates it in case it's been previously inserted.
func (m *Roster) UpsertRosterItem(_ context.Context, ri *rostermodel.Item) error {
	return m.inWriteLock(func() error {
		items := m.items[ri.Username]
		for i, item := range items {
			if item.JID == ri.JID {
				items[i] = cloneItem(ri)
				return nil
			}
		}
		m.items[ri.Username] = append(items, cloneItem(ri))
		return nil
	})
}

// DeleteRosterItem deletes a roster item entity from storage.
func (m *Roster) DeleteRosterItem(_ context.Context, username, jid string) error {
	return m.inWriteLock(func() error {
		items := m.items[username]
		for i, item := range items {
			if item.JID == jid {
				m.items[username] = append(items[:i], items[i+1:]...)
				return nil
			}
		}
		return nil
	})
}

// FetchRosterItems retrieves from storage all roster item entities associated to a given user.
func (m *Roster) FetchRosterItems(_ context.Context, username string) ([]rostermodel.Item, error) {
	var ret []rostermodel.Item
	err := m.inReadLock(func() error {
		for i := range m.items[username] {
			ret = append(ret, cloneItem(&m.items[username][i]))
		}
		return nil
	})
	return ret, err
}

// FetchRosterItem retrieves from storage a roster item entity.
func (m *Roster) FetchRosterItem(_ context.Context, username, jid string) (*rostermodel.Item, error) {
	var ret *rostermodel.Item
	err := m.inReadLock(func() error {
		for i := range m.items[username] {
			if m.items[username][i].JID == jid {
				ri := cloneItem(&m.items[username][i])
				ret = &ri
				return nil
			}
		}
		return nil
	})
	return ret, err
}

func cloneItem(ri *rostermodel.Item) rostermodel.Item {
	c := *ri
	if ri.Groups != nil {
		c.Groups = append([]string(nil), ri.Groups...)
	}
	return c
}
