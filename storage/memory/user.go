/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package memorystorage

import (
	"context"

	"github.com/jackal-im/presenced/model"
)

// User represents an in memory user repository.
type User struct {
	memoryStorage
	users map[string]model.User
}

// NewUser returns an empty in memory user repository.
func NewUser() *User {
	return &User{users: make(map[string]model.User)}
}

// UpsertUser inserts a new user entity into storage, or updates it in case it's been previously inserted.
func (m *User) UpsertUser(_ context.Context, user *model.User) error {
	return m.inWriteLock(func() error {
		m.users[user.Username] = *user
		return nil
	})
}

// FetchUser retrieves from storage a user entity.
func (m *User) FetchUser(_ context.Context, username string) (*model.User, error) {
	var ret *model.User
	err := m.inReadLock(func() error {
		if u, ok := m.users[username]; ok {
			ret = &u
		}
		return nil
	})
	return ret, err
}

// UserExists returns whether or not a user exists within storage.
func (m *User) UserExists(_ context.Context, username string) (bool, error) {
	var ok bool
	err := m.inReadLock(func() error {
		_, ok = m.users[username]
		return nil
	})
	return ok, err
}
