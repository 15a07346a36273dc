/*
 * Copyright (c) 2019 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package memorystorage

import (
	"context"

	"github.com/jackal-im/presenced/storage/repository"
)

type memoryContainer struct {
	user   *User
	roster *Roster
}

// New returns an in memory repository container.
func New() repository.Container {
	return &memoryContainer{
		user:   NewUser(),
		roster: NewRoster(),
	}
}

func (c *memoryContainer) User() repository.User     { return c.user }
func (c *memoryContainer) Roster() repository.Roster { return c.roster }

func (c *memoryContainer) Close(_ context.Context) error { return nil }

func (c *memoryContainer) IsClusterCompatible() bool { return false }
