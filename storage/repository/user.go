/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package repository

import (
	"context"

	"github.com/jackal-im/presenced/model"
)

// User defines user repository operations.
type User interface {
	// UpsertUser inserts a new user entity into storage, or updates it in case it's been previously inserted.
	UpsertUser(ctx context.Context, user *model.User) error

	// FetchUser retrieves a user entity from storage. A nil user is returned when not found.
	FetchUser(ctx context.Context, username string) (*model.User, error)

	// UserExists tells whether or not a user exists within storage.
	UserExists(ctx context.Context, username string) (bool, error)
}
