/*
 * Copyright (c) 2019 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package repository

import "context"

// Container groups every repository backed by the same storage.
type Container interface {
	User() User
	Roster() Roster

	// Close releases the backing store shared by every repository.
	Close(ctx context.Context) error

	// IsClusterCompatible reports whether several nodes may share this container.
	IsClusterCompatible() bool
}
