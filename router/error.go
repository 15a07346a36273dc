/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package router

import "github.com/pkg/errors"

// Route failures. Handlers map each one to the stanza error bounced to the sender.
var (
	// ErrNotExistingAccount is returned when the addressed local user has no account.
	ErrNotExistingAccount = errors.New("router: account does not exist")

	// ErrResourceNotFound is returned when a full address names a resource with no bound session.
	ErrResourceNotFound = errors.New("router: resource not found")

	// ErrNotAuthenticated is returned when the addressed local user has no bound session at all.
	ErrNotAuthenticated = errors.New("router: user not authenticated")

	// ErrFailedRemoteConnect is returned when no verified outgoing server session could be obtained.
	ErrFailedRemoteConnect = errors.New("router: failed remote connection")
)
