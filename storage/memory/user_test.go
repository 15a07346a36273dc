/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package memorystorage

import (
	"context"
	"testing"

	"github.com/jackal-im/presenced/model"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage_UserLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewUser()

	ok, err := s.UserExists(ctx, "juliet")
	require.Nil(t, err)
	require.False(t, ok)

	usr, err := s.FetchUser(ctx, "juliet")
	require.Nil(t, err)
	require.Nil(t, usr)

	require.Nil(t, s.UpsertUser(ctx, &model.User{Username: "juliet", PasswordScramSHA256: []byte("s256")}))

	ok, _ = s.UserExists(ctx, "juliet")
	require.True(t, ok)

	usr, _ = s.FetchUser(ctx, "juliet")
	require.NotNil(t, usr)
	require.Equal(t, []byte("s256"), usr.PasswordScramSHA256)

	// upsert replaces the stored credentials
	require.Nil(t, s.UpsertUser(ctx, &model.User{Username: "juliet", PasswordScramSHA256: []byte("rotated")}))
	usr, _ = s.FetchUser(ctx, "juliet")
	require.Equal(t, []byte("rotated"), usr.PasswordScramSHA256)
}

func TestMemoryStorage_UserMockedError(t *testing.T) {
	ctx := context.Background()
	s := NewUser()

	EnableMockedError()
	defer DisableMockedError()

	require.Equal(t, ErrMocked, s.UpsertUser(ctx, &model.User{Username: "romeo"}))
	_, err := s.UserExists(ctx, "romeo")
	require.Equal(t, ErrMocked, err)
	_, err = s.FetchUser(ctx, "romeo")
	require.Equal(t, ErrMocked, err)
}
