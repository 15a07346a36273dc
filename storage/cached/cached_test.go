/*
 * Copyright (c) 2019 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package cached

import (
	"context"
	"testing"

	"github.com/jackal-im/presenced/model"
	"github.com/jackal-im/presenced/model/rostermodel"
	memorystorage "github.com/jackal-im/presenced/storage/memory"
	"github.com/stretchr/testify/require"
)

func tUtilContainer(t *testing.T) (*User, *Roster, *memorystorage.User, *memorystorage.Roster) {
	memUser := memorystorage.NewUser()
	memRoster := memorystorage.NewRoster()
	u, err := NewUser(memUser, 16)
	require.Nil(t, err)
	r, err := NewRoster(memRoster, 16)
	require.Nil(t, err)
	return u, r, memUser, memRoster
}

func TestCachedUser_FetchAndUpsert(t *testing.T) {
	u, _, memUser, _ := tUtilContainer(t)
	ctx := context.Background()

	require.Nil(t, memUser.UpsertUser(ctx, &model.User{Username: "ortuman", Password: "1"}))

	usr, err := u.FetchUser(ctx, "ortuman")
	require.Nil(t, err)
	require.Equal(t, "1", usr.Password)
	require.True(t, u.cache.Contains("ortuman"))

	// served from cache
	memorystorage.EnableMockedError()
	usr, err = u.FetchUser(ctx, "ortuman")
	memorystorage.DisableMockedError()
	require.Nil(t, err)
	require.Equal(t, "1", usr.Password)

	require.Nil(t, u.UpsertUser(ctx, &model.User{Username: "ortuman", Password: "2"}))
	usr, _ = u.FetchUser(ctx, "ortuman")
	require.Equal(t, "2", usr.Password)

	// failed writes evict
	memorystorage.EnableMockedError()
	require.Equal(t, memorystorage.ErrMocked, u.UpsertUser(ctx, &model.User{Username: "ortuman", Password: "3"}))
	memorystorage.DisableMockedError()
	require.False(t, u.cache.Contains("ortuman"))

	usr, err = u.FetchUser(ctx, "romeo")
	require.Nil(t, err)
	require.Nil(t, usr)
	require.False(t, u.cache.Contains("romeo"))

	ok, err := u.UserExists(ctx, "ortuman")
	require.Nil(t, err)
	require.True(t, ok)
}

func TestCachedRoster_WriteThrough(t *testing.T) {
	_, r, _, memRoster := tUtilContainer(t)
	ctx := context.Background()

	ri := rostermodel.Item{Username: "ortuman", JID: "noelia@jackal.im", Groups: []string{"friends"}, Ask: rostermodel.AskSubscribe}
	require.Nil(t, r.UpsertRosterItem(ctx, &ri))

	stored, _ := memRoster.FetchRosterItem(ctx, "ortuman", "noelia@jackal.im")
	require.NotNil(t, stored)

	ri.Groups[0] = "family"
	cached, err := r.FetchRosterItem(ctx, "ortuman", "noelia@jackal.im")
	require.Nil(t, err)
	require.Equal(t, []string{"friends"}, cached.Groups)

	cached.Groups[0] = "work"
	again, _ := r.FetchRosterItem(ctx, "ortuman", "noelia@jackal.im")
	require.Equal(t, []string{"friends"}, again.Groups)

	require.Nil(t, r.DeleteRosterItem(ctx, "ortuman", "noelia@jackal.im"))
	gone, err := r.FetchRosterItem(ctx, "ortuman", "noelia@jackal.im")
	require.Nil(t, err)
	require.Nil(t, gone)

	items, err := r.FetchRosterItems(ctx, "ortuman")
	require.Nil(t, err)
	require.Len(t, items, 0)
}

func TestCachedContainer(t *testing.T) {
	c, err := New(memorystorage.New(), 0)
	require.Nil(t, err)
	require.NotNil(t, c.User())
	require.NotNil(t, c.Roster())
	require.False(t, c.IsClusterCompatible())
	require.Nil(t, c.Close(context.Background()))
}
