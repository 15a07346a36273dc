/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package sql

import (
	"context"
	"database/sql/driver"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackal-im/presenced/model"
	"github.com/stretchr/testify/require"
)

func TestSQLStorage_UpsertUser(t *testing.T) {
	u := model.User{Username: "ortuman", Password: "1234"}

	args := []driver.Value{
		"ortuman", "1234", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		"1234", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
	}

	s, mock := newMock(MySQL)
	mock.ExpectExec("INSERT INTO users (.+) ON DUPLICATE KEY UPDATE (.+)").
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.User().UpsertUser(context.Background(), &u)
	require.Nil(t, err)
	require.Nil(t, mock.ExpectationsWereMet())

	s, mock = newMock(PgSQL)
	mock.ExpectExec("INSERT INTO users (.+) ON CONFLICT \\(username\\) DO UPDATE SET (.+)").
		WithArgs(args...).
		WillReturnError(errMocked)

	err = s.User().UpsertUser(context.Background(), &u)
	require.Equal(t, errMocked, err)
	require.Nil(t, mock.ExpectationsWereMet())
}

func TestSQLStorage_FetchUser(t *testing.T) {
	var columns = []string{"username", "password", "salt", "iteration_count", "password_scram_sha1", "password_scram_sha256"}

	s, mock := newMock(MySQL)
	mock.ExpectQuery("SELECT (.+) FROM users (.+)").
		WithArgs("ortuman").
		WillReturnRows(sqlmock.NewRows(columns))

	usr, err := s.User().FetchUser(context.Background(), "ortuman")
	require.Nil(t, mock.ExpectationsWereMet())
	require.Nil(t, err)
	require.Nil(t, usr)

	s, mock = newMock(MySQL)
	mock.ExpectQuery("SELECT (.+) FROM users (.+)").
		WithArgs("ortuman").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("ortuman", "", []byte("salt"), 4096, []byte("sha1"), []byte("sha256")))

	usr, err = s.User().FetchUser(context.Background(), "ortuman")
	require.Nil(t, mock.ExpectationsWereMet())
	require.Nil(t, err)
	require.NotNil(t, usr)
	require.Equal(t, "ortuman", usr.Username)
	require.Equal(t, 4096, usr.IterationCount)
	require.Equal(t, []byte("sha256"), usr.PasswordScramSHA256)

	s, mock = newMock(MySQL)
	mock.ExpectQuery("SELECT (.+) FROM users (.+)").
		WithArgs("ortuman").
		WillReturnError(errMocked)

	_, err = s.User().FetchUser(context.Background(), "ortuman")
	require.Nil(t, mock.ExpectationsWereMet())
	require.Equal(t, errMocked, err)
}

func TestSQLStorage_UserExists(t *testing.T) {
	s, mock := newMock(PgSQL)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM users WHERE username = \\$1").
		WithArgs("ortuman").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ok, err := s.User().UserExists(context.Background(), "ortuman")
	require.Nil(t, mock.ExpectationsWereMet())
	require.Nil(t, err)
	require.True(t, ok)

	s, mock = newMock(MySQL)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM users (.+)").
		WithArgs("ortuman").
		WillReturnError(errMocked)

	_, err = s.User().UserExists(context.Background(), "ortuman")
	require.Nil(t, mock.ExpectationsWereMet())
	require.Equal(t, errMocked, err)
}
