/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package sql

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackal-im/presenced/model"
)

type sqlUser struct {
	*Storage
}

func (s *sqlUser) UpsertUser(ctx context.Context, u *model.User) error {
	q := s.builder().Insert("users").
		Columns("username", "password", "salt", "iteration_count", "password_scram_sha1", "password_scram_sha256", "updated_at", "created_at").
		Values(u.Username, u.Password, u.Salt, u.IterationCount, u.PasswordScramSHA1, u.PasswordScramSHA256, s.nowExpr(), s.nowExpr()).
		Suffix(s.upsertSuffix(
			[]string{"username"},
			[]string{"password", "salt", "iteration_count", "password_scram_sha1", "password_scram_sha256"},
		), u.Password, u.Salt, u.IterationCount, u.PasswordScramSHA1, u.PasswordScramSHA256)

	_, err := q.RunWith(s.db).ExecContext(ctx)
	return err
}

func (s *sqlUser) FetchUser(ctx context.Context, username string) (*model.User, error) {
	q := s.builder().Select("username", "password", "salt", "iteration_count", "password_scram_sha1", "password_scram_sha256").
		From("users").
		Where(sq.Eq{"username": username})

	var usr model.User
	err := q.RunWith(s.db).QueryRowContext(ctx).Scan(
		&usr.Username,
		&usr.Password,
		&usr.Salt,
		&usr.IterationCount,
		&usr.PasswordScramSHA1,
		&usr.PasswordScramSHA256,
	)
	switch err {
	case nil:
		return &usr, nil
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, err
	}
}

func (s *sqlUser) UserExists(ctx context.Context, username string) (bool, error) {
	q := s.builder().Select("COUNT(*)").From("users").Where(sq.Eq{"username": username})

	var count int
	if err := q.RunWith(s.db).QueryRowContext(ctx).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
