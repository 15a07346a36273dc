/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package sql

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackal-im/presenced/model/rostermodel"
)

const groupsSeparator = ";"

var rosterItemColumns = []string{"username", "jid", "name", "contact_groups", "subscription", "ask", "recv"}

type sqlRoster struct {
	*Storage
}

func (s *sqlRoster) UpsertRosterItem(ctx context.Context, ri *rostermodel.Item) error {
	groups := strings.Join(ri.Groups, groupsSeparator)
	sub := ri.Subscription.String()
	ask := ri.Ask.String()
	recv := ri.Recv.String()

	q := s.builder().Insert("roster_items").
		Columns(append(rosterItemColumns, "updated_at", "created_at")...).
		Values(ri.Username, ri.JID, ri.Name, groups, sub, ask, recv, s.nowExpr(), s.nowExpr()).
		Suffix(s.upsertSuffix(
			[]string{"username", "jid"},
			[]string{"name", "contact_groups", "subscription", "ask", "recv"},
		), ri.Name, groups, sub, ask, recv)

	_, err := q.RunWith(s.db).ExecContext(ctx)
	return err
}

func (s *sqlRoster) DeleteRosterItem(ctx context.Context, username, jid string) error {
	_, err := s.builder().Delete("roster_items").
		Where(sq.And{sq.Eq{"username": username}, sq.Eq{"jid": jid}}).
		RunWith(s.db).ExecContext(ctx)
	return err
}

func (s *sqlRoster) FetchRosterItems(ctx context.Context, username string) ([]rostermodel.Item, error) {
	q := s.builder().Select(rosterItemColumns...).
		From("roster_items").
		Where(sq.Eq{"username": username}).
		OrderBy("created_at DESC")

	rows, err := q.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items, err := scanRosterItemEntities(rows)
	if err != nil {
		return nil, err
	}
	return items, rows.Err()
}

func (s *sqlRoster) FetchRosterItem(ctx context.Context, username, jid string) (*rostermodel.Item, error) {
	q := s.builder().Select(rosterItemColumns...).
		From("roster_items").
		Where(sq.And{sq.Eq{"username": username}, sq.Eq{"jid": jid}})

	var ri rostermodel.Item
	err := scanRosterItemEntity(&ri, q.RunWith(s.db).QueryRowContext(ctx))
	switch err {
	case nil:
		return &ri, nil
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, err
	}
}

func scanRosterItemEntity(ri *rostermodel.Item, scanner rowScanner) error {
	var groups, sub, ask, recv string
	if err := scanner.Scan(&ri.Username, &ri.JID, &ri.Name, &groups, &sub, &ask, &recv); err != nil {
		return err
	}
	var err error
	if ri.Subscription, err = rostermodel.ParseSubscription(sub); err != nil {
		return err
	}
	if ri.Ask, err = rostermodel.ParseAsk(ask); err != nil {
		return err
	}
	if ri.Recv, err = rostermodel.ParseRecv(recv); err != nil {
		return err
	}
	if len(groups) > 0 {
		ri.Groups = strings.Split(groups, groupsSeparator)
	}
	return nil
}

func scanRosterItemEntities(scanner rowsScanner) ([]rostermodel.Item, error) {
	var ret []rostermodel.Item
	for scanner.Next() {
		var ri rostermodel.Item
		if err := scanRosterItemEntity(&ri, scanner); err != nil {
			return nil, err
		}
		ret = append(ret, ri)
	}
	return ret, nil
}
