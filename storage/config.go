/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package storage

import (
	"fmt"

	"github.com/jackal-im/presenced/storage/sql"
	"github.com/pkg/errors"
)

const defaultPoolSize = 16

// Type represents a storage manager type.
type Type int

const (
	// Memory represents an in-memory storage type.
	Memory Type = iota

	// SQL represents a SQL backed storage type.
	SQL
)

// CacheConfig represents the read cache configuration.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	Size    int  `yaml:"size"`
}

// Config represents an storage manager configuration.
type Config struct {
	Type  Type
	SQL   *sql.Config
	Cache CacheConfig
}

type storageProxyType struct {
	Type   string      `yaml:"type"`
	MySQL  *sql.Config `yaml:"mysql"`
	PgSQL  *sql.Config `yaml:"pgsql"`
	SQLite *sql.Config `yaml:"sqlite"`
	Cache  CacheConfig `yaml:"cache"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := storageProxyType{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	c.Cache = p.Cache

	switch p.Type {
	case "mysql":
		if p.MySQL == nil {
			return errors.New("storage.Config: couldn't read MySQL configuration")
		}
		c.Type = SQL
		c.SQL = p.MySQL
		c.SQL.Dialect = sql.MySQL

	case "pgsql":
		if p.PgSQL == nil {
			return errors.New("storage.Config: couldn't read PostgreSQL configuration")
		}
		c.Type = SQL
		c.SQL = p.PgSQL
		c.SQL.Dialect = sql.PgSQL

	case "sqlite":
		if p.SQLite == nil {
			return errors.New("storage.Config: couldn't read SQLite configuration")
		}
		if len(p.SQLite.Path) == 0 {
			return errors.New("storage.Config: SQLite path must be specified")
		}
		c.Type = SQL
		c.SQL = p.SQLite
		c.SQL.Dialect = sql.SQLite

	case "memory":
		c.Type = Memory

	case "":
		return errors.New("storage.Config: unspecified storage type")

	default:
		return fmt.Errorf("storage.Config: unrecognized storage type: %s", p.Type)
	}
	if c.SQL != nil && c.SQL.PoolSize == 0 {
		c.SQL.PoolSize = defaultPoolSize
	}
	return nil
}
