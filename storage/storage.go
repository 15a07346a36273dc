/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package storage

import (
	"fmt"

	"github.com/jackal-im/presenced/storage/cached"
	memorystorage "github.com/jackal-im/presenced/storage/memory"
	"github.com/jackal-im/presenced/storage/repository"
	"github.com/jackal-im/presenced/storage/sql"
)

// New initializes configured storage type and returns associated container.
func New(cfg *Config) (repository.Container, error) {
	var c repository.Container
	switch cfg.Type {
	case Memory:
		c = memorystorage.New()
	case SQL:
		s, err := sql.New(cfg.SQL)
		if err != nil {
			return nil, err
		}
		c = s
	default:
		return nil, fmt.Errorf("storage: unrecognized storage type: %d", cfg.Type)
	}
	if !cfg.Cache.Enabled {
		return c, nil
	}
	return cached.New(c, cfg.Cache.Size)
}
