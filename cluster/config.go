/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package cluster

import (
	"os"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultBindPort     = 7946
	defaultTombstoneTTL = 5 * time.Minute
)

// Config represents a cluster configuration.
type Config struct {
	Name         string
	BindPort     int
	Hosts        []string
	TombstoneTTL time.Duration
}

type configProxy struct {
	Name         string   `yaml:"name"`
	BindPort     int      `yaml:"port"`
	Hosts        []string `yaml:"hosts"`
	TombstoneTTL int      `yaml:"tombstone_ttl"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	c.Name = p.Name
	if len(c.Name) == 0 {
		hn, err := os.Hostname()
		if err != nil {
			return errors.Wrap(err, "cluster: node name not set")
		}
		c.Name = hn
	}
	c.BindPort = p.BindPort
	if c.BindPort == 0 {
		c.BindPort = defaultBindPort
	}
	c.Hosts = p.Hosts
	c.TombstoneTTL = time.Duration(p.TombstoneTTL) * time.Second
	if c.TombstoneTTL == 0 {
		c.TombstoneTTL = defaultTombstoneTTL
	}
	return nil
}
