/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package multiplexer

import (
	"fmt"
	"time"

	"github.com/jackal-im/presenced/registry"
)

const (
	defaultTransportPort           = 5262
	defaultTransportConnectTimeout = 5
	defaultTransportKeepAlive      = 600
	defaultTransportMaxStanzaSize  = 131072
)

// TransportConfig represents a connection multiplexer listener transport configuration.
type TransportConfig struct {
	BindAddress string
	Port        int
	KeepAlive   time.Duration
}

type transportProxyType struct {
	BindAddress string `yaml:"bind_addr"`
	Port        int    `yaml:"port"`
	KeepAlive   int    `yaml:"keep_alive"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (t *TransportConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := transportProxyType{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	t.BindAddress = p.BindAddress
	t.Port = p.Port
	if t.Port == 0 {
		t.Port = defaultTransportPort
	}
	if p.KeepAlive == 0 {
		p.KeepAlive = defaultTransportKeepAlive
	}
	t.KeepAlive = time.Duration(p.KeepAlive) * time.Second
	return nil
}

// Config represents a connection multiplexer listener configuration.
type Config struct {
	Secret         string
	Transport      TransportConfig
	ConnectTimeout time.Duration
	MaxStanzaSize  int

	// ConflictLimit applies to the virtual client sessions hosted by multiplexers.
	ConflictLimit int
}

type configProxy struct {
	Secret         string          `yaml:"secret"`
	Transport      TransportConfig `yaml:"transport"`
	ConnectTimeout int             `yaml:"connect_timeout"`
	MaxStanzaSize  int             `yaml:"max_stanza_size"`
	ConflictLimit  int             `yaml:"conflict_limit"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (cfg *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	if len(p.Secret) == 0 {
		return fmt.Errorf("multiplexer.Config: secret must be specified")
	}
	cfg.Secret = p.Secret

	cfg.Transport = p.Transport
	if cfg.Transport.Port == 0 {
		cfg.Transport.Port = defaultTransportPort
		cfg.Transport.KeepAlive = time.Duration(defaultTransportKeepAlive) * time.Second
	}
	if p.ConnectTimeout < 0 {
		return fmt.Errorf("multiplexer.Config: connect_timeout must be a positive value")
	}
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = defaultTransportConnectTimeout
	}
	cfg.ConnectTimeout = time.Duration(p.ConnectTimeout) * time.Second

	cfg.MaxStanzaSize = p.MaxStanzaSize
	if cfg.MaxStanzaSize == 0 {
		cfg.MaxStanzaSize = defaultTransportMaxStanzaSize
	}
	if p.ConflictLimit < registry.NeverKick {
		return fmt.Errorf("multiplexer.Config: invalid conflict_limit: %d", p.ConflictLimit)
	}
	cfg.ConflictLimit = p.ConflictLimit
	return nil
}
