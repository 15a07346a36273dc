/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"fmt"
	"time"

	"github.com/jackal-im/presenced/registry"
	"github.com/jackal-im/presenced/shaper"
	"github.com/jackal-im/presenced/transport"
	"github.com/jackal-im/presenced/transport/compress"
)

const (
	defaultTransportPort           = 5222
	defaultTransportConnectTimeout = 5
	defaultTransportKeepAlive      = 120
	defaultTransportMaxStanzaSize  = 32768
)

// CompressPolicy represents a stream compression policy.
type CompressPolicy int

const (
	// CompressDisabled never offers stream compression.
	CompressDisabled CompressPolicy = iota

	// CompressOptional offers stream compression once the channel has been secured.
	CompressOptional
)

// CompressConfig represents a server Stream compression configuration.
type CompressConfig struct {
	Policy CompressPolicy
	Level  compress.Level
}

type compressionProxyType struct {
	Policy string `yaml:"policy"`
	Level  string `yaml:"level"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *CompressConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := compressionProxyType{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	switch p.Policy {
	case "", "disabled":
		c.Policy = CompressDisabled
	case "optional":
		c.Policy = CompressOptional
	default:
		return fmt.Errorf("c2s.CompressConfig: unrecognized compression policy: %s", p.Policy)
	}
	lvl, ok := compress.ParseLevel(p.Level)
	if !ok {
		return fmt.Errorf("c2s.CompressConfig: unrecognized compression level: %s", p.Level)
	}
	if c.Policy == CompressOptional && lvl == compress.NoCompression {
		lvl = compress.DefaultCompression
	}
	c.Level = lvl
	return nil
}

// TransportConfig represents a client listener transport configuration.
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

// Config represents C2S listener configuration.
type Config struct {
	ID             string
	Transport      TransportConfig
	TLS            transport.TLSPolicy
	Compression    CompressConfig
	Shaper         shaper.Config
	ConnectTimeout time.Duration
	MaxStanzaSize  int
	ConflictLimit  int
	SASL           []string
}

type configProxy struct {
	ID             string              `yaml:"id"`
	Transport      TransportConfig     `yaml:"transport"`
	TLS            transport.TLSPolicy `yaml:"tls"`
	Compression    CompressConfig      `yaml:"compression"`
	Shaper         shaper.Config       `yaml:"shaper"`
	ConnectTimeout int                 `yaml:"connect_timeout"`
	MaxStanzaSize  int                 `yaml:"max_stanza_size"`
	ConflictLimit  *int                `yaml:"conflict_limit"`
	SASL           []string            `yaml:"sasl"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (cfg *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	if len(p.ID) == 0 {
		return fmt.Errorf("c2s.Config: empty listener id")
	}
	// validate SASL mechanisms
	for _, sasl := range p.SASL {
		switch sasl {
		case "plain", "scram_sha_1", "scram_sha_256":
			continue
		default:
			return fmt.Errorf("c2s.Config: unrecognized SASL mechanism: %s", sasl)
		}
	}
	cfg.ConflictLimit = 0
	if p.ConflictLimit != nil {
		if *p.ConflictLimit < registry.NeverKick {
			return fmt.Errorf("c2s.Config: invalid conflict_limit: %d", *p.ConflictLimit)
		}
		cfg.ConflictLimit = *p.ConflictLimit
	}
	cfg.ID = p.ID
	cfg.Transport = p.Transport
	if cfg.Transport.Port == 0 {
		cfg.Transport.Port = defaultTransportPort
		cfg.Transport.KeepAlive = time.Duration(defaultTransportKeepAlive) * time.Second
	}
	cfg.TLS = p.TLS
	cfg.Compression = p.Compression
	cfg.Shaper = p.Shaper

	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = defaultTransportConnectTimeout
	}
	cfg.ConnectTimeout = time.Duration(p.ConnectTimeout) * time.Second

	cfg.MaxStanzaSize = p.MaxStanzaSize
	if cfg.MaxStanzaSize == 0 {
		cfg.MaxStanzaSize = defaultTransportMaxStanzaSize
	}
	cfg.SASL = p.SASL
	if len(cfg.SASL) == 0 {
		cfg.SASL = []string{"scram_sha_256", "scram_sha_1", "plain"}
	}
	return nil
}
