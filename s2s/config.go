/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/shaper"
	"github.com/jackal-im/presenced/transport"
)

const (
	defaultTransportPort          = 5269
	defaultTransportKeepAlive     = 600
	defaultDialTimeout            = 15
	defaultConnectTimeout         = 5
	defaultRequestTimeout         = 10
	defaultTransportMaxStanzaSize = 131072
)

// TransportConfig represents s2s listener transport configuration.
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

// DialbackConfig represents server dialback configuration.
type DialbackConfig struct {
	Enabled bool

	// Secret is used to generate and verify dialback keys.
	// Every node of a cluster must share the same value.
	Secret string

	// Fallback keeps dialback as an authentication option once SASL EXTERNAL fails.
	Fallback bool

	// MultipleDomains allows an incoming connection to validate more than one originating domain.
	MultipleDomains bool
}

type dialbackProxyType struct {
	Enabled         *bool  `yaml:"enabled"`
	Secret          string `yaml:"secret"`
	Fallback        *bool  `yaml:"fallback"`
	MultipleDomains *bool  `yaml:"multiple_domains"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *DialbackConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := dialbackProxyType{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	*c = defaultDialbackConfig()
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.Fallback != nil {
		c.Fallback = *p.Fallback
	}
	if p.MultipleDomains != nil {
		c.MultipleDomains = *p.MultipleDomains
	}
	if len(p.Secret) > 0 {
		c.Secret = p.Secret
	}
	return nil
}

func defaultDialbackConfig() DialbackConfig {
	return DialbackConfig{
		Enabled:         true,
		Secret:          uuid.New().String(),
		Fallback:        true,
		MultipleDomains: true,
	}
}

// Config represents a server-to-server connection manager configuration.
type Config struct {
	Transport      TransportConfig
	Shaper         shaper.Config
	TLS            transport.TLSPolicy
	DialTimeout    time.Duration
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	MaxStanzaSize  int
	Dialback       DialbackConfig
}

type configProxy struct {
	Transport      TransportConfig     `yaml:"transport"`
	Shaper         shaper.Config       `yaml:"shaper"`
	TLS            transport.TLSPolicy `yaml:"tls"`
	DialTimeout    int                 `yaml:"dial_timeout"`
	ConnectTimeout int                 `yaml:"connect_timeout"`
	RequestTimeout int                 `yaml:"request_timeout"`
	MaxStanzaSize  int                 `yaml:"max_stanza_size"`
	Dialback       *DialbackConfig     `yaml:"dialback"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (cfg *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	cfg.Transport = p.Transport
	cfg.Shaper = p.Shaper
	if cfg.Transport.Port == 0 {
		cfg.Transport.Port = defaultTransportPort
		cfg.Transport.KeepAlive = time.Duration(defaultTransportKeepAlive) * time.Second
	}
	cfg.TLS = p.TLS

	if p.DialTimeout == 0 {
		p.DialTimeout = defaultDialTimeout
	}
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = defaultConnectTimeout
	}
	if p.RequestTimeout == 0 {
		p.RequestTimeout = defaultRequestTimeout
	}
	if p.DialTimeout < 0 || p.ConnectTimeout < 0 || p.RequestTimeout < 0 {
		return fmt.Errorf("s2s.Config: timeouts must be positive values")
	}
	cfg.DialTimeout = time.Duration(p.DialTimeout) * time.Second
	cfg.ConnectTimeout = time.Duration(p.ConnectTimeout) * time.Second
	cfg.RequestTimeout = time.Duration(p.RequestTimeout) * time.Second

	cfg.MaxStanzaSize = p.MaxStanzaSize
	if cfg.MaxStanzaSize == 0 {
		cfg.MaxStanzaSize = defaultTransportMaxStanzaSize
	}
	if p.Dialback != nil {
		cfg.Dialback = *p.Dialback
	} else {
		cfg.Dialback = defaultDialbackConfig()
		log.Warnf("s2s: no dialback secret configured, using a random one")
	}
	if cfg.TLS == transport.TLSDisabled && !cfg.Dialback.Enabled {
		return fmt.Errorf("s2s.Config: no authentication method left with both TLS and dialback disabled")
	}
	return nil
}
