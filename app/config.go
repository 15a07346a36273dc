/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package app

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/jackal-im/presenced/c2s"
	"github.com/jackal-im/presenced/cluster"
	"github.com/jackal-im/presenced/component"
	"github.com/jackal-im/presenced/host"
	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/multiplexer"
	"github.com/jackal-im/presenced/s2s"
	"github.com/jackal-im/presenced/storage"
	"gopkg.in/yaml.v2"
)

const defaultExpireInterval = time.Minute

// debugConfig represents debug server configuration.
type debugConfig struct {
	Port int `yaml:"port"`
}

// presencesConfig represents directed presence bookkeeping configuration.
type presencesConfig struct {
	ExpireInterval time.Duration
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *presencesConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := struct {
		ExpireInterval *int `yaml:"expire_interval"`
	}{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	if p.ExpireInterval == nil {
		return nil // defaulted by FromBuffer
	}
	if *p.ExpireInterval <= 0 {
		return fmt.Errorf("app.presencesConfig: expire_interval must be a positive value: %d", *p.ExpireInterval)
	}
	c.ExpireInterval = time.Duration(*p.ExpireInterval) * time.Second
	return nil
}

// Config represents a global configuration.
type Config struct {
	PIDFile     string              `yaml:"pid_path"`
	Debug       debugConfig         `yaml:"debug"`
	Logger      log.Config          `yaml:"logger"`
	Storage     storage.Config      `yaml:"storage"`
	Cluster     *cluster.Config     `yaml:"cluster"`
	Hosts       []host.Config       `yaml:"hosts"`
	Presences   presencesConfig     `yaml:"presences"`
	C2S         []c2s.Config        `yaml:"c2s"`
	S2S         *s2s.Config         `yaml:"s2s"`
	Components  []component.Config  `yaml:"components"`
	Multiplexer *multiplexer.Config `yaml:"multiplexer"`
}

// FromFile loads default global configuration from
// a specified file.
func (cfg *Config) FromFile(configFile string) error {
	b, err := ioutil.ReadFile(configFile)
	if err != nil {
		return err
	}
	return cfg.FromBuffer(bytes.NewBuffer(b))
}

// FromBuffer loads default global configuration from
// a specified byte buffer.
func (cfg *Config) FromBuffer(buf *bytes.Buffer) error {
	if err := yaml.Unmarshal(buf.Bytes(), cfg); err != nil {
		return err
	}
	if cfg.Presences.ExpireInterval == 0 {
		cfg.Presences.ExpireInterval = defaultExpireInterval
	}
	return nil
}
