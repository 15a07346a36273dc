/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package host

import (
	"crypto/tls"

	"github.com/jackal-im/presenced/util"
	"github.com/pkg/errors"
)

const localhostDomain = "localhost"

// TLSConfig points at the PEM files of a host certificate.
type TLSConfig struct {
	CertFile    string `yaml:"cert_path"`
	PrivKeyFile string `yaml:"privkey_path"`
}

func (tc TLSConfig) isSet() bool {
	return tc.CertFile != "" && tc.PrivKeyFile != ""
}

// Config describes a locally served domain.
// A host configured without certificate material cannot offer TLS,
// except localhost which gets a self-signed certificate.
type Config struct {
	Name        string
	Certificate *tls.Certificate
}

type configProxy struct {
	Name string    `yaml:"name"`
	TLS  TLSConfig `yaml:"tls"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var p configProxy
	if err := unmarshal(&p); err != nil {
		return err
	}
	if p.Name == "" {
		return errors.New("host: empty host name")
	}
	c.Name = p.Name
	if !p.TLS.isSet() && p.Name != localhostDomain {
		return nil
	}
	cer, err := util.LoadCertificate(p.TLS.PrivKeyFile, p.TLS.CertFile, p.Name)
	if err != nil {
		return errors.Wrapf(err, "host: %s certificate", p.Name)
	}
	c.Certificate = &cer
	return nil
}
