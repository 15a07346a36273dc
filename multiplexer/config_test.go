/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package multiplexer

import (
	"testing"
	"time"

	"github.com/jackal-im/presenced/registry"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestConfig_Parse(t *testing.T) {
	var cfg Config
	require.Nil(t, yaml.Unmarshal([]byte(`secret: mux5ecret`), &cfg))
	require.Equal(t, "mux5ecret", cfg.Secret)
	require.Equal(t, defaultTransportPort, cfg.Transport.Port)
	require.Equal(t, time.Second*defaultTransportConnectTimeout, cfg.ConnectTimeout)
	require.Equal(t, 0, cfg.ConflictLimit)

	require.Nil(t, yaml.Unmarshal([]byte(`
secret: mux5ecret
transport:
  bind_addr: 127.0.0.1
  port: 5263
conflict_limit: -1
max_stanza_size: 4096
`), &cfg))
	require.Equal(t, "127.0.0.1", cfg.Transport.BindAddress)
	require.Equal(t, 5263, cfg.Transport.Port)
	require.Equal(t, time.Second*defaultTransportKeepAlive, cfg.Transport.KeepAlive)
	require.Equal(t, registry.NeverKick, cfg.ConflictLimit)
	require.Equal(t, 4096, cfg.MaxStanzaSize)
}

func TestConfig_Invalid(t *testing.T) {
	var cfg Config
	require.NotNil(t, yaml.Unmarshal([]byte(`port: 5262`), &cfg))
	require.NotNil(t, yaml.Unmarshal([]byte("secret: s\nconnect_timeout: -2"), &cfg))
	require.NotNil(t, yaml.Unmarshal([]byte("secret: s\nconflict_limit: -3"), &cfg))
}
