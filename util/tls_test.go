/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package util

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCertificate(t *testing.T) {
	dir, err := ioutil.TempDir("", "presenced-cert")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	t.Run("Valid", func(t *testing.T) {
		keyFile := filepath.Join(dir, "server.key")
		certFile := filepath.Join(dir, "server.crt")
		require.Nil(t, GenerateSelfSignedCertificate(keyFile, certFile, "jackal.im"))

		cer, err := LoadCertificate(keyFile, certFile, "jackal.im")
		require.Nil(t, err)
		require.NotEmpty(t, cer.Certificate)
	})
	t.Run("Self-Signed", func(t *testing.T) {
		prev := SelfSignedCertFolder
		SelfSignedCertFolder = filepath.Join(dir, "self")
		defer func() { SelfSignedCertFolder = prev }()

		cer, err := LoadCertificate("", "", "localhost")
		require.Nil(t, err)
		require.NotEmpty(t, cer.Certificate)
	})
	t.Run("Failed", func(t *testing.T) {
		_, err := LoadCertificate("", "", "jackal.im")
		require.NotNil(t, err)
		require.Equal(t, "must specify a private key and a server certificate for the domain 'jackal.im'", err.Error())
	})
}
