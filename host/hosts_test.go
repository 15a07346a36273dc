/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package host

import (
	"crypto/tls"
	"io/ioutil"
	"os"
	"testing"

	"github.com/jackal-im/presenced/util"
	"github.com/stretchr/testify/require"
)

func TestHosts_New(t *testing.T) {
	dir, err := ioutil.TempDir("", "presenced-hosts")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	prev := util.SelfSignedCertFolder
	util.SelfSignedCertFolder = dir
	defer func() { util.SelfSignedCertFolder = prev }()

	hs, err := New(nil)
	require.Nil(t, err)
	require.True(t, hs.IsLocalHost("localhost"))
	require.False(t, hs.IsLocalHost("jackal.im"))
	require.Equal(t, "localhost", hs.DefaultHostName())
	require.True(t, hs.HasCertificates())
	require.Len(t, hs.Certificates(), 1)

	hs, err = New([]Config{{Name: "jackal.im"}, {Name: "jabber.org", Certificate: &tls.Certificate{}}})
	require.Nil(t, err)
	require.Equal(t, "jackal.im", hs.DefaultHostName())
	require.Equal(t, []string{"jabber.org", "jackal.im"}, hs.HostNames())
	require.False(t, hs.HasCertificates())
	require.Len(t, hs.Certificates(), 1)
}
