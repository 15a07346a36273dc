/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package app

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/jackal-im/presenced/version"
	"github.com/stretchr/testify/require"
)

type writerBuffer struct {
	mu  sync.RWMutex
	buf *bytes.Buffer
}

func newWriterBuffer() *writerBuffer {
	return &writerBuffer{buf: bytes.NewBuffer(nil)}
}

func (wb *writerBuffer) Write(p []byte) (int, error) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return wb.buf.Write(p)
}

func (wb *writerBuffer) String() string {
	wb.mu.RLock()
	defer wb.mu.RUnlock()
	return wb.buf.String()
}

func TestApplication_EmptyArgs(t *testing.T) {
	require.NotNil(t, New(nil, nil).Run())
}

func TestApplication_ShowUsage(t *testing.T) {
	w := newWriterBuffer()
	require.Nil(t, New(w, []string{"./presenced", "-h"}).Run())
	require.Equal(t, expectedUsageString(), w.String())
}

func TestApplication_PrintVersion(t *testing.T) {
	w := newWriterBuffer()
	require.Nil(t, New(w, []string{"./presenced", "--version"}).Run())
	require.Equal(t, fmt.Sprintf("presenced version: %v\n", version.ApplicationVersion), w.String())
}

func TestApplication_MissingConfig(t *testing.T) {
	w := newWriterBuffer()
	require.NotNil(t, New(w, []string{"./presenced", "--config=../testdata/not_found.yml"}).Run())
}

func TestApplication_Run(t *testing.T) {
	w := newWriterBuffer()
	args := []string{"./presenced", "--config=../testdata/config_basic.yml"}
	ap := New(w, args)
	go func() {
		time.Sleep(time.Millisecond * 1500) // wait until initialized
		ap.waitStopCh <- syscall.SIGTERM
	}()
	ap.shutDownWaitSecs = time.Duration(2) * time.Second // wait only two seconds
	require.Nil(t, ap.Run())

	require.NotNil(t, ap.s2s)
	require.NotNil(t, ap.comps)
	require.NotNil(t, ap.mux)

	_ = os.RemoveAll(".cert/")

	// make sure pid and log files had been created
	_, err := os.Stat("test.presenced.pid")
	require.False(t, os.IsNotExist(err))
	_ = os.Remove("test.presenced.pid")

	_, err = os.Stat("test.presenced.log")
	require.False(t, os.IsNotExist(err))
	_ = os.Remove("test.presenced.log")
}

func TestConfig_FromBuffer(t *testing.T) {
	var cfg Config
	require.Nil(t, cfg.FromBuffer(bytes.NewBufferString(`
storage:
  type: memory
c2s:
  - id: default
`)))
	require.Equal(t, defaultExpireInterval, cfg.Presences.ExpireInterval)
	require.Nil(t, cfg.Cluster)
	require.Nil(t, cfg.S2S)
	require.Nil(t, cfg.Multiplexer)
	require.Len(t, cfg.C2S, 1)

	require.NotNil(t, cfg.FromBuffer(bytes.NewBufferString(`logger: {level: verbose}`)))

	var cfg2 Config
	require.Nil(t, cfg2.FromBuffer(bytes.NewBufferString(`presences: {expire_interval: 30}`)))
	require.Equal(t, 30*time.Second, cfg2.Presences.ExpireInterval)

	var cfg3 Config
	require.NotNil(t, cfg3.FromBuffer(bytes.NewBufferString(`presences: {expire_interval: -5}`)))

	var cfg4 Config
	require.NotNil(t, cfg4.FromBuffer(bytes.NewBufferString(`presences: {expire_interval: 0}`)))
}

func expectedUsageString() string {
	var r string
	for i := range logoStr {
		r += fmt.Sprintf("%s\n", logoStr[i])
	}
	r += fmt.Sprintf("%s\n", usageStr)
	return r
}
