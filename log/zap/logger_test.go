/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package zap

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLogger_WritesToFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "presenced-log")
	require.Nil(t, err)
	defer func() { _ = os.RemoveAll(dir) }()

	logPath := filepath.Join(dir, "presenced.log")

	l, err := NewLogger(zapcore.InfoLevel, logPath, "node-1")
	require.Nil(t, err)

	l.Debugf("hidden %d", 1)
	l.Infof("registered session: %s", "ortuman@jackal.im/balcony")
	_ = l.Sync()

	b, err := ioutil.ReadFile(logPath)
	require.Nil(t, err)

	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]interface{}
	require.Nil(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "info", rec["level"])
	require.Equal(t, "registered session: ortuman@jackal.im/balcony", rec["msg"])
	require.Equal(t, "node-1", rec["node_id"])
}
