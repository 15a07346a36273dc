/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package log

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"
)

type testLogger struct {
	mu     sync.Mutex
	lines  []string
	synced bool
}

func (l *testLogger) add(level, format string, args ...interface{}) {
	l.mu.Lock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *testLogger) Debugf(format string, args ...interface{}) { l.add("DBG", format, args...) }
func (l *testLogger) Infof(format string, args ...interface{})  { l.add("INF", format, args...) }
func (l *testLogger) Warnf(format string, args ...interface{})  { l.add("WRN", format, args...) }
func (l *testLogger) Errorf(format string, args ...interface{}) { l.add("ERR", format, args...) }
func (l *testLogger) Fatalf(format string, args ...interface{}) { l.add("FTL", format, args...) }
func (l *testLogger) Sync() error                               { l.synced = true; return nil }

func TestLog_Facade(t *testing.T) {
	tl := &testLogger{}
	Set(tl)

	Debugf("debug %d", 1)
	Infof("info %s", "two")
	Warnf("warn")
	Errorf("error")
	Error(errors.New("boom"))

	Unset()
	require.True(t, tl.synced)

	// not forwarded once unset
	Infof("lost")

	require.Equal(t, []string{"DBG debug 1", "INF info two", "WRN warn", "ERR error", "ERR boom"}, tl.lines)
}

func TestLog_ZapLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, zapLevel(DebugLevel))
	require.Equal(t, zapcore.InfoLevel, zapLevel(InfoLevel))
	require.Equal(t, zapcore.WarnLevel, zapLevel(WarningLevel))
	require.Equal(t, zapcore.ErrorLevel, zapLevel(ErrorLevel))
	require.Equal(t, zapcore.FatalLevel, zapLevel(FatalLevel))
}

func TestLoggerConfig(t *testing.T) {
	c := Config{}
	err := yaml.Unmarshal([]byte("{level: debug}"), &c)
	require.Nil(t, err)
	require.Equal(t, DebugLevel, c.Level)

	err = yaml.Unmarshal([]byte("{level: info}"), &c)
	require.Nil(t, err)
	require.Equal(t, InfoLevel, c.Level)

	err = yaml.Unmarshal([]byte("{level: warning}"), &c)
	require.Nil(t, err)
	require.Equal(t, WarningLevel, c.Level)

	err = yaml.Unmarshal([]byte("{level: error}"), &c)
	require.Nil(t, err)
	require.Equal(t, ErrorLevel, c.Level)

	err = yaml.Unmarshal([]byte("{level: fatal}"), &c)
	require.Nil(t, err)
	require.Equal(t, FatalLevel, c.Level)

	err = yaml.Unmarshal([]byte("{level: invalid}"), &c)
	require.NotNil(t, err)

	err = yaml.Unmarshal([]byte("{log_path: presenced.log}"), &c)
	require.Nil(t, err)
	require.Equal(t, "presenced.log", c.LogPath)
	require.Equal(t, InfoLevel, c.Level)
}
