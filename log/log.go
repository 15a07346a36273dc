/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package log

import (
	"sync"

	"github.com/jackal-im/presenced/log/zap"
	"go.uber.org/zap/zapcore"
)

// Logger represents a leveled logging backend.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	Sync() error
}

var (
	inst   Logger
	instMu sync.RWMutex
)

// Initialize builds the default zap backed logger from cfg.
// nodeID is attached to every record.
func Initialize(cfg *Config, nodeID string) error {
	l, err := zap.NewLogger(zapLevel(cfg.Level), cfg.LogPath, nodeID)
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set sets the default logger.
func Set(l Logger) {
	instMu.Lock()
	inst = l
	instMu.Unlock()
}

// Unset flushes and removes the default logger.
func Unset() {
	instMu.Lock()
	if inst != nil {
		_ = inst.Sync()
	}
	inst = nil
	instMu.Unlock()
}

func instance() Logger {
	instMu.RLock()
	defer instMu.RUnlock()
	return inst
}

// Debugf logs a 'debug' message.
func Debugf(format string, args ...interface{}) {
	if l := instance(); l != nil {
		l.Debugf(format, args...)
	}
}

// Infof logs an 'info' message.
func Infof(format string, args ...interface{}) {
	if l := instance(); l != nil {
		l.Infof(format, args...)
	}
}

// Warnf logs a 'warning' message.
func Warnf(format string, args ...interface{}) {
	if l := instance(); l != nil {
		l.Warnf(format, args...)
	}
}

// Errorf logs an 'error' message.
func Errorf(format string, args ...interface{}) {
	if l := instance(); l != nil {
		l.Errorf(format, args...)
	}
}

// Error logs an 'error' value.
func Error(err error) {
	if l := instance(); l != nil {
		l.Errorf("%v", err)
	}
}

// Fatalf logs a 'fatal' message. The application terminates after logging.
func Fatalf(format string, args ...interface{}) {
	if l := instance(); l != nil {
		l.Fatalf(format, args...)
	}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarningLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
