/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package zap

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger represents a zap logger implementation.
type Logger struct {
	lg       *zap.Logger
	sgLogger *zap.SugaredLogger
}

// NewLogger creates an initialized zap logger instance writing to stdout
// and, when set, to outputPath as well.
func NewLogger(level zapcore.Level, outputPath string, nodeID string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true
	cfg.Sampling = nil
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	if len(nodeID) > 0 {
		cfg.InitialFields = map[string]interface{}{"node_id": nodeID}
	}
	cfg.OutputPaths = []string{"stdout"}
	if len(outputPath) > 0 {
		cfg.OutputPaths = append(cfg.OutputPaths, outputPath)
	}
	lg, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}
	return &Logger{lg: lg, sgLogger: lg.Sugar()}, nil
}

// Debugf uses fmt.Sprintf to log a `debug` templated message.
func (l *Logger) Debugf(msg string, args ...interface{}) { l.sgLogger.Debugf(msg, args...) }

// Infof uses fmt.Sprintf to log an `info` templated message.
func (l *Logger) Infof(msg string, args ...interface{}) { l.sgLogger.Infof(msg, args...) }

// Warnf uses fmt.Sprintf to log a `warn` templated message.
func (l *Logger) Warnf(msg string, args ...interface{}) { l.sgLogger.Warnf(msg, args...) }

// Errorf uses fmt.Sprintf to log an `error` templated message.
func (l *Logger) Errorf(msg string, args ...interface{}) { l.sgLogger.Errorf(msg, args...) }

// Fatalf uses fmt.Sprintf to log a `fatal` templated message and then exits.
func (l *Logger) Fatalf(msg string, args ...interface{}) { l.sgLogger.Fatalf(msg, args...) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.lg.Sync() }
