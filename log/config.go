/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package log

import (
	"strings"

	"github.com/pkg/errors"
)

// Level is the minimum severity a logger emits.
type Level int

// Supported levels, from most to least verbose.
const (
	DebugLevel Level = iota
	InfoLevel
	WarningLevel
	ErrorLevel
	FatalLevel
)

var levelNames = map[string]Level{
	"":        InfoLevel,
	"debug":   DebugLevel,
	"info":    InfoLevel,
	"warn":    WarningLevel,
	"warning": WarningLevel,
	"error":   ErrorLevel,
	"fatal":   FatalLevel,
}

// Config holds the level and output file of the process logger.
// An empty LogPath logs to stdout.
type Config struct {
	Level   Level
	LogPath string
}

type configProxyType struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxyType{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	lvl, ok := levelNames[strings.ToLower(p.Level)]
	if !ok {
		return errors.Errorf("log: unrecognized level %q", p.Level)
	}
	c.Level = lvl
	c.LogPath = p.LogPath
	return nil
}
