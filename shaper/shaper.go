/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package shaper

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Config represents a connection traffic shaper configuration.
// A zero rate leaves connections unshaped.
type Config struct {
	Rate  int
	Burst int
}

type configProxy struct {
	Rate  int `yaml:"rate"`
	Burst int `yaml:"burst"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	if p.Rate < 0 || p.Burst < 0 {
		return errors.New("shaper.Config: rate and burst must be positive values")
	}
	if p.Rate > 0 && p.Burst == 0 {
		p.Burst = p.Rate
	}
	c.Rate = p.Rate
	c.Burst = p.Burst
	return nil
}

// Shape returns conn limiting its read throughput to cfg bytes per second.
func Shape(conn net.Conn, cfg Config) net.Conn {
	if cfg.Rate == 0 {
		return conn
	}
	return &shapedConn{
		Conn: conn,
		lim:  rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
	}
}

type shapedConn struct {
	net.Conn
	lim *rate.Limiter
}

func (c *shapedConn) Read(b []byte) (int, error) {
	// never ask for more tokens than the bucket holds
	if len(b) > c.lim.Burst() {
		b = b[:c.lim.Burst()]
	}
	n, err := c.Conn.Read(b)
	if n > 0 {
		if wErr := c.lim.WaitN(context.Background(), n); wErr != nil {
			return n, wErr
		}
	}
	return n, err
}
