/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackal-im/presenced/log"
	"github.com/sony/gobreaker"
)

const defaultServerPort = 5269

type dialer struct {
	timeout     time.Duration
	srvResolve  func(service, proto, name string) (cname string, addrs []*net.SRV, err error)
	dialContext func(ctx context.Context, network, address string) (net.Conn, error)

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newDialer(timeout time.Duration) *dialer {
	var d net.Dialer
	return &dialer{
		timeout:     timeout,
		srvResolve:  net.LookupSRV,
		dialContext: d.DialContext,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

// dial connects to the server in charge of remoteDomain.
// Consecutive failures against the same domain open its circuit for a while.
func (d *dialer) dial(ctx context.Context, remoteDomain string) (net.Conn, error) {
	conn, err := d.breaker(remoteDomain).Execute(func() (interface{}, error) {
		return d.dialTargets(ctx, remoteDomain)
	})
	if err != nil {
		return nil, err
	}
	return conn.(net.Conn), nil
}

func (d *dialer) dialTargets(ctx context.Context, remoteDomain string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var lastErr error
	for _, target := range d.targets(remoteDomain) {
		conn, err := d.dialContext(ctx, "tcp", target)
		if err == nil {
			return conn, nil
		}
		log.Warnf("s2s: failed to dial %s (%s): %v", remoteDomain, target, err)
		lastErr = err
	}
	return nil, lastErr
}

// targets returns the addresses to try in order, falling back to the domain itself.
func (d *dialer) targets(remoteDomain string) []string {
	_, addrs, err := d.srvResolve("xmpp-server", "tcp", remoteDomain)
	if err != nil {
		log.Debugf("s2s: srv lookup error: %v", err)
	}
	if err != nil || len(addrs) == 0 || (len(addrs) == 1 && addrs[0].Target == ".") {
		return []string{net.JoinHostPort(remoteDomain, strconv.Itoa(defaultServerPort))}
	}
	targets := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		host := strings.TrimSuffix(addr.Target, ".")
		targets = append(targets, net.JoinHostPort(host, strconv.Itoa(int(addr.Port))))
	}
	return targets
}

func (d *dialer) breaker(remoteDomain string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := d.breakers[remoteDomain]
	if cb == nil {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    remoteDomain,
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Infof("s2s: dial circuit for %s changed from %s to %s", name, from, to)
			},
		})
		d.breakers[remoteDomain] = cb
	}
	return cb
}
