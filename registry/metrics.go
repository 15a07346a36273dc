/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package registry

import (
	"github.com/jackal-im/presenced/session"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registeredSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "presenced",
			Subsystem: "registry",
			Name:      "sessions",
			Help:      "Number of registered sessions by kind.",
		},
		[]string{"kind"},
	)
	conflictEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "presenced",
			Subsystem: "registry",
			Name:      "conflict_evictions_total",
			Help:      "Total sessions closed in favor of a newer one binding the same address.",
		},
	)
)

func init() {
	prometheus.MustRegister(registeredSessions, conflictEvictions)
}

func reportRegistered(kind session.Kind, delta float64) {
	registeredSessions.With(prometheus.Labels{"kind": kind.String()}).Add(delta)
}
