/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package multiplexer

import "github.com/prometheus/client_golang/prometheus"

var virtualSessions = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "presenced",
		Subsystem: "multiplexer",
		Name:      "virtual_sessions",
		Help:      "Client sessions currently hosted by connection multiplexers.",
	},
)

func init() {
	prometheus.MustRegister(virtualSessions)
}
