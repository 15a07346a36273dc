/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package component

import "github.com/prometheus/client_golang/prometheus"

var handshakes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "presenced",
		Subsystem: "component",
		Name:      "handshakes_total",
		Help:      "Total external component handshakes by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(handshakes)
}

func reportHandshake(succeeded bool) {
	result := "failed"
	if succeeded {
		result = "succeeded"
	}
	handshakes.With(prometheus.Labels{"result": result}).Inc()
}
