/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package s2s

import "github.com/prometheus/client_golang/prometheus"

var (
	incomingConnections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "presenced",
			Subsystem: "s2s",
			Name:      "incoming_connections_total",
			Help:      "Total accepted incoming server connections.",
		},
	)
	outgoingConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presenced",
			Subsystem: "s2s",
			Name:      "outgoing_connections_total",
			Help:      "Total outgoing server connection attempts by result.",
		},
		[]string{"result"},
	)
	dialbackResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presenced",
			Subsystem: "s2s",
			Name:      "dialback_results_total",
			Help:      "Total dialback validations answered on incoming connections by type.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(incomingConnections, outgoingConnections, dialbackResults)
}

func reportOutgoingConnection(verified bool) {
	result := "failed"
	if verified {
		result = "verified"
	}
	outgoingConnections.With(prometheus.Labels{"result": result}).Inc()
}

func reportDialbackResult(typ string) {
	dialbackResults.With(prometheus.Labels{"type": typ}).Inc()
}
