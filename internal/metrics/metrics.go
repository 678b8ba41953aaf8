// Package metrics declares the process-wide Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsCorrelated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callflow_events_correlated_total",
		Help: "ARI events successfully mapped to a trigger event.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callflow_events_dropped_total",
		Help: "ARI events dropped before dispatch (no call id or denied).",
	})

	EventsUnrouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callflow_events_unrouted_total",
		Help: "Trigger events whose call id matched no live room.",
	})

	CallsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callflow_calls_admitted_total",
		Help: "Calls admitted by the dispatcher.",
	})

	CallsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callflow_calls_rejected_total",
		Help: "Call admissions rejected (duplicate or admission closed).",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callflow_active_rooms",
		Help: "Rooms currently live in the registry.",
	})

	ARIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callflow_ari_requests_total",
		Help: "ARI REST requests by outcome.",
	}, []string{"outcome"})
)
