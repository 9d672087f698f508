// Copyright 2025 Certen Protocol
//
// Simulation Metrics - Prometheus collectors for the core subsystems

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/saintthor/chainsim/pkg/network"
)

// Metrics bundles the simulation's Prometheus collectors. It implements
// network.DeliveryObserver so the router can account deliveries without
// knowing about Prometheus.
type Metrics struct {
	MessagesDelivered *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	RecordsValidated  *prometheus.CounterVec
	TransfersAttempted prometheus.Counter
	TransfersAccepted  prometheus.Counter
	TransfersConfirmed prometheus.Counter
	ForkWarnings       prometheus.Counter
	BlacklistSize      prometheus.Gauge
	CurrentTick        prometheus.Gauge
}

// New creates and registers the collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainsim",
			Name:      "messages_delivered_total",
			Help:      "Messages delivered to node inboxes, by type.",
		}, []string{"type"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainsim",
			Name:      "messages_dropped_total",
			Help:      "Messages discarded before delivery, by reason.",
		}, []string{"reason"}),
		RecordsValidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainsim",
			Name:      "records_validated_total",
			Help:      "Record validation outcomes, by result code.",
		}, []string{"code"}),
		TransfersAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainsim",
			Name:      "transfers_attempted_total",
			Help:      "Transfer attempts sampled by the payment controller.",
		}),
		TransfersAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainsim",
			Name:      "transfers_accepted_total",
			Help:      "Transfer records appended to a chain.",
		}),
		TransfersConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainsim",
			Name:      "transfers_confirmed_total",
			Help:      "Transfers that survived their confirmation window.",
		}),
		ForkWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainsim",
			Name:      "fork_warnings_total",
			Help:      "Fork warnings raised by validation.",
		}),
		BlacklistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainsim",
			Name:      "blacklist_size",
			Help:      "Creators currently blacklisted.",
		}),
		CurrentTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainsim",
			Name:      "current_tick",
			Help:      "Current logical tick.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.MessagesDelivered,
			m.MessagesDropped,
			m.RecordsValidated,
			m.TransfersAttempted,
			m.TransfersAccepted,
			m.TransfersConfirmed,
			m.ForkWarnings,
			m.BlacklistSize,
			m.CurrentTick,
		)
	}
	return m
}

// MessageDelivered implements network.DeliveryObserver.
func (m *Metrics) MessageDelivered(t network.MessageType) {
	m.MessagesDelivered.WithLabelValues(string(t)).Inc()
}

// MessageDropped implements network.DeliveryObserver.
func (m *Metrics) MessageDropped(reason network.DropReason) {
	m.MessagesDropped.WithLabelValues(string(reason)).Inc()
}
