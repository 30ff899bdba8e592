package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedNodes tracks the number of live node channels
	ConnectedNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "botgrid_connected_nodes",
		Help: "Number of node agents with an open channel",
	})

	// HeartbeatsTotal counts heartbeat frames by node
	HeartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botgrid_heartbeats_total",
		Help: "Heartbeat frames received",
	}, []string{"node"})

	// CommandsTotal counts node commands by type and outcome
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botgrid_node_commands_total",
		Help: "Commands dispatched to node agents",
	}, []string{"command", "outcome"})

	// CommandDuration observes round-trip time of node commands
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "botgrid_node_command_duration_seconds",
		Help:    "Round-trip time of node commands",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"command"})

	// MigrationsTotal counts tenant migrations by outcome
	MigrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botgrid_migrations_total",
		Help: "Tenant migrations",
	}, []string{"outcome"})

	// MigrationDowntime observes per-tenant downtime during migration
	MigrationDowntime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "botgrid_migration_downtime_seconds",
		Help:    "Downtime window during tenant migration",
		Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 120},
	})

	// RecoveriesTotal counts recovery events by final status
	RecoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botgrid_recoveries_total",
		Help: "Node recovery events",
	}, []string{"status"})

	// OrphanStopsTotal counts orphan containers stopped on returning nodes
	OrphanStopsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botgrid_orphan_stops_total",
		Help: "Orphan containers stopped on returning nodes",
	})

	// LedgerTransactionsTotal counts applied ledger transactions by type
	LedgerTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botgrid_ledger_transactions_total",
		Help: "Applied credit ledger transactions",
	}, []string{"type"})

	// SuspensionsTotal counts billing suspensions and reactivations
	SuspensionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botgrid_billing_transitions_total",
		Help: "Bot billing state transitions",
	}, []string{"transition"})
)
