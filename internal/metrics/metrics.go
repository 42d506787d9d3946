// Package metrics holds the prometheus collectors shared across the engine.
// AuditWriteFailures is the out-of-band signal for degraded audit mode:
// the primary workflow action is never rolled back when an audit write
// fails, so operators alert on this counter instead.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paydesk_audit_write_failures_total",
		Help: "Audit log entries that failed to persist.",
	})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paydesk_commands_total",
		Help: "Workflow commands processed, by command and outcome.",
	}, []string{"command", "outcome"})

	IdempotentReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paydesk_idempotent_replays_total",
		Help: "Commands answered from a previously recorded result.",
	}, []string{"namespace"})

	ReconciliationDiscrepancies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paydesk_reconciliation_discrepancies_total",
		Help: "Discrepancies found by reconciliation runs, by type.",
	}, []string{"type"})
)
