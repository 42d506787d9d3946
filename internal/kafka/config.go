package kafka

import (
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Operational topics consumed by alerting and back-office tooling.
const (
	TopicAuditEntryRecorded  = "paydesk.audit.entry.recorded"
	TopicAuditWriteFailed    = "paydesk.audit.write.failed"
	TopicDiscrepancyDetected = "paydesk.reconciliation.discrepancy.detected"
	TopicReconciliationDone  = "paydesk.reconciliation.run.completed"

	TopicDLQ = "paydesk.dlq"
)

// Event types for outbox rows.
const (
	EventAuditEntryRecorded  = "paydesk.audit.entry.recorded"
	EventAuditWriteFailed    = "paydesk.audit.write.failed"
	EventDiscrepancyDetected = "paydesk.discrepancy.detected"
	EventReconciliationDone  = "paydesk.reconciliation.completed"
)

type Config struct {
	Brokers         []string
	ProducerTimeout time.Duration
	RequiredAcks    kgo.Acks
	MaxRetries      int
	RetryBackoff    time.Duration
}

func DefaultConfig(brokers []string) *Config {
	return &Config{
		Brokers:         brokers,
		ProducerTimeout: 10 * time.Second,
		RequiredAcks:    kgo.AllISRAcks(),
		MaxRetries:      5,
		RetryBackoff:    1 * time.Second,
	}
}
