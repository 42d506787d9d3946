package outbox

import (
	"context"
	"time"

	"github.com/carebook/paydesk/internal/kafka"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type event struct {
	ID           int64
	EventType    string
	PartitionKey string
	Payload      []byte
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Relay struct {
	db        *pgxpool.Pool
	publisher Publisher
	logger    *zerolog.Logger
	batchSize int
	interval  time.Duration
}

func NewRelay(db *pgxpool.Pool, publisher Publisher, logger *zerolog.Logger) *Relay {
	return &Relay{
		db:        db,
		publisher: publisher,
		logger:    logger,
		batchSize: 100,
		interval:  10 * time.Second,
	}
}

func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info().Msg("Starting Outbox Relay")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Stopping Outbox Relay")
			return nil
		case <-ticker.C:
			if err := r.processBatch(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Failed to process batch")
			}
		}
	}
}

func (r *Relay) processBatch(ctx context.Context) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, event_type, partition_key, payload
		FROM outbox_events
		WHERE status = 'pending'
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batchSize)
	if err != nil {
		return err
	}

	var events []event
	for rows.Next() {
		var e event
		if err := rows.Scan(&e.ID, &e.EventType, &e.PartitionKey, &e.Payload); err != nil {
			rows.Close()
			return err
		}
		events = append(events, e)
	}
	rows.Close()

	if len(events) == 0 {
		return nil
	}

	r.logger.Info().Int("count", len(events)).Msg("Fetched outbox events")

	var publishedIDs []int64
	for _, e := range events {
		topic := r.topicForEvent(e.EventType)
		if err := r.publisher.Publish(ctx, topic, []byte(e.PartitionKey), e.Payload); err != nil {
			r.logger.Error().Err(err).Int64("event_id", e.ID).Str("event_type", e.EventType).Msg("Failed to publish event to Kafka")
			continue // Do not mark as published
		}
		publishedIDs = append(publishedIDs, e.ID)
	}

	if len(publishedIDs) == 0 {
		return nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'published', updated_at = NOW()
		WHERE id = ANY($1)
	`, publishedIDs)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *Relay) topicForEvent(eventType string) string {
	switch eventType {
	case kafka.EventAuditEntryRecorded:
		return kafka.TopicAuditEntryRecorded
	case kafka.EventAuditWriteFailed:
		return kafka.TopicAuditWriteFailed
	case kafka.EventDiscrepancyDetected:
		return kafka.TopicDiscrepancyDetected
	case kafka.EventReconciliationDone:
		return kafka.TopicReconciliationDone
	default:
		return kafka.TopicDLQ
	}
}
