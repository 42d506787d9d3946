package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Queue appends operational events for the relay to ship to Kafka. Writes go
// to the same store as the primary action so the relay never observes an
// event whose source row did not commit.
type Queue struct {
	db *pgxpool.Pool
}

func NewQueue(db *pgxpool.Pool) *Queue {
	return &Queue{db: db}
}

func (q *Queue) Enqueue(ctx context.Context, eventType, partitionKey string, payload []byte) error {
	sql := `INSERT INTO outbox_events (event_type, partition_key, payload, status) VALUES ($1, $2, $3, 'pending')`
	_, err := q.db.Exec(ctx, sql, eventType, partitionKey, payload)
	return err
}
