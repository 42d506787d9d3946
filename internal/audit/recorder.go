// Package audit appends the tamper-evident history of every state-changing
// command. Entries are written once and never mutated.
package audit

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/carebook/paydesk/internal/kafka"
	"github.com/carebook/paydesk/internal/metrics"
	"github.com/carebook/paydesk/internal/model"
)

// Enqueuer ships operational events out-of-band. The outbox queue implements
// it in production.
type Enqueuer interface {
	Enqueue(ctx context.Context, eventType, partitionKey string, payload []byte) error
}

type Recorder struct {
	repo   Repository
	events Enqueuer
	log    *zerolog.Logger
}

func NewRecorder(repo Repository, events Enqueuer, log *zerolog.Logger) *Recorder {
	return &Recorder{repo: repo, events: events, log: log}
}

// Record persists entry best-effort. A failed write never unwinds the
// primary action: it is logged, counted, and pushed to the operational
// channel so operators can detect the gap.
func (r *Recorder) Record(ctx context.Context, entry *model.AuditLogEntry) {
	if err := r.repo.Insert(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateEntry) {
			// A raced duplicate of an already-recorded command; the winner's
			// entry stands and nothing is degraded.
			r.log.Debug().
				Str("action", string(entry.Action)).
				Msg("audit entry already recorded for this idempotency key")
			return
		}
		metrics.AuditWriteFailures.Inc()
		r.log.Error().Err(err).
			Str("action", string(entry.Action)).
			Str("actor", entry.Actor.Email).
			Msg("audit write failed; primary action already committed")
		r.emit(ctx, kafka.EventAuditWriteFailed, entry)
		return
	}
	r.emit(ctx, kafka.EventAuditEntryRecorded, entry)
}

// Replayed looks up a prior entry for key, the dedup mechanism for
// approve/reject/process commands.
func (r *Recorder) Replayed(ctx context.Context, key string) (*model.AuditLogEntry, error) {
	if key == "" {
		return nil, nil
	}
	return r.repo.FindByIdempotencyKey(ctx, key)
}

func (r *Recorder) emit(ctx context.Context, eventType string, entry *model.AuditLogEntry) {
	if r.events == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to encode audit event payload")
		return
	}
	if err := r.events.Enqueue(ctx, eventType, string(entry.Action), payload); err != nil {
		r.log.Warn().Err(err).Str("event_type", eventType).Msg("failed to enqueue audit event")
	}
}

// State snapshots for previous/new state columns. Marshalling a map keeps
// the stored shape identical across workflows.
func Snapshot(fields map[string]any) json.RawMessage {
	if len(fields) == 0 {
		return nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return raw
}
