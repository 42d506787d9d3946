// Package httpx holds the response and query-parsing helpers shared by the
// domain handlers, including the error-kind to status-code mapping.
package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/paydesk/internal/errs"
	"github.com/carebook/paydesk/pkg/types"
)

// IdempotencyKeyHeader carries the caller-chosen key for command dedup.
const IdempotencyKeyHeader = "Idempotency-Key"

func RespondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// RespondError maps the error kind onto an HTTP status and writes the body.
// Unknown kinds are reported as a bare 500 so internals never leak.
//
// CONFLICT covers a same-key command still in flight: the winner has not
// finished, so there is no result to replay yet. Callers retry with the same
// key and receive the recorded result once the winner completes.
func RespondError(w http.ResponseWriter, logger *zerolog.Logger, err error) {
	kind := errs.KindOf(err)

	var status int
	switch kind {
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindSelfApproval:
		status = http.StatusForbidden
	case errs.KindInvalidTransition, errs.KindConflict:
		status = http.StatusConflict
	default:
		logger.Error().Err(err).Msg("request failed")
		RespondJSON(w, http.StatusInternalServerError, errorBody{
			Error: errorDetail{Kind: "INTERNAL", Message: "internal server error"},
		})
		return
	}

	logger.Warn().Err(err).Str("kind", string(kind)).Msg("request rejected")
	RespondJSON(w, status, errorBody{
		Error: errorDetail{Kind: string(kind), Message: err.Error()},
	})
}

// IdempotencyKey reads the dedup key header. State-changing commands require it.
func IdempotencyKey(r *http.Request) (string, error) {
	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" {
		return "", errs.Validation("%s header is required", IdempotencyKeyHeader)
	}
	return key, nil
}

func QueryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, errs.Validation("invalid %s %q", name, raw)
	}
	return &id, nil
}

func QueryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errs.Validation("invalid %s %q, expected RFC3339", name, raw)
	}
	return &t, nil
}

func ParsePage(r *http.Request) types.Page {
	page := types.Page{Number: 1, Size: 20}
	if raw := r.URL.Query().Get("page"); raw != "" {
		if n, err := parsePositive(raw); err == nil {
			page.Number = n
		}
	}
	if raw := r.URL.Query().Get("size"); raw != "" {
		if n, err := parsePositive(raw); err == nil && n <= 100 {
			page.Size = n
		}
	}
	return page
}

func parsePositive(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errs.Validation("must be positive")
	}
	return n, nil
}
