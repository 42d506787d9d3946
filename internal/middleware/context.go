package middleware

import (
	"context"
	"net/http"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/carebook/paydesk/internal/logger"
	"github.com/carebook/paydesk/internal/server"
)

const loggerContextKey contextKey = "logger"

type ContextEnhancer struct {
	Server *server.Server
}

func NewContextEnhancer(srv *server.Server) *ContextEnhancer {
	return &ContextEnhancer{
		Server: srv,
	}
}

func (ce *ContextEnhancer) EnhanceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestID(r)

		//enhance logger with context
		contextLogger := ce.Server.Logger.With().
			Str("request_id", requestID).
			Str("ip", r.RemoteAddr).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()

		if txn := newrelic.FromContext(r.Context()); txn != nil {
			contextLogger = logger.WithTraceContext(contextLogger, txn)
		}

		if adminID := r.Header.Get(AdminIDHeader); adminID != "" {
			contextLogger = contextLogger.With().Str("admin_id", adminID).Logger()
		}

		//set enhanced logger in context
		ctx := context.WithValue(r.Context(), loggerContextKey, &contextLogger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetLogger retrieves the logger from the context.
func GetLogger(ctx context.Context) *zerolog.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*zerolog.Logger); ok {
		return logger
	}
	logger := zerolog.Nop()
	return &logger
}
