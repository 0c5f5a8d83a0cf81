package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-ID"

type loggerKey struct{}

// RequestID tags every request with an identifier, taken from the X-Request-ID header when the
// client sends one. The identifier is echoed in the response and carried by the request logger.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		id := req.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		res.Header().Set(HeaderRequestID, id)

		log := slog.With(slog.String("request_id", id))
		start := time.Now()
		next.ServeHTTP(res, req.WithContext(context.WithValue(req.Context(), loggerKey{}, log)))
		log.Debug("Request served",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Duration("took", time.Since(start)),
		)
	})
}

// Logger returns the request-scoped logger, or the default logger outside of RequestID.
func Logger(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}
