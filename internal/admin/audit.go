package admin

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

const redacted = "REDACTED"

// auditedPaths are logged on every call regardless of method.
var auditedPaths = map[string]bool{
	syncPath:      true,
	reconcilePath: true,
}

// AuditMiddleware logs the sync trigger and any mutating request for
// operational audit trails. Secret query parameters are redacted.
func AuditMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	auditLogger := logger.With("component", "admin_audit")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auditedPaths[r.URL.Path] && r.Method != http.MethodPost && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)

		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r)

		auditLogger.Info("admin API audit",
			"request_id", requestID,
			"timestamp", start.UTC().Format(time.RFC3339),
			"remote_addr", r.RemoteAddr,
			"client_ip", extractClientIP(r),
			"method", r.Method,
			"path", r.URL.Path,
			"query", redactQuery(r.URL.Query()),
			"response_status", sw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func redactQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	out := make(url.Values, len(q))
	for k, v := range q {
		if k == secretParam {
			out[k] = []string{redacted}
			continue
		}
		out[k] = v
	}
	return out.Encode()
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.statusCode = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.written = true
	}
	return sw.ResponseWriter.Write(b)
}
