package admin

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const maxAuditBodyBytes = 1024

// AuditMiddleware logs every mutating request (anything but GET and HEAD)
// and tags its response with an X-Request-ID. When the body names a
// wallet, the audit line carries the address and its label.
func AuditMiddleware(logger *slog.Logger, labeler Labeler, next http.Handler) http.Handler {
	auditLogger := logger.With("component", "admin_audit")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		var head []byte
		if r.Body != nil {
			var err error
			head, err = io.ReadAll(io.LimitReader(r.Body, maxAuditBodyBytes+1))
			if err == nil {
				r.Body = readCloser{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
			}
		}

		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r)

		attrs := []any{
			"request_id", requestID,
			"client_ip", extractClientIP(r),
			"method", r.Method,
			"path", r.URL.Path,
			"response_status", sw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if addr := auditTarget(head); addr != "" {
			label := addr
			if labeler != nil {
				label = labeler.FormatLabel(addr)
			}
			attrs = append(attrs, "address", addr, "label", label)
		} else if len(head) > maxAuditBodyBytes {
			attrs = append(attrs, "body_summary", string(head[:maxAuditBodyBytes])+"...(truncated)")
		} else if len(head) > 0 {
			attrs = append(attrs, "body_summary", string(head))
		}

		level := slog.LevelInfo
		if sw.statusCode >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		auditLogger.Log(r.Context(), level, "admin API audit", attrs...)
	})
}

// auditTarget extracts the wallet address from a refresh-style body.
func auditTarget(body []byte) string {
	if len(body) == 0 || len(body) > maxAuditBodyBytes {
		return ""
	}
	var req struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return ""
	}
	return req.Address
}

type readCloser struct {
	io.Reader
	io.Closer
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
	sw.written = true
	return sw.ResponseWriter.Write(b)
}
