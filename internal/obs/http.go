package obs

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-Id"

// ResponseRecorder tracks response status and bytes written.
type ResponseRecorder struct {
	http.ResponseWriter
	statusCode  int
	respBytes   int64
	wroteHeader bool
}

func (r *ResponseRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.statusCode = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *ResponseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(p)
	r.respBytes += int64(n)
	return n, err
}

func (r *ResponseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *ResponseRecorder) StatusCode() int  { return r.statusCode }
func (r *ResponseRecorder) RespBytes() int64 { return r.respBytes }

type flushingRecorder struct {
	*ResponseRecorder
}

func (r flushingRecorder) Flush() {
	r.ResponseWriter.(http.Flusher).Flush()
}

// NewResponseRecorder wraps w. The returned writer still implements
// http.Flusher when w does; the chat stream depends on it.
func NewResponseRecorder(w http.ResponseWriter) (http.ResponseWriter, *ResponseRecorder) {
	recorder := &ResponseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	if _, ok := w.(http.Flusher); ok {
		return flushingRecorder{recorder}, recorder
	}
	return recorder, recorder
}

// RequestContextMiddleware assigns the request id (client supplied, the W3C
// trace id, or a fresh uuid) and stores the correlation fields in context.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID, spanID := parseTraceparent(r.Header.Get("traceparent"))

		requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		switch {
		case requestID != "" && len(requestID) <= 128:
		case traceID != "":
			requestID = traceID
		default:
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := WithCorrelation(r.Context(), Correlation{
			RequestID: requestID,
			TraceID:   traceID,
			SpanID:    spanID,
			Route:     r.Method + " " + r.URL.Path,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type accessKey struct{}

// accessEntry collects fields learned deeper in the handler chain.
type accessEntry struct {
	userID string
}

// AccessLogMiddleware emits one http_access event per request. 5xx logs at
// error, 4xx at warn, everything else at debug.
func AccessLogMiddleware(pkg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		entry := &accessEntry{}
		ctx := r.Context()
		wrapped, recorder := NewResponseRecorder(w)
		next.ServeHTTP(wrapped, r.WithContext(context.WithValue(ctx, accessKey{}, entry)))

		status := recorder.StatusCode()
		level := slog.LevelDebug
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		l := From(ctx).With("pkg", pkg)
		if entry.userID != "" {
			l = l.With("user_id", entry.userID)
		}
		l.Log(ctx, level, "http_access",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"dur_ms", float64(time.Since(start).Microseconds())/1000.0,
			"req_bytes", max(r.ContentLength, 0),
			"resp_bytes", recorder.RespBytes(),
		)
	})
}

// parseTraceparent extracts the trace and parent span ids from a W3C
// traceparent header. Malformed or all-zero ids yield empty strings.
func parseTraceparent(header string) (traceID, spanID string) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(header)), "-")
	if len(parts) != 4 {
		return "", ""
	}
	tid, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return "", ""
	}
	sid, err := trace.SpanIDFromHex(parts[2])
	if err != nil {
		return tid.String(), ""
	}
	return tid.String(), sid.String()
}
