package log

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AnshRaj112/circles-backend/pkg/clientip"
)

const headerRequestID = "X-Request-ID"

// HTTPMiddleware injects a request-scoped child logger into the request context
// and logs every completed request with status and latency.
func HTTPMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := r.Header.Get(headerRequestID)
			if reqID == "" {
				reqID = chimw.GetReqID(r.Context())
			}
			if reqID == "" {
				reqID = uuid.NewString()
			}

			child := logger.With().
				Str(FieldRequestID, reqID).
				Str(FieldMethod, r.Method).
				Str(FieldPath, r.URL.Path).
				Str(FieldClientIP, clientip.RealClientIP(r)).
				Logger()

			w.Header().Set(headerRequestID, reqID)
			r = r.WithContext(WithLogger(r.Context(), child))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			child.Info().
				Int(FieldStatus, rec.status).
				Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
				Msg("request completed")
		})
	}
}

// statusRecorder captures the status code. It must stay hijackable for the WebSocket upgrade.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not implement http.Hijacker")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
