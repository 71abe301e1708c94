package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/pos-kasir/internal/common"
)

// NewLogger builds the service logger. format "console" (or "text") is for a
// developer terminal; anything else writes JSON for the log shipper.
func NewLogger(format, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stdout
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).With().Timestamp().Str("service", "pos-kasir").Logger()
}

// RequestLogger writes one http_request line per request with the cashier,
// till, cart session and sale it concerned, next to the usual HTTP fields.
type RequestLogger struct {
	Logger zerolog.Logger
}

// Middleware puts a request scoped logger on the context so services log with
// the request id.
func (l RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := newStatusRecorder(w)
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		ctx, ann := withAnnotations(r.Context())
		ctx = l.Logger.With().Str("request_id", reqID).Logger().WithContext(ctx)
		r = r.WithContext(ctx)
		next.ServeHTTP(rec, r)

		evt := l.Logger.Info()
		switch {
		case rec.status >= http.StatusInternalServerError:
			evt = l.Logger.Error()
		case rec.status == http.StatusConflict || rec.status == http.StatusTooManyRequests:
			evt = l.Logger.Warn()
		}
		evt = evt.
			Str("method", r.Method).
			Str("route", routeOf(r, r.URL.Path)).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Int64("bytes", rec.bytes).
			Str("request_id", reqID).
			Str("client_ip", common.ClientIP(r))
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			evt = evt.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
		}
		sessionID, saleID := posRefs(r)
		for _, f := range [][2]string{
			{"cashier_id", ann.cashierID()},
			{"till_id", common.TillID(r)},
			{"session_id", sessionID},
			{"sale_id", saleID},
			{"user_agent", r.UserAgent()},
		} {
			if v := strings.TrimSpace(f[1]); v != "" {
				evt = evt.Str(f[0], v)
			}
		}
		evt.Msg("http_request")
	})
}
