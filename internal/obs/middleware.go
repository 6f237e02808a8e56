package obs

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StatusRecorder captures the status and size of a response. Only the first
// WriteHeader call is recorded, matching what the client sees.
type StatusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bytes       int64
}

// NewStatusRecorder wraps w with an implicit 200 status.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *StatusRecorder) WriteHeader(code int) {
	if !sr.wroteHeader {
		sr.status = code
		sr.wroteHeader = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *StatusRecorder) Write(p []byte) (int, error) {
	sr.wroteHeader = true
	n, err := sr.ResponseWriter.Write(p)
	sr.bytes += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sr *StatusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// Status returns the response status code.
func (sr *StatusRecorder) Status() int { return sr.status }

// BytesWritten returns the number of body bytes written.
func (sr *StatusRecorder) BytesWritten() int64 { return sr.bytes }

// RequestInfoMiddleware attaches an empty RequestInfo for downstream labels.
func RequestInfoMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RequestInfoFrom(r.Context()) == nil {
			r = r.WithContext(WithRequestInfo(r.Context(), &RequestInfo{}))
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPObs instruments HTTP handlers with metrics.
type HTTPObs struct {
	Metrics *HTTPMetrics
}

// Middleware counts requests by route and status and tracks in-flight load.
// Unmatched routes are labelled "unknown" to bound cardinality.
func (o HTTPObs) Middleware(next http.Handler) http.Handler {
	if o.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := NewStatusRecorder(w)
		o.Metrics.InFlight.Inc()
		defer o.Metrics.InFlight.Dec()

		start := time.Now()
		next.ServeHTTP(recorder, r)

		route := resolveInfo(r.Context()).Route
		if route == "" {
			route = "unknown"
		}
		o.Metrics.Observe(r.Method, route, recorder.Status(), time.Since(start))
	})
}

// TracingMiddleware starts a server span per request, continuing any trace
// propagated by the caller. The span is renamed to the route once known.
func TracingMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer("toko-pricing/http")
	propagator := otel.GetTextMapPropagator()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		recorder := NewStatusRecorder(w)
		r = r.WithContext(ctx)
		next.ServeHTTP(recorder, r)

		info := resolveInfo(r.Context())
		if info.Route != "" {
			span.SetName(r.Method + " " + info.Route)
			span.SetAttributes(attribute.String("http.route", info.Route))
		}
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
			attribute.Int("http.status_code", recorder.Status()),
			attribute.Int64("http.response_size", recorder.BytesWritten()),
		)
		if info.SessionID != "" {
			span.SetAttributes(attribute.String("checkout.session_id", info.SessionID))
		}
		if recorder.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(recorder.Status()))
		}
	})
}
