package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/erpath/internal/careapi"
	"github.com/linnemanlabs/erpath/internal/postgres"
)

// maxRequestBody caps assessment and pathway edit bodies.
const maxRequestBody = 64 << 10

const (
	healthyPath = "/-/healthy"
	readyPath   = "/-/ready"
)

type apiHandlerDeps struct {
	Logger   log.Logger
	API      *careapi.API
	Healthz  http.HandlerFunc
	Readyz   http.HandlerFunc
	Metrics  func(http.Handler) http.Handler
	ClientIP func(http.Handler) http.Handler
}

// newAPIHandler builds the public listener's router and middleware chain.
// Wrappers are applied inside out: the last one added sees the raw request
// first.
func newAPIHandler(d apiHandlerDeps) http.Handler {
	r := chi.NewRouter()

	// JSON only
	r.Use(middleware.Compress(5, "application/json"))

	// http.route on the logger and span, from the chi pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	r.Use(postgres.Middleware)
	r.Use(httpmw.AccessLog())

	// 413 past the limit
	r.Use(httpmw.MaxBody(maxRequestBody))

	r.Get(healthyPath, d.Healthz)
	r.Get(readyPath, d.Readyz)

	d.API.RegisterRoutes(r)

	var h http.Handler = r

	// request-scoped logger, inner so it sees trace ids and the route
	h = httpmw.WithLogger(d.Logger)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != healthyPath && r.URL.Path != readyPath
		}),
		// renamed to the route pattern by AnnotateHTTPRoute
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	if d.Metrics != nil {
		h = d.Metrics(h)
	}
	if d.ClientIP != nil {
		h = d.ClientIP(h)
	}

	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(d.Logger, nil)(h)

	// outermost so every response carries them
	return httpmw.SecurityHeaders(h)
}
