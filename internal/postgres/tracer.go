package postgres

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// slowQuery is the duration above which a query is logged at warn.
const slowQuery = 250 * time.Millisecond

var queryObserver atomic.Pointer[queryObserverHolder]

type queryObserverHolder struct{ QueryObserver }

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration) {
	f(ctx, method, route, outcome, dur)
}

// SetQueryObserver sets the global query observer. nil removes it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

type queryStateKey struct{}

// queryState carries one in-flight query from TraceQueryStart to TraceQueryEnd.
type queryState struct {
	sql    string
	nargs  int
	start  time.Time
	origin origin
}

// queryTracer wraps another pgx.QueryTracer (otelpgx) and adds a log line,
// request stats and the duration metric for every query. Query arguments
// carry patient data and are never logged; only their count is.
type queryTracer struct {
	inner pgx.QueryTracer
	now   func() time.Time
}

func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return queryTracer{inner: inner, now: time.Now}
}

func (t queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	st := &queryState{
		sql:    data.SQL,
		nargs:  len(data.Args),
		start:  t.now(),
		origin: findOrigin(),
	}

	// otelpgx opens its span first so the origin lands on the DB span.
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(st.origin.attributes()...)
	}

	return context.WithValue(ctx, queryStateKey{}, st)
}

func (t queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	st, ok := ctx.Value(queryStateKey{}).(*queryState)
	if !ok {
		return
	}
	dur := t.now().Sub(st.start)

	if s, ok := ReqDBStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}
	if obs := getQueryObserver(); obs != nil {
		obs.ObserveQuery(ctx, requestMethod(ctx), routePattern(ctx), outcome(data.Err), dur)
	}

	fields := []any{
		"db.statement", compactSQL(st.sql),
		"db.args.count", st.nargs,
		"db.duration", dur.Seconds(),
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		if op, _, _ := strings.Cut(tag, " "); op != "" {
			fields = append(fields, "db.operation.name", strings.ToUpper(op))
		}
		fields = append(fields, "db.rows", data.CommandTag.RowsAffected())
	}
	fields = append(fields, st.origin.fields()...)

	var pgErr *pgconn.PgError
	if errors.As(data.Err, &pgErr) {
		fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
	}

	L := log.FromContext(ctx)
	switch {
	case data.Err != nil:
		L.Error(ctx, data.Err, "db query failed", fields...)
	case dur >= slowQuery:
		L.Warn(ctx, "slow db query", fields...)
	default:
		L.Info(ctx, "db query", fields...)
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func routePattern(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	// queries outside a request come from background classification,
	// pathway generation or startup
	return "background"
}

// compactSQL collapses the whitespace of multi-line statements.
func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

func (o origin) attributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if o.caller != "" {
		attrs = append(attrs, attribute.String("db.caller", o.caller))
	}
	if o.operation != "" {
		attrs = append(attrs, attribute.String("db.operation.origin", o.operation))
	}
	return attrs
}

func (o origin) fields() []any {
	f := make([]any, 0, 4)
	if o.caller != "" {
		f = append(f, "db.caller", o.caller)
	}
	if o.operation != "" {
		f = append(f, "db.operation.origin", o.operation)
	}
	return f
}
