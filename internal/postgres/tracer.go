// Package postgres holds the pgx plumbing shared by the Postgres-backed
// stores: pool construction, otelpgx tracing, a structured query log and a
// per-query metrics hook.
package postgres

import (
	"context"
	"errors"
	"runtime"
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

// storePkg marks frames belonging to the store implementations.
const storePkg = "github.com/linnemanlabs/medbridge/internal/conversation/pgstore."

var queryObserver atomic.Pointer[queryObserverHolder]

type queryObserverHolder struct{ QueryObserver }

// QueryObserver receives per-query metrics (wired by main for Prometheus).
// op is the store method that issued the query, route the chi route pattern
// of the HTTP request that caused it ("internal" outside a request).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, op, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, op, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, op, route, outcome string, dur time.Duration) {
	f(ctx, op, route, outcome, dur)
}

// SetQueryObserver sets the global query observer. nil disables it.
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

type queryInfoKey struct{}

// queryInfo travels from TraceQueryStart to TraceQueryEnd.
type queryInfo struct {
	sql     string
	start   time.Time
	op      string
	handler string
}

// loggingTracer wraps another pgx.QueryTracer (otelpgx) and adds a structured
// log line and a metrics observation for every query. Query arguments are
// never logged: they carry raw patient text.
type loggingTracer struct {
	inner pgx.QueryTracer
}

func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return loggingTracer{inner: inner}
}

func (t loggingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	info := &queryInfo{sql: data.SQL, start: time.Now()}
	info.op, info.handler = findStoreOpAndHandler()

	// inner tracer creates the span first so the attributes land on it
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		if info.op != "" {
			span.SetAttributes(attribute.String("db.caller", info.op))
		}
		if info.handler != "" {
			span.SetAttributes(attribute.String("db.handler", info.handler))
		}
	}
	return context.WithValue(ctx, queryInfoKey{}, info)
}

func (t loggingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	info, _ := ctx.Value(queryInfoKey{}).(*queryInfo)
	if info == nil {
		info = &queryInfo{}
	}
	var dur time.Duration
	if !info.start.IsZero() {
		dur = time.Since(info.start)
	}

	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	if obs := getQueryObserver(); obs != nil {
		op := info.op
		if op == "" {
			op = "unknown"
		}
		obs.ObserveQuery(ctx, op, routeFromContext(ctx), outcome, dur)
	}

	fields := []any{
		"db.statement", compactSQL(info.sql),
		"db.duration", dur.Seconds(),
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		fields = append(fields, "db.operation.name", strings.ToUpper(strings.Fields(tag)[0]), "db.rows", data.CommandTag.RowsAffected())
	}
	if info.op != "" {
		fields = append(fields, "db.caller", info.op)
	}
	if info.handler != "" {
		fields = append(fields, "db.handler", info.handler)
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

func routeFromContext(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "internal"
}

// compactSQL collapses the multi-line statements used by the stores into one line.
func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// findStoreOpAndHandler walks the stack and returns the exported store
// method issuing the query (e.g. "SaveMessage") and the first frame above
// the store (e.g. "(*Service).runTurn").
func findStoreOpAndHandler() (op, handler string) {
	pcs := make([]uintptr, 48)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function
		switch {
		case fn == "", skipFrame(fn):
		case strings.HasPrefix(fn, storePkg):
			if op == "" {
				if m := storeMethod(fn); m != "" {
					op = m
				}
			}
		case op != "" || handler == "":
			handler = shortenFuncName(fn)
			if op != "" {
				return op, handler
			}
		}
		if !more {
			return op, handler
		}
	}
}

func skipFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.Contains(fn, "github.com/jackc/pgx/v5") ||
		strings.Contains(fn, "github.com/jackc/puddle") ||
		strings.Contains(fn, "github.com/exaring/otelpgx") ||
		strings.Contains(fn, "github.com/linnemanlabs/medbridge/internal/postgres.")
}

// storeMethod returns the exported method name of a store frame, or "" for
// helpers and closures ("(*Store).inTx", "(*Store).SaveMessage.func1").
func storeMethod(fn string) string {
	name := shortenFuncName(fn)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || strings.HasPrefix(name, "func") || name[0] < 'A' || name[0] > 'Z' {
		return ""
	}
	return name
}

// shortenFuncName trims the import path and package name, keeping
// receiver and method: "…/pgstore.(*Store).Get" becomes "(*Store).Get".
func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
