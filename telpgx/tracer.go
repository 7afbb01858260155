// Package telpgx records queries made with jackc/pgx.
package telpgx

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/multitracer"
	"github.com/peterbourgon/telescope"
	"github.com/peterbourgon/telescope/internal/telutil"
)

// Tracer is a pgx query and batch tracer which records every query as a query
// entry, with the request carried by the query context, if any, as its parent.
type Tracer struct {
	tel *telescope.Telescope

	// Connection is recorded as the connection name of every query made via a
	// connection without a configured database. Default "postgres".
	Connection string
}

var (
	_ pgx.QueryTracer = (*Tracer)(nil)
	_ pgx.BatchTracer = (*Tracer)(nil)
)

// NewTracer returns a tracer recording queries to tel.
func NewTracer(tel *telescope.Telescope) *Tracer {
	return &Tracer{tel: tel, Connection: "postgres"}
}

// Composed tracers each keep their own trace data.
type traceKey struct{ t *Tracer }

type traceData struct {
	begin time.Time
	sql   string
	args  []any
}

// TraceQueryStart implements pgx.QueryTracer.
func (t *Tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if !t.tel.Enabled() {
		return ctx
	}
	return context.WithValue(ctx, traceKey{t}, &traceData{begin: time.Now(), sql: data.SQL, args: data.Args})
}

// TraceQueryEnd implements pgx.QueryTracer.
func (t *Tracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	td, ok := ctx.Value(traceKey{t}).(*traceData)
	if !ok {
		return
	}
	t.record(ctx, conn, td.sql, td.args, time.Since(td.begin), data.Err)
}

// TraceBatchStart implements pgx.BatchTracer.
func (t *Tracer) TraceBatchStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceBatchStartData) context.Context {
	if !t.tel.Enabled() {
		return ctx
	}
	return context.WithValue(ctx, traceKey{t}, &traceData{begin: time.Now()})
}

// TraceBatchQuery implements pgx.BatchTracer. Each query in a batch is
// recorded separately, with the time since the previous query in the batch.
func (t *Tracer) TraceBatchQuery(ctx context.Context, conn *pgx.Conn, data pgx.TraceBatchQueryData) {
	td, ok := ctx.Value(traceKey{t}).(*traceData)
	if !ok {
		return
	}
	now := time.Now()
	t.record(ctx, conn, data.SQL, data.Args, now.Sub(td.begin), data.Err)
	td.begin = now
}

// TraceBatchEnd implements pgx.BatchTracer.
func (t *Tracer) TraceBatchEnd(context.Context, *pgx.Conn, pgx.TraceBatchEndData) {}

func (t *Tracer) record(ctx context.Context, conn *pgx.Conn, sql string, args []any, took time.Duration, err error) {
	q := &telescope.Query{
		Entry:      telescope.Entry{ParentID: telescope.RequestID(ctx)},
		Connection: t.connection(conn),
		Query:      sql,
		Bindings:   append([]any{}, args...),
		Time:       telutil.Milliseconds(took),
	}
	if err != nil {
		q.Error = err.Error()
	}
	t.tel.RecordQuery(q)
}

func (t *Tracer) connection(conn *pgx.Conn) string {
	if conn != nil {
		if db := conn.Config().Database; db != "" {
			return db
		}
	}
	return t.Connection
}

type installKey struct {
	cfg *pgx.ConnConfig
	tel *telescope.Telescope
}

var installed sync.Map // installKey: pgx.QueryTracer

// Install sets a tracer recording queries to tel on the connection config,
// which can be the ConnConfig of a pgxpool.Config. If the config already has a
// tracer, both are called for every query. It returns a function which
// restores the previous tracer. Installing for the same telescope on a config
// more than once is a no-op, and the returned function does nothing. Installing
// for different telescopes on one config records queries to each of them.
func Install(cfg *pgx.ConnConfig, tel *telescope.Telescope) (undo func()) {
	key := installKey{cfg: cfg, tel: tel}
	if current, ok := installed.Load(key); ok && tracesWith(cfg.Tracer, current.(pgx.QueryTracer)) {
		return func() {}
	}

	var (
		prev   = cfg.Tracer
		own    = NewTracer(tel)
		tracer pgx.QueryTracer
	)
	switch prev {
	case nil:
		tracer = own
	default:
		tracer = multitracer.New(prev, own)
	}

	cfg.Tracer = tracer
	installed.Store(key, own)

	return func() {
		if cfg.Tracer == tracer {
			cfg.Tracer = prev
			installed.Delete(key)
		}
	}
}

// tracesWith reports whether target is, or is composed from, want.
func tracesWith(target pgx.QueryTracer, want pgx.QueryTracer) bool {
	switch t := target.(type) {
	case nil:
		return false
	case *multitracer.Tracer:
		for _, qt := range t.QueryTracers {
			if tracesWith(qt, want) {
				return true
			}
		}
		return false
	default:
		return target == want
	}
}
