package telsql

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/peterbourgon/telescope"
	"github.com/peterbourgon/telescope/internal/telutil"
)

type recorder struct {
	tel        *telescope.Telescope
	connection string
}

// record a query which was executed, unless the driver skipped it, in which
// case database/sql retries it another way, and it's recorded then.
func (r recorder) record(ctx context.Context, query string, args []driver.NamedValue, took time.Duration, err error) {
	if errors.Is(err, driver.ErrSkip) || !r.tel.Enabled() {
		return
	}

	q := &telescope.Query{
		Entry:      telescope.Entry{ParentID: telescope.RequestID(ctx)},
		Connection: r.connection,
		Query:      query,
		Bindings:   bindings(args),
		Time:       telutil.Milliseconds(took),
	}
	if err != nil {
		q.Error = err.Error()
	}
	r.tel.RecordQuery(q)
}

func bindings(args []driver.NamedValue) []any {
	res := make([]any, len(args))
	for i, arg := range args {
		res[i] = arg.Value
	}
	return res
}

type conn struct {
	driver.Conn
	rec recorder
}

var (
	_ driver.Conn               = (*conn)(nil)
	_ driver.ConnPrepareContext = (*conn)(nil)
	_ driver.ConnBeginTx        = (*conn)(nil)
	_ driver.ExecerContext      = (*conn)(nil)
	_ driver.QueryerContext     = (*conn)(nil)
	_ driver.Pinger             = (*conn)(nil)
	_ driver.SessionResetter    = (*conn)(nil)
	_ driver.Validator          = (*conn)(nil)
	_ driver.NamedValueChecker  = (*conn)(nil)
)

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	s, err := c.Conn.Prepare(query)
	if err != nil {
		return nil, err
	}
	return &stmt{Stmt: s, conn: c.Conn, query: query, rec: c.rec}, nil
}

func (c *conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	pc, ok := c.Conn.(driver.ConnPrepareContext)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return c.Prepare(query)
	}

	s, err := pc.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &stmt{Stmt: s, conn: c.Conn, query: query, rec: c.rec}, nil
}

func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if bt, ok := c.Conn.(driver.ConnBeginTx); ok {
		return bt.BeginTx(ctx, opts)
	}
	if opts.Isolation != 0 || opts.ReadOnly {
		return nil, errors.New("driver doesn't support transaction options")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Conn.Begin() //nolint:staticcheck
}

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	ec, ok := c.Conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}

	begin := time.Now()
	res, err := ec.ExecContext(ctx, query, args)
	c.rec.record(ctx, query, args, time.Since(begin), err)
	return res, err
}

func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	qc, ok := c.Conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}

	begin := time.Now()
	rows, err := qc.QueryContext(ctx, query, args)
	c.rec.record(ctx, query, args, time.Since(begin), err)
	return rows, err
}

func (c *conn) Ping(ctx context.Context) error {
	if p, ok := c.Conn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *conn) ResetSession(ctx context.Context) error {
	if sr, ok := c.Conn.(driver.SessionResetter); ok {
		return sr.ResetSession(ctx)
	}
	return nil
}

func (c *conn) IsValid() bool {
	if v, ok := c.Conn.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}

func (c *conn) CheckNamedValue(nv *driver.NamedValue) error {
	if nvc, ok := c.Conn.(driver.NamedValueChecker); ok {
		return nvc.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

type stmt struct {
	driver.Stmt
	conn  driver.Conn
	query string
	rec   recorder
}

var (
	_ driver.Stmt              = (*stmt)(nil)
	_ driver.StmtExecContext   = (*stmt)(nil)
	_ driver.StmtQueryContext  = (*stmt)(nil)
	_ driver.NamedValueChecker = (*stmt)(nil)
)

func (s *stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (res driver.Result, err error) {
	begin := time.Now()
	defer func() { s.rec.record(ctx, s.query, args, time.Since(begin), err) }()

	if sec, ok := s.Stmt.(driver.StmtExecContext); ok {
		return sec.ExecContext(ctx, args)
	}

	values, err := namedValuesToValues(args)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Stmt.Exec(values) //nolint:staticcheck
}

func (s *stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (rows driver.Rows, err error) {
	begin := time.Now()
	defer func() { s.rec.record(ctx, s.query, args, time.Since(begin), err) }()

	if sqc, ok := s.Stmt.(driver.StmtQueryContext); ok {
		return sqc.QueryContext(ctx, args)
	}

	values, err := namedValuesToValues(args)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Stmt.Query(values) //nolint:staticcheck
}

// CheckNamedValue prefers the statement's checker, then the connection's, as
// database/sql would for the unwrapped driver.
func (s *stmt) CheckNamedValue(nv *driver.NamedValue) error {
	if nvc, ok := s.Stmt.(driver.NamedValueChecker); ok {
		return nvc.CheckNamedValue(nv)
	}
	if nvc, ok := s.conn.(driver.NamedValueChecker); ok {
		return nvc.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

func namedValuesToValues(args []driver.NamedValue) ([]driver.Value, error) {
	values := make([]driver.Value, len(args))
	for i, arg := range args {
		if arg.Name != "" {
			return nil, errors.New("driver doesn't support named parameters")
		}
		values[i] = arg.Value
	}
	return values, nil
}
