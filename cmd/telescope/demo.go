package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/peterbourgon/telescope"
	"github.com/rs/zerolog"
)

// demo is a small notes service which exercises every kind of entry.
type demo struct {
	tel      *telescope.Telescope
	db       *sql.DB
	pool     *pgxpool.Pool // optional
	client   *http.Client
	upstream string
	slog     *slog.Logger
	zlog     zerolog.Logger
}

type note struct {
	ID        int64  `json:"id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS notes (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		body       TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create notes table: %w", err)
	}
	return nil
}

func (d *demo) register(e *echo.Echo) {
	e.GET("/notes", d.listNotes)
	e.POST("/notes", d.createNote)
	e.GET("/notes/:id", d.getNote)
	e.GET("/fetch", d.fetch)
	e.GET("/fail", d.fail)
	e.GET("/panic", d.crash)
	e.POST("/background", d.background)
	e.GET("/postgres", d.postgres)
}

func (d *demo) listNotes(c echo.Context) error {
	ctx := c.Request().Context()

	rows, err := d.db.QueryContext(ctx, `SELECT id, body, created_at FROM notes ORDER BY id DESC LIMIT ?`, 50)
	if err != nil {
		return fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	notes := []note{}
	for rows.Next() {
		var n note
		if err := rows.Scan(&n.ID, &n.Body, &n.CreatedAt); err != nil {
			return fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate notes: %w", err)
	}

	d.slog.InfoContext(ctx, "listed notes", "count", len(notes))

	return c.JSON(http.StatusOK, notes)
}

func (d *demo) createNote(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Body string `json:"body" form:"body"`
	}
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Body == "" {
		d.slog.WarnContext(ctx, "rejected empty note")
		return echo.NewHTTPError(http.StatusBadRequest, "body is required")
	}

	n := note{Body: req.Body, CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	res, err := d.db.ExecContext(ctx, `INSERT INTO notes (body, created_at) VALUES (?, ?)`, n.Body, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	if n.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("get note id: %w", err)
	}

	d.slog.InfoContext(ctx, "created note", slog.Group("note", "id", n.ID, "length", len(n.Body)))

	return c.JSON(http.StatusCreated, n)
}

func (d *demo) getNote(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	stmt, err := d.db.PrepareContext(ctx, `SELECT id, body, created_at FROM notes WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	var n note
	switch err := stmt.QueryRowContext(ctx, id).Scan(&n.ID, &n.Body, &n.CreatedAt); {
	case errors.Is(err, sql.ErrNoRows):
		return echo.NewHTTPError(http.StatusNotFound, "no such note")
	case err != nil:
		return fmt.Errorf("get note: %w", err)
	}

	return c.JSON(http.StatusOK, n)
}

func (d *demo) fetch(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.upstream, nil)
	if err != nil {
		return fmt.Errorf("create upstream request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch upstream: %w", err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return fmt.Errorf("read upstream response: %w", err)
	}

	d.zlog.Info().Ctx(ctx).Str("upstream", d.upstream).Int("status", resp.StatusCode).Int64("bytes", n).Msg("fetched upstream")

	return c.JSON(http.StatusOK, map[string]any{
		"upstream": d.upstream,
		"status":   resp.StatusCode,
		"bytes":    n,
	})
}

type demoError struct{ code string }

func (e demoError) Error() string { return "demo failure " + e.code }
func (e demoError) Code() string  { return e.code }

func (d *demo) fail(c echo.Context) error {
	d.zlog.Warn().Ctx(c.Request().Context()).Msg("about to fail")
	return fmt.Errorf("handle request: %w", demoError{code: "E_DEMO"})
}

func (d *demo) crash(c echo.Context) error {
	var notes map[string]note
	notes["boom"] = note{} // assignment to nil map
	return nil
}

func (d *demo) background(c echo.Context) error {
	ctx := context.WithoutCancel(c.Request().Context())

	d.tel.Go(ctx, func(ctx context.Context) {
		d.slog.InfoContext(ctx, "background work started")
		time.Sleep(100 * time.Millisecond)

		var count int
		if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&count); err != nil {
			d.tel.RecordError(ctx, err, map[string]any{"task": "count"})
			return
		}
		d.tel.WriteLog(ctx, telescope.LevelInfo, "background work finished", map[string]any{"notes": count})

		if count == 0 {
			panic("no notes to work on")
		}
	})

	return c.NoContent(http.StatusAccepted)
}

func (d *demo) postgres(c echo.Context) error {
	if d.pool == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Postgres isn't configured")
	}

	ctx := c.Request().Context()

	var now time.Time
	if err := d.pool.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return fmt.Errorf("query Postgres: %w", err)
	}

	return c.JSON(http.StatusOK, map[string]any{"now": now})
}
