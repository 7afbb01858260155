package telecho_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/peterbourgon/telescope"
	"github.com/peterbourgon/telescope/telecho"
	"github.com/peterbourgon/telescope/telhttp"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, fns ...func(*telescope.Config)) (*echo.Echo, *telescope.Telescope) {
	t.Helper()

	cfg := telescope.DefaultConfig()
	for _, fn := range fns {
		fn(&cfg)
	}
	tel := telescope.New(cfg)

	e := echo.New()
	e.HideBanner = true
	e.Use(telecho.Middleware(tel))
	return e, tel
}

func serve(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	e, tel := newTestApp(t)
	e.POST("/users/:id", func(c echo.Context) error {
		ctx := c.Request().Context()
		tel.WriteLog(ctx, telescope.LevelInfo, "updating user "+c.Param("id"), nil)
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})

	rec := serve(e, "POST", "/users/42?x=y", `{"name":"gopher"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	id := rec.Header().Get(telhttp.HeaderID)
	require.NotEmpty(t, id)

	entry, ok := tel.IncomingRequest(id)
	require.True(t, ok)
	require.Equal(t, "POST", entry.Method)
	require.Equal(t, "/users/42?x=y", entry.URI)
	require.Equal(t, `{"name":"gopher"}`, entry.RequestBody)
	require.Equal(t, http.StatusOK, entry.ResponseStatus)
	require.JSONEq(t, `{"id":"42"}`, entry.ResponseBody)

	logs := tel.LogsByParent(id)
	require.Len(t, logs, 1)
	require.Equal(t, "updating user 42", logs[0].Message)
}

func TestMiddlewareHTTPError(t *testing.T) {
	t.Parallel()

	e, tel := newTestApp(t)
	e.GET("/missing", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "no such thing")
	})

	rec := serve(e, "GET", "/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	entry, ok := tel.IncomingRequest(rec.Header().Get(telhttp.HeaderID))
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, entry.ResponseStatus)
	require.Contains(t, entry.ResponseBody, "no such thing")
	require.Equal(t, 0, tel.Stats().Exceptions)
}

func TestMiddlewareError(t *testing.T) {
	t.Parallel()

	e, tel := newTestApp(t)
	e.GET("/fail", func(c echo.Context) error {
		return errors.New("database unavailable")
	})

	rec := serve(e, "GET", "/fail", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	id := rec.Header().Get(telhttp.HeaderID)
	exceptions := tel.ExceptionsByParent(id)
	require.Len(t, exceptions, 1)
	require.Equal(t, "*errors.errorString", exceptions[0].Class)
	require.Equal(t, "database unavailable", exceptions[0].Message)
	require.Equal(t, "/fail", exceptions[0].Context["route"])

	entry, ok := tel.IncomingRequest(id)
	require.True(t, ok)
	require.Equal(t, http.StatusInternalServerError, entry.ResponseStatus)
}

func TestMiddlewarePanic(t *testing.T) {
	t.Parallel()

	e, tel := newTestApp(t)
	e.GET("/panic", func(c echo.Context) error {
		panic("unexpected state")
	})

	rec := serve(e, "GET", "/panic", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	id := rec.Header().Get(telhttp.HeaderID)
	exceptions := tel.ExceptionsByParent(id)
	require.Len(t, exceptions, 1)
	require.Equal(t, "panic(string)", exceptions[0].Class)
	require.Equal(t, "unexpected state", exceptions[0].Message)
	require.NotEmpty(t, exceptions[0].Trace)

	entry, ok := tel.IncomingRequest(id)
	require.True(t, ok)
	require.Equal(t, http.StatusInternalServerError, entry.ResponseStatus)
}

func TestMiddlewareIgnoredPath(t *testing.T) {
	t.Parallel()

	e, tel := newTestApp(t, func(cfg *telescope.Config) { cfg.IgnorePaths = []string{"/healthz"} })
	e.GET("/healthz", func(c echo.Context) error {
		_, ok := telescope.FromContext(c.Request().Context())
		require.False(t, ok)
		return c.NoContent(http.StatusNoContent)
	})

	rec := serve(e, "GET", "/healthz", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Header().Get(telhttp.HeaderID))
	require.Equal(t, telescope.Stats{}, tel.Stats())
}
