// Package telecho records requests served by labstack/echo applications.
package telecho

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/peterbourgon/telescope"
	"github.com/peterbourgon/telescope/internal/telutil"
	"github.com/peterbourgon/telescope/telhttp"
)

// Middleware returns an echo middleware which records every request as an
// incoming request entry, and carries the request in the request context, so
// entries recorded by handlers are correlated to it.
//
// Errors of type *echo.HTTPError are rendered by the echo error handler as
// usual, and returned. Any other error, and any panic, is recorded as an
// exception with the request as its parent, and rendered as a 500. Those
// errors are considered handled, and aren't returned.
func Middleware(tel *telescope.Telescope) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			r := c.Request()
			if !tel.ShouldRecordRequest(r.URL.Path) {
				return next(c)
			}

			var (
				begin   = time.Now()
				max     = tel.MaxBodyBytes()
				rc      = tel.NewRequestContext(r.Method, r.URL.RequestURI())
				reqBody = telhttp.PeekRequestBody(r, max)
				res     = c.Response()
				cw      = telhttp.NewCaptureWriter(res.Writer, max)
			)

			res.Writer = cw
			res.Header().Set(telhttp.HeaderID, rc.RequestID)
			c.SetRequest(r.WithContext(telescope.WithRequest(r.Context(), rc)))

			defer func() {
				if x := recover(); x != nil {
					ex := telescope.NewPanicException(x, map[string]any{"method": rc.Method, "uri": rc.URI, "route": c.Path()})
					ex.ParentID = rc.RequestID
					tel.RecordException(ex)
					err = internalError(c)
				}

				took := time.Since(begin)
				tel.RecordIncomingRequest(&telescope.IncomingRequest{
					Method:          rc.Method,
					URI:             rc.URI,
					RequestHeaders:  telhttp.Headers(r.Header),
					RequestBody:     reqBody,
					ResponseStatus:  res.Status,
					ResponseHeaders: telhttp.Headers(res.Header()),
					ResponseBody:    cw.Body(),
					Duration:        telutil.Milliseconds(took),
					IP:              c.RealIP(),
					UserAgent:       r.UserAgent(),
				}, rc.RequestID)

				tel.Logger().Debug().
					Str("request_id", rc.RequestID).
					Str("method", rc.Method).
					Str("route", c.Path()).
					Int("code", res.Status).
					Str("sent", telutil.HumanizeBytes(res.Size)).
					Str("took", telutil.HumanizeDuration(took)).
					Msg("recorded request")
			}()

			err = next(c)

			var httpErr *echo.HTTPError
			switch {
			case err == nil:
				return nil
			case errors.As(err, &httpErr):
				c.Error(err)
				return err
			default:
				ex := telescope.NewException(err, map[string]any{"method": rc.Method, "uri": rc.URI, "route": c.Path()})
				ex.ParentID = rc.RequestID
				tel.RecordException(ex)
				return internalError(c)
			}
		}
	}
}

func internalError(c echo.Context) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"message": http.StatusText(http.StatusInternalServerError),
	})
}
