package telhttp

import (
	"net/http"
	"time"

	"github.com/peterbourgon/telescope"
	"github.com/peterbourgon/telescope/internal/telutil"
)

// Middleware decorates an HTTP handler by recording every request it serves as
// an incoming request entry. The request id is generated before the handler is
// called, and carried in the request context, so that every entry recorded
// while handling the request has the request as its parent. The id is also
// returned to the client in the X-Telescope-ID response header.
//
// If the handler panics, the panic is recorded as an exception, and, if the
// handler hasn't yet written a response, the client receives a 500. Panics
// with http.ErrAbortHandler are not recorded as exceptions, and are re-raised.
//
// Requests for paths under one of the configured ignore paths, and all
// requests while the telescope is disabled, are passed through untouched.
func Middleware(tel *telescope.Telescope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tel.ShouldRecordRequest(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			var (
				begin   = time.Now()
				max     = tel.MaxBodyBytes()
				rc      = tel.NewRequestContext(r.Method, r.URL.RequestURI())
				reqBody = PeekRequestBody(r, max)
				cw      = NewCaptureWriter(w, max)
			)

			cw.Header().Set(HeaderID, rc.RequestID)

			defer func() {
				x := recover()
				if x != nil && x != http.ErrAbortHandler {
					ex := telescope.NewPanicException(x, map[string]any{"method": rc.Method, "uri": rc.URI})
					ex.ParentID = rc.RequestID
					tel.RecordException(ex)
					if !cw.Wrote() {
						http.Error(cw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					}
				}

				took := time.Since(begin)
				tel.RecordIncomingRequest(&telescope.IncomingRequest{
					Method:          rc.Method,
					URI:             rc.URI,
					RequestHeaders:  Headers(r.Header),
					RequestBody:     reqBody,
					ResponseStatus:  cw.Code(),
					ResponseHeaders: Headers(cw.Header()),
					ResponseBody:    cw.Body(),
					Duration:        telutil.Milliseconds(took),
					IP:              ClientIP(r),
					UserAgent:       r.UserAgent(),
				}, rc.RequestID)

				tel.Logger().Debug().
					Str("request_id", rc.RequestID).
					Str("method", rc.Method).
					Str("uri", rc.URI).
					Int("code", cw.Code()).
					Str("sent", telutil.HumanizeBytes(cw.Written())).
					Str("took", telutil.HumanizeDuration(took)).
					Msg("recorded request")

				if x == http.ErrAbortHandler {
					panic(x)
				}
			}()

			next.ServeHTTP(cw, r.WithContext(telescope.WithRequest(r.Context(), rc)))
		})
	}
}
