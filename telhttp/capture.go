package telhttp

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/peterbourgon/telescope"
)

// HeaderID is the response header carrying the id of the recorded request.
const HeaderID = "X-Telescope-ID"

const (
	redacted        = "********"
	truncatedSuffix = "(truncated)"
)

var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Cookie":              true,
	"Proxy-Authorization": true,
	"Set-Cookie":          true,
}

// Headers flattens h into one value per header, joining multiple values with
// ", ". The values of headers which carry credentials are redacted.
func Headers(h http.Header) telescope.Headers {
	res := make(telescope.Headers, len(h))
	for key, vals := range h {
		key = http.CanonicalHeaderKey(key)
		if sensitiveHeaders[key] {
			res[key] = redacted
			continue
		}
		res[key] = strings.Join(vals, ", ")
	}
	return res
}

// TruncateBody renders the body as a string of at most max bytes, with a
// suffix marking any truncation. A max of zero or less means no limit.
func TruncateBody(body []byte, max int) string {
	if max > 0 && len(body) > max {
		return string(body[:max]) + truncatedSuffix
	}
	return string(body)
}

// ClientIP returns the address of the client which made the request,
// preferring proxy headers over the remote address of the connection.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// PeekRequestBody returns the first max bytes of the request body, and
// replaces the body with an equivalent reader, so that the handler reads
// exactly what it would have read otherwise. Middlewares for other routers
// use it to capture request bodies the same way Middleware does.
func PeekRequestBody(r *http.Request, max int) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}

	head := readHead(r.Body, max)
	r.Body = &readCloser{
		Reader: io.MultiReader(bytes.NewReader(head), r.Body),
		Closer: r.Body,
	}
	return TruncateBody(head, max)
}

// copyRequestBody returns the first max bytes of a copy of the outgoing
// request body, if the request can produce one. The request itself is not
// modified.
func copyRequestBody(req *http.Request, max int) string {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody == nil {
		return ""
	}

	body, err := req.GetBody()
	if err != nil {
		return ""
	}
	defer body.Close()

	return TruncateBody(readHead(body, max), max)
}

// readHead reads one byte more than max, so that TruncateBody can tell whether
// there was more. A max of zero or less reads everything.
func readHead(r io.Reader, max int) []byte {
	if max > 0 {
		r = io.LimitReader(r, int64(max)+1)
	}
	head, _ := io.ReadAll(r)
	return head
}

type readCloser struct {
	io.Reader
	io.Closer
}

// CaptureWriter wraps an http.ResponseWriter, and records the status code, the
// number of bytes written, and a bounded copy of the response body.
type CaptureWriter struct {
	http.ResponseWriter

	flush func()
	code  int
	n     int
	max   int
	body  bytes.Buffer
	over  bool
}

// NewCaptureWriter wraps w, retaining at most max bytes of the body. A max of
// zero or less means no limit.
func NewCaptureWriter(w http.ResponseWriter, max int) *CaptureWriter {
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	return &CaptureWriter{ResponseWriter: w, flush: flush, max: max}
}

// WriteHeader implements http.ResponseWriter.
func (cw *CaptureWriter) WriteHeader(code int) {
	if cw.code == 0 {
		cw.code = code
	}
	cw.ResponseWriter.WriteHeader(code)
}

// Write implements http.ResponseWriter.
func (cw *CaptureWriter) Write(p []byte) (int, error) {
	if cw.code == 0 {
		cw.code = http.StatusOK
	}
	n, err := cw.ResponseWriter.Write(p)
	cw.n += n
	cw.capture(p[:n])
	return n, err
}

func (cw *CaptureWriter) capture(p []byte) {
	if cw.over {
		return
	}
	if room := cw.max - cw.body.Len(); cw.max > 0 && len(p) > room {
		cw.body.Write(p[:room])
		cw.over = true
		return
	}
	cw.body.Write(p)
}

// Flush implements http.Flusher, and is a no-op if the wrapped writer isn't a
// flusher.
func (cw *CaptureWriter) Flush() {
	cw.flush()
}

// Unwrap returns the wrapped writer, for http.ResponseController.
func (cw *CaptureWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}

// Code returns the status code of the response, which is 200 if the handler
// never wrote a header explicitly.
func (cw *CaptureWriter) Code() int {
	if cw.code == 0 {
		return http.StatusOK
	}
	return cw.code
}

// Wrote returns true if a status code or any part of the body has been sent.
func (cw *CaptureWriter) Wrote() bool {
	return cw.code != 0
}

// Written returns the number of body bytes written.
func (cw *CaptureWriter) Written() int {
	return cw.n
}

// Body returns the captured response body.
func (cw *CaptureWriter) Body() string {
	if cw.over {
		return cw.body.String() + truncatedSuffix
	}
	return cw.body.String()
}
