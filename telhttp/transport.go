package telhttp

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/peterbourgon/telescope"
	"github.com/peterbourgon/telescope/internal/telutil"
)

// Transport is an http.RoundTripper which records every request it makes as
// an outgoing request entry, with the request carried by the request context,
// if any, as its parent.
//
// The round trip itself is delegated to the base transport, and its results
// are returned unchanged. Failed round trips are recorded with a status of
// zero and the error message. The response body is captured as the caller
// reads it, and the entry is recorded when the body is fully read or closed.
type Transport struct {
	tel  *telescope.Telescope
	base http.RoundTripper
}

// NewTransport returns a transport recording requests made via base. A nil
// base means http.DefaultTransport. If base is already a transport for tel,
// it's returned as-is.
func NewTransport(tel *telescope.Telescope, base http.RoundTripper) *Transport {
	if t, ok := base.(*Transport); ok && t.tel == tel {
		return t
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{tel: tel, base: base}
}

// Base returns the wrapped transport.
func (t *Transport) Base() http.RoundTripper {
	return t.base
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.tel.Enabled() {
		return t.base.RoundTrip(req)
	}

	var (
		begin = time.Now()
		max   = t.tel.MaxBodyBytes()
		entry = &telescope.OutgoingRequest{
			Entry:          telescope.Entry{ParentID: telescope.RequestID(req.Context())},
			Method:         req.Method,
			URI:            req.URL.String(),
			RequestHeaders: Headers(req.Header),
			RequestBody:    copyRequestBody(req, max),
			UserAgent:      req.UserAgent(),
		}
	)
	if entry.Method == "" {
		entry.Method = http.MethodGet
	}

	resp, err := t.base.RoundTrip(req)

	entry.Duration = telutil.Milliseconds(time.Since(begin))

	if err != nil {
		entry.Error = err.Error()
		t.tel.RecordOutgoingRequest(entry)
		return resp, err
	}

	entry.ResponseStatus = resp.StatusCode
	entry.ResponseHeaders = Headers(resp.Header)
	if resp.Body == nil || resp.Body == http.NoBody || resp.StatusCode == http.StatusSwitchingProtocols {
		t.tel.RecordOutgoingRequest(entry)
		return resp, nil
	}

	resp.Body = &capturingBody{
		ReadCloser: resp.Body,
		max:        max,
		done: func(body string) {
			entry.ResponseBody = body
			t.tel.RecordOutgoingRequest(entry)
		},
	}
	return resp, nil
}

type capturingBody struct {
	io.ReadCloser

	max  int
	mtx  sync.Mutex // Read and Close may be called concurrently
	buf  bytes.Buffer
	over bool
	once sync.Once
	done func(body string)
}

func (b *capturingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.capture(p[:n])
	if err == io.EOF {
		b.finish()
	}
	return n, err
}

func (b *capturingBody) Close() error {
	err := b.ReadCloser.Close()
	b.finish()
	return err
}

func (b *capturingBody) capture(p []byte) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.over {
		return
	}
	if room := b.max - b.buf.Len(); b.max > 0 && len(p) > room {
		b.buf.Write(p[:room])
		b.over = true
		return
	}
	b.buf.Write(p)
}

func (b *capturingBody) finish() {
	b.once.Do(func() {
		b.mtx.Lock()
		body := b.buf.String()
		if b.over {
			body += truncatedSuffix
		}
		b.mtx.Unlock()
		b.done(body)
	})
}

// Instrument replaces the transport of the client with one which records
// outgoing requests to tel, and returns a function which restores the
// original transport. Instrumenting a client which is already instrumented
// for tel is a no-op, and the returned function does nothing.
func Instrument(client *http.Client, tel *telescope.Telescope) (undo func()) {
	if t, ok := client.Transport.(*Transport); ok && t.tel == tel {
		return func() {}
	}

	prev := client.Transport
	client.Transport = NewTransport(tel, prev)
	return func() { client.Transport = prev }
}
