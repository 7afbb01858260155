package telhttp_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/peterbourgon/telescope"
	"github.com/peterbourgon/telescope/telhttp"
)

func TestHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Add("Accept", "text/html")
	h.Add("Accept", "application/json")
	h.Set("Authorization", "Bearer hunter2")
	h.Set("Cookie", "session=abc")
	h["set-cookie"] = []string{"a=b"} // non-canonical

	AssertEqual(t, telescope.Headers{
		"Content-Type":  "application/json",
		"Accept":        "text/html, application/json",
		"Authorization": "********",
		"Cookie":        "********",
		"Set-Cookie":    "********",
	}, telhttp.Headers(h))

	AssertEqual(t, telescope.Headers{}, telhttp.Headers(nil))
}

func TestTruncateBody(t *testing.T) {
	t.Parallel()

	AssertEqual(t, "hello", telhttp.TruncateBody([]byte("hello"), 5))
	AssertEqual(t, "hel(truncated)", telhttp.TruncateBody([]byte("hello"), 3))
	AssertEqual(t, "hello", telhttp.TruncateBody([]byte("hello"), 0))
	AssertEqual(t, "", telhttp.TruncateBody(nil, 10))
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	for _, testcase := range []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{"remote", "10.0.0.1:5555", nil, "10.0.0.1"},
		{"remote without port", "10.0.0.1", nil, "10.0.0.1"},
		{"forwarded", "10.0.0.1:5555", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.9"}, "1.2.3.4"},
		{"real ip", "10.0.0.1:5555", map[string]string{"X-Real-IP": "5.6.7.8"}, "5.6.7.8"},
	} {
		testcase := testcase
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = testcase.remote
			for k, v := range testcase.header {
				r.Header.Set(k, v)
			}
			AssertEqual(t, testcase.want, telhttp.ClientIP(r))
		})
	}
}

func TestCaptureWriter(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	cw := telhttp.NewCaptureWriter(rec, 8)
	AssertEqual(t, false, cw.Wrote())
	AssertEqual(t, http.StatusOK, cw.Code())

	cw.WriteHeader(http.StatusTeapot)
	cw.WriteHeader(http.StatusInternalServerError) // ignored
	cw.Write([]byte("0123"))
	cw.Write([]byte("456789"))
	cw.Flush()

	AssertEqual(t, true, cw.Wrote())
	AssertEqual(t, http.StatusTeapot, cw.Code())
	AssertEqual(t, 10, cw.Written())
	AssertEqual(t, "01234567(truncated)", cw.Body())
	AssertEqual(t, "0123456789", rec.Body.String())
	AssertEqual(t, true, rec.Flushed)
	if cw.Unwrap() != http.ResponseWriter(rec) {
		t.Errorf("Unwrap: want the recorder")
	}
}

func TestCaptureWriterImplicitOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	cw := telhttp.NewCaptureWriter(rec, 1024)
	cw.Write([]byte(strings.Repeat("x", 10)))

	AssertEqual(t, true, cw.Wrote())
	AssertEqual(t, http.StatusOK, cw.Code())
	AssertEqual(t, strings.Repeat("x", 10), cw.Body())
}
