package telhttp

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// HTTPClient models an http.Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)

func parseRange[T ~int](s string, parse func(string) (T, error), min, def, max T) T {
	v, err := parse(s)
	switch {
	case err != nil:
		return def
	case v < min:
		return min
	case v > max:
		return max
	default:
		return v
	}
}

func requestExplicitlyAccepts(r *http.Request, acceptable ...string) bool {
	accept := parseAcceptMediaTypes(r)
	for _, want := range acceptable {
		if _, ok := accept[want]; ok {
			return true
		}
	}
	return false
}

func parseAcceptMediaTypes(r *http.Request) map[string]map[string]string {
	mediaTypes := map[string]map[string]string{} // type: params
	for _, a := range strings.Split(r.Header.Get("accept"), ",") {
		mediaType, params, err := mime.ParseMediaType(a)
		if err != nil {
			continue
		}
		mediaTypes[mediaType] = params
	}
	return mediaTypes
}

func renderJSON(logger *zerolog.Logger, w http.ResponseWriter, code int, data any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")

	if err := enc.Encode(data); err != nil {
		code = http.StatusInternalServerError
		logger.Error().Err(err).Msg("marshal JSON response")
		buf.Reset()
		buf.WriteString(`{"error":"failed to marshal response"}`)
	}

	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	buf.WriteTo(w)
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondError(logger *zerolog.Logger, w http.ResponseWriter, err error, code int) {
	renderJSON(logger, w, code, errorResponse{Error: err.Error()})
}
