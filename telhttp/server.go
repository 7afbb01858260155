package telhttp

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/peterbourgon/telescope"
	"github.com/rs/zerolog"
)

// Errors returned to clients of the API.
var (
	ErrNotFound  = errors.New("not found")
	ErrMissingID = errors.New("missing id")
)

// Server provides a read-only JSON API over the entries recorded by a
// telescope, plus an endpoint to clear them. Paths are relative to wherever
// the server is mounted, e.g. via http.StripPrefix.
//
//	GET    /api/stats                      retained entries per category
//	GET    /api/{category}?limit=N         most recent entries, oldest first
//	GET    /api/{category}?parent_id=ID    entries with the given parent
//	GET    /api/{category}/{id}            a single entry
//	GET    /api/requests/{id}/children     every child of a request
//	GET    /api/stream                     live entries as server-sent events
//	DELETE /api/entries                    clear every category
type Server struct {
	tel    *telescope.Telescope
	stream *StreamServer
}

// NewServer returns a server for the given telescope.
func NewServer(tel *telescope.Telescope) *Server {
	return &Server{
		tel:    tel,
		stream: NewStreamServer(tel),
	}
}

// Limits for the limit query parameter.
const (
	ListLimitMin     = 1
	ListLimitDefault = 100
	ListLimitMax     = 10000
)

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := s.tel.Logger()

	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(segments) > 0 && segments[0] == "api" {
		segments = segments[1:]
	} else {
		respondError(logger, w, fmt.Errorf("%s: %w", r.URL.Path, ErrNotFound), http.StatusNotFound)
		return
	}

	// A trailing slash after the category means an empty id.
	if strings.HasSuffix(r.URL.Path, "/") && len(segments) == 1 {
		segments = append(segments, "")
	}

	switch {
	case len(segments) == 1 && segments[0] == "stats":
		if !allowMethod(logger, w, r, http.MethodGet) {
			return
		}
		renderJSON(logger, w, http.StatusOK, s.tel.Stats())

	case len(segments) == 1 && segments[0] == "stream":
		s.stream.ServeHTTP(w, r)

	case len(segments) == 1 && segments[0] == "entries":
		if !allowMethod(logger, w, r, http.MethodDelete) {
			return
		}
		s.tel.Clear()
		renderJSON(logger, w, http.StatusOK, s.tel.Stats())

	case len(segments) == 1:
		if !allowMethod(logger, w, r, http.MethodGet) {
			return
		}
		s.handleList(w, r, segments[0])

	case len(segments) == 2:
		if !allowMethod(logger, w, r, http.MethodGet) {
			return
		}
		s.handleEntry(w, r, segments[0], segments[1])

	case len(segments) == 3 && segments[0] == string(telescope.CategoryRequests) && segments[2] == "children":
		if !allowMethod(logger, w, r, http.MethodGet) {
			return
		}
		s.handleChildren(w, r, segments[1])

	default:
		respondError(logger, w, fmt.Errorf("%s: %w", r.URL.Path, ErrNotFound), http.StatusNotFound)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, category string) {
	logger := s.tel.Logger()

	c, ok := telescope.ParseCategory(category)
	if !ok {
		respondError(logger, w, fmt.Errorf("%q: %w", category, telescope.ErrUnknownCategory), http.StatusNotFound)
		return
	}

	var (
		urlquery = r.URL.Query()
		parentID = urlquery.Get("parent_id")
		limit    = parseRange(urlquery.Get("limit"), strconv.Atoi, ListLimitMin, ListLimitDefault, ListLimitMax)
		entries  []telescope.Record
		err      error
	)
	if urlquery.Has("parent_id") {
		entries, err = s.tel.EntriesByParent(c, parentID)
	} else {
		entries, err = s.tel.Entries(c, limit)
	}
	if err != nil {
		respondError(logger, w, err, http.StatusInternalServerError)
		return
	}

	renderJSON(logger, w, http.StatusOK, entries)
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request, category, id string) {
	logger := s.tel.Logger()

	c, ok := telescope.ParseCategory(category)
	if !ok {
		respondError(logger, w, fmt.Errorf("%q: %w", category, telescope.ErrUnknownCategory), http.StatusNotFound)
		return
	}

	if id == "" {
		respondError(logger, w, ErrMissingID, http.StatusBadRequest)
		return
	}

	entry, ok, err := s.tel.Entry(c, id)
	switch {
	case err != nil:
		respondError(logger, w, err, http.StatusInternalServerError)
	case !ok:
		respondError(logger, w, fmt.Errorf("%s %s: %w", c, id, ErrNotFound), http.StatusNotFound)
	default:
		renderJSON(logger, w, http.StatusOK, entry)
	}
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request, id string) {
	logger := s.tel.Logger()

	if id == "" {
		respondError(logger, w, ErrMissingID, http.StatusBadRequest)
		return
	}

	renderJSON(logger, w, http.StatusOK, s.tel.Children(id))
}

func allowMethod(logger *zerolog.Logger, w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method || (method == http.MethodGet && r.Method == http.MethodHead) {
		return true
	}
	w.Header().Set("allow", method)
	respondError(logger, w, fmt.Errorf("method %s not allowed", r.Method), http.StatusMethodNotAllowed)
	return false
}
