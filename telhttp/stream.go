package telhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bernerdschaefer/eventsource"
	"github.com/peterbourgon/telescope"
)

// StreamServer streams entries to clients as server-sent events, as they're
// recorded. Each entry is sent as an event whose type is the category of the
// entry, whose id is the id of the entry, and whose data is the JSON encoded
// entry. The stream starts with an "init" event.
//
// Clients can restrict the stream to specific categories with one or more
// category query parameters, and can set the size of the send buffer with the
// sendbuf query parameter. Entries are dropped if the buffer is full.
type StreamServer struct {
	tel *telescope.Telescope
}

// NewStreamServer returns a stream server for the given telescope.
func NewStreamServer(tel *telescope.Telescope) *StreamServer {
	return &StreamServer{tel: tel}
}

// ServeHTTP implements http.Handler. Requests must Accept: text/event-stream.
func (s *StreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := s.tel.Logger()

	if r.Method != http.MethodGet {
		respondError(logger, w, fmt.Errorf("method %s not allowed", r.Method), http.StatusMethodNotAllowed)
		return
	}

	if !requestExplicitlyAccepts(r, "text/event-stream") {
		err := fmt.Errorf("invalid request Accept header (%s)", r.Header.Get("accept"))
		respondError(logger, w, err, http.StatusBadRequest)
		return
	}

	categories := map[telescope.Category]bool{}
	for _, s := range r.URL.Query()["category"] {
		c, ok := telescope.ParseCategory(s)
		if !ok {
			respondError(logger, w, fmt.Errorf("%q: %w", s, telescope.ErrUnknownCategory), http.StatusBadRequest)
			return
		}
		categories[c] = true
	}

	var (
		sendbuf = parseRange(r.URL.Query().Get("sendbuf"), strconv.Atoi, 0, 100, 100000)
		recordc = make(chan telescope.Record, sendbuf)
		donec   = make(chan struct{})
		allow   func(telescope.Record) bool
	)
	if len(categories) > 0 {
		allow = func(rec telescope.Record) bool { return categories[rec.Category()] }
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer close(donec)
		if err := s.tel.Subscribe(ctx, allow, recordc); err != nil {
			logger.Error().Err(err).Msg("subscribe")
		}
	}()
	defer func() {
		cancel()
		<-donec
	}()

	eventsource.Handler(func(lastID string, encoder *eventsource.Encoder, stop <-chan bool) {
		logger.Debug().Int("sendbuf", sendbuf).Int("categories", len(categories)).Msg("stream started")
		defer logger.Debug().Msg("stream stopped")

		initc := make(chan struct{}, 1)
		initc <- struct{}{}

		for {
			select {
			case <-initc:
				data, err := json.Marshal(map[string]any{
					"sendbuf": sendbuf,
					"stats":   s.tel.Stats(),
				})
				if err != nil {
					logger.Error().Err(err).Msg("JSON marshal init")
					continue
				}
				if err := encoder.Encode(eventsource.Event{Type: "init", Data: data}); err != nil {
					logger.Debug().Err(err).Msg("encode init")
					return
				}

			case rec := <-recordc:
				data, err := json.Marshal(rec)
				if err != nil {
					logger.Error().Err(err).Msg("JSON marshal entry")
					continue
				}
				if err := encoder.Encode(eventsource.Event{
					Type: string(rec.Category()),
					ID:   rec.EntryID(),
					Data: data,
				}); err != nil {
					logger.Debug().Err(err).Msg("encode entry")
					return
				}

			case <-donec:
				return

			case <-stop:
				return

			case <-ctx.Done():
				return
			}
		}
	}).ServeHTTP(w, r)
}

// StreamClient streams entries from a remote stream server.
type StreamClient struct {
	// URI of the remote stream server, e.g. localhost:8080/telescope/api/stream.
	// Required.
	URI string

	// Categories to subscribe to. Empty means all categories.
	Categories []telescope.Category

	// SendBuffer used by the remote stream server. Min 0, max 100k.
	SendBuffer int

	// RetryInterval between reconnect attempts. Default 3s, min 1s, max 60s.
	RetryInterval time.Duration

	// HTTPClient used to connect to the server. Default http.DefaultClient.
	HTTPClient HTTPClient
}

func (c *StreamClient) initialize() {
	if c.URI != "" && !strings.HasPrefix(c.URI, "http") {
		c.URI = "http://" + c.URI
	}

	if min, max := 0, 100000; c.SendBuffer < min {
		c.SendBuffer = min
	} else if c.SendBuffer > max {
		c.SendBuffer = max
	}

	if def, min, max := 3*time.Second, 1*time.Second, 60*time.Second; c.RetryInterval == 0 {
		c.RetryInterval = def
	} else if c.RetryInterval < min {
		c.RetryInterval = min
	} else if c.RetryInterval > max {
		c.RetryInterval = max
	}

	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// errStreamEnded is returned by connect when the server ends the stream for
// good, with a 204 No Content.
var errStreamEnded = errors.New("stream ended by server")

// recoverableError marks a connect error after which the client reconnects.
type recoverableError struct{ error }

func (e recoverableError) Unwrap() error { return e.error }

// Stream entries from the remote server to the provided channel, until the
// context is canceled, or a non-recoverable error occurs. Dropped connections
// and 5xx responses are retried after the retry interval, resuming from the
// last received event id.
//
// Connections are made and read in the calling goroutine, and canceling the
// context aborts them via the request context, so nothing is shared with
// another goroutine.
func (c *StreamClient) Stream(ctx context.Context, ch chan<- telescope.Record) error {
	c.initialize()

	uri, err := url.Parse(c.URI)
	if err != nil {
		return fmt.Errorf("parse URI: %w", err)
	}

	query := uri.Query()
	if c.SendBuffer > 0 {
		query.Set("sendbuf", strconv.Itoa(c.SendBuffer))
	}
	for _, category := range c.Categories {
		query.Add("category", string(category))
	}
	uri.RawQuery = query.Encode()

	var lastID string
	for {
		err := c.connect(ctx, uri.String(), &lastID, ch)
		switch {
		case ctx.Err() != nil, errors.Is(err, errStreamEnded):
			return nil
		case errors.As(err, &recoverableError{}):
			// reconnect
		case err != nil:
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.RetryInterval):
		}
	}
}

// connect makes a single connection to the server, and forwards entries to
// ch until the connection fails.
func (c *StreamClient) connect(ctx context.Context, uri string, lastID *string, ch chan<- telescope.Record) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if *lastID != "" {
		req.Header.Set("Last-Event-Id", *lastID)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return recoverableError{fmt.Errorf("execute HTTP request: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return recoverableError{fmt.Errorf("HTTP response %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusNoContent:
		return errStreamEnded
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unrecoverable HTTP response %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("content-type")); mediaType != "text/event-stream" {
		return fmt.Errorf("invalid response content type %q", resp.Header.Get("content-type"))
	}

	dec := eventsource.NewDecoder(resp.Body)
	for {
		var ev eventsource.Event
		err := dec.Decode(&ev)
		switch {
		case errors.Is(err, eventsource.ErrInvalidEncoding):
			continue
		case err != nil:
			return recoverableError{fmt.Errorf("read server-sent event: %w", err)}
		}

		if len(ev.Data) == 0 {
			continue
		}
		if ev.ID != "" || ev.ResetID {
			*lastID = ev.ID
		}
		if ev.Type == "init" {
			continue
		}

		rec, err := decodeRecord(telescope.Category(ev.Type), ev.Data)
		if err != nil {
			return fmt.Errorf("decode %s event: %w", ev.Type, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch <- rec:
		}
	}
}

func decodeRecord(c telescope.Category, data []byte) (telescope.Record, error) {
	rec, err := telescope.NewRecord(c)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
