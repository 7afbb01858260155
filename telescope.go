package telescope

import (
	"context"
	"errors"
	"fmt"

	"github.com/peterbourgon/telescope/internal/telpubsub"
	"github.com/peterbourgon/telescope/internal/telutil"
	"github.com/rs/zerolog"
)

// ErrUnknownCategory is returned by category-generic operations when the given
// category isn't one of the known categories.
var ErrUnknownCategory = errors.New("unknown category")

const createdAtLayout = "2006-01-02 15:04:05.000"

// Telescope records entries into per-category collections, and serves them
// back to readers. It's the single point through which every integration
// records entries.
//
// A program should normally construct a single telescope at startup, and pass
// it to the components which need it. Telescope is safe for concurrent use.
type Telescope struct {
	config *telutil.Atomic[Config]

	requests       *Collection[*IncomingRequest]
	clientRequests *Collection[*OutgoingRequest]
	exceptions     *Collection[*Exception]
	logs           *Collection[*Log]
	queries        *Collection[*Query]

	broker *telpubsub.Broker[Record]
}

// New returns a telescope with the given config. Typically, the config is
// produced by DefaultConfig, and modified by the caller as necessary.
func New(cfg Config) *Telescope {
	cfg = cfg.normalize()
	return &Telescope{
		config:         telutil.NewAtomic(cfg),
		requests:       NewCollection[*IncomingRequest](cfg.MaxEntries),
		clientRequests: NewCollection[*OutgoingRequest](cfg.MaxEntries),
		exceptions:     NewCollection[*Exception](cfg.MaxEntries),
		logs:           NewCollection[*Log](cfg.MaxEntries),
		queries:        NewCollection[*Query](cfg.MaxEntries),
		broker:         telpubsub.NewBroker[Record](),
	}
}

// Config returns a copy of the current config.
func (t *Telescope) Config() Config {
	return t.config.Get().normalize()
}

// UpdateConfig applies fn to a copy of the current config, and makes the
// result the new config. If MaxEntries changes, every collection is resized,
// which may evict entries.
func (t *Telescope) UpdateConfig(fn func(*Config)) {
	var before, after int
	t.config.Update(func(cfg Config) Config {
		next := cfg.normalize()
		fn(&next)
		next = next.normalize()
		before, after = cfg.MaxEntries, next.MaxEntries

		// Resized under the config lock, so that concurrent updates can't
		// leave the collections at a different size than the config.
		if after != before {
			t.requests.Resize(after)
			t.clientRequests.Resize(after)
			t.exceptions.Resize(after)
			t.logs.Resize(after)
			t.queries.Resize(after)
		}
		return next
	})

	if after != before {
		t.Logger().Debug().Int("before", before).Int("after", after).Msg("resized collections")
	}
}

// Enabled returns true if recording is enabled.
func (t *Telescope) Enabled() bool {
	return t.config.Get().Enabled
}

// Watching returns true if entries of the given category are being recorded.
func (t *Telescope) Watching(c Category) bool {
	return t.config.Get().Watching(c)
}

// ShouldRecordRequest returns true if an incoming request for the given URL
// path should be recorded, and a request scope opened for it. Whether the
// request entry itself is stored is additionally subject to the requests
// watcher.
func (t *Telescope) ShouldRecordRequest(path string) bool {
	cfg := t.config.Get()
	return cfg.Enabled && !cfg.Ignored(path)
}

// MaxBodyBytes returns the configured limit for captured bodies.
func (t *Telescope) MaxBodyBytes() int {
	return t.config.Get().MaxBodyBytes
}

// NewRequestContext returns a request context for a new incoming request,
// with a freshly generated id. Middlewares call this before invoking the
// downstream handler, so every entry recorded during handling can refer to
// the id, and then record the request entry itself with the same id.
func (t *Telescope) NewRequestContext(method, uri string) RequestContext {
	cfg := t.config.Get()
	return RequestContext{
		RequestID: cfg.NewID(),
		Method:    method,
		URI:       uri,
		StartTime: cfg.Now(),
	}
}

// RecordIncomingRequest records the incoming request. If presetID is not empty,
// it's used as the id of the entry, otherwise a new id is generated. It returns
// the id of the recorded entry, or the empty string if nothing was recorded.
func (t *Telescope) RecordIncomingRequest(e *IncomingRequest, presetID string) string {
	if e == nil {
		return ""
	}
	cp := e.clone()
	return record(t, t.requests, cp, &cp.Entry, presetID)
}

// RecordOutgoingRequest records the outgoing request, and returns its id, or
// the empty string if nothing was recorded.
func (t *Telescope) RecordOutgoingRequest(e *OutgoingRequest) string {
	if e == nil {
		return ""
	}
	cp := e.clone()
	return record(t, t.clientRequests, cp, &cp.Entry, "")
}

// RecordException records the exception, and returns its id, or the empty
// string if nothing was recorded.
func (t *Telescope) RecordException(e *Exception) string {
	if e == nil {
		return ""
	}
	cp := e.clone()
	return record(t, t.exceptions, cp, &cp.Entry, "")
}

// RecordLog records the log, and returns its id, or the empty string if
// nothing was recorded.
func (t *Telescope) RecordLog(e *Log) string {
	if e == nil {
		return ""
	}
	cp := e.clone()
	return record(t, t.logs, cp, &cp.Entry, "")
}

// RecordQuery records the query, and returns its id, or the empty string if
// nothing was recorded.
func (t *Telescope) RecordQuery(e *Query) string {
	if e == nil {
		return ""
	}
	cp := e.clone()
	return record(t, t.queries, cp, &cp.Entry, "")
}

// record stamps the entry header and stores the entry. Recording is best
// effort: a panic while recording is logged and swallowed, so that it never
// reaches the code being observed.
func record[T interface {
	comparable
	Record
}](t *Telescope, c *Collection[T], val T, hdr *Entry, presetID string) (id string) {
	cfg := t.config.Get()
	if !cfg.Watching(val.Category()) {
		return ""
	}

	defer func() {
		if r := recover(); r != nil {
			cfg.Logger.Warn().Str("category", string(val.Category())).Interface("panic", r).Msg("record entry failed")
			id = ""
		}
	}()

	now := cfg.Now()
	hdr.ID = presetID
	if hdr.ID == "" {
		hdr.ID = cfg.NewID()
	}
	hdr.Timestamp = now.UnixMilli()
	hdr.CreatedAt = now.UTC().Format(createdAtLayout)

	id = c.Create(val)
	t.broker.Publish(val)
	return id
}

// IncomingRequest returns the incoming request with the given id, if it exists.
func (t *Telescope) IncomingRequest(id string) (*IncomingRequest, bool) {
	return t.requests.FindByID(id)
}

// IncomingRequests returns the limit most recent incoming requests, oldest
// first. A limit of zero or less returns all of them.
func (t *Telescope) IncomingRequests(limit int) []*IncomingRequest {
	return t.requests.Recent(limit)
}

// IncomingRequestsByParent returns the incoming requests with the given parent.
func (t *Telescope) IncomingRequestsByParent(parentID string) []*IncomingRequest {
	return t.requests.FindByParentID(parentID)
}

// OutgoingRequest returns the outgoing request with the given id, if it exists.
func (t *Telescope) OutgoingRequest(id string) (*OutgoingRequest, bool) {
	return t.clientRequests.FindByID(id)
}

// OutgoingRequests returns the limit most recent outgoing requests, oldest
// first. A limit of zero or less returns all of them.
func (t *Telescope) OutgoingRequests(limit int) []*OutgoingRequest {
	return t.clientRequests.Recent(limit)
}

// OutgoingRequestsByParent returns the outgoing requests with the given parent.
func (t *Telescope) OutgoingRequestsByParent(parentID string) []*OutgoingRequest {
	return t.clientRequests.FindByParentID(parentID)
}

// Exception returns the exception with the given id, if it exists.
func (t *Telescope) Exception(id string) (*Exception, bool) {
	return t.exceptions.FindByID(id)
}

// Exceptions returns the limit most recent exceptions, oldest first. A limit
// of zero or less returns all of them.
func (t *Telescope) Exceptions(limit int) []*Exception {
	return t.exceptions.Recent(limit)
}

// ExceptionsByParent returns the exceptions with the given parent.
func (t *Telescope) ExceptionsByParent(parentID string) []*Exception {
	return t.exceptions.FindByParentID(parentID)
}

// Log returns the log with the given id, if it exists.
func (t *Telescope) Log(id string) (*Log, bool) {
	return t.logs.FindByID(id)
}

// Logs returns the limit most recent logs, oldest first. A limit of zero or
// less returns all of them.
func (t *Telescope) Logs(limit int) []*Log {
	return t.logs.Recent(limit)
}

// LogsByParent returns the logs with the given parent.
func (t *Telescope) LogsByParent(parentID string) []*Log {
	return t.logs.FindByParentID(parentID)
}

// Query returns the query with the given id, if it exists.
func (t *Telescope) Query(id string) (*Query, bool) {
	return t.queries.FindByID(id)
}

// Queries returns the limit most recent queries, oldest first. A limit of zero
// or less returns all of them.
func (t *Telescope) Queries(limit int) []*Query {
	return t.queries.Recent(limit)
}

// QueriesByParent returns the queries with the given parent.
func (t *Telescope) QueriesByParent(parentID string) []*Query {
	return t.queries.FindByParentID(parentID)
}

// Children are all of the entries recorded on behalf of a single request.
type Children struct {
	OutgoingRequests []*OutgoingRequest `json:"client_requests"`
	Exceptions       []*Exception       `json:"exceptions"`
	Logs             []*Log             `json:"logs"`
	Queries          []*Query           `json:"queries"`
}

// Children returns every retained entry whose parent is the given request.
func (t *Telescope) Children(requestID string) Children {
	return Children{
		OutgoingRequests: t.clientRequests.FindByParentID(requestID),
		Exceptions:       t.exceptions.FindByParentID(requestID),
		Logs:             t.logs.FindByParentID(requestID),
		Queries:          t.queries.FindByParentID(requestID),
	}
}

// Entry returns the entry with the given id in the given category.
func (t *Telescope) Entry(c Category, id string) (Record, bool, error) {
	switch c {
	case CategoryRequests:
		return find(t.requests, id)
	case CategoryClientRequests:
		return find(t.clientRequests, id)
	case CategoryExceptions:
		return find(t.exceptions, id)
	case CategoryLogs:
		return find(t.logs, id)
	case CategoryQueries:
		return find(t.queries, id)
	default:
		return nil, false, fmt.Errorf("%q: %w", c, ErrUnknownCategory)
	}
}

// Entries returns the limit most recent entries in the given category, oldest
// first. A limit of zero or less returns all of them.
func (t *Telescope) Entries(c Category, limit int) ([]Record, error) {
	switch c {
	case CategoryRequests:
		return records(t.requests.Recent(limit)), nil
	case CategoryClientRequests:
		return records(t.clientRequests.Recent(limit)), nil
	case CategoryExceptions:
		return records(t.exceptions.Recent(limit)), nil
	case CategoryLogs:
		return records(t.logs.Recent(limit)), nil
	case CategoryQueries:
		return records(t.queries.Recent(limit)), nil
	default:
		return nil, fmt.Errorf("%q: %w", c, ErrUnknownCategory)
	}
}

// EntriesByParent returns the entries in the given category with the given
// parent, oldest first.
func (t *Telescope) EntriesByParent(c Category, parentID string) ([]Record, error) {
	switch c {
	case CategoryRequests:
		return records(t.requests.FindByParentID(parentID)), nil
	case CategoryClientRequests:
		return records(t.clientRequests.FindByParentID(parentID)), nil
	case CategoryExceptions:
		return records(t.exceptions.FindByParentID(parentID)), nil
	case CategoryLogs:
		return records(t.logs.FindByParentID(parentID)), nil
	case CategoryQueries:
		return records(t.queries.FindByParentID(parentID)), nil
	default:
		return nil, fmt.Errorf("%q: %w", c, ErrUnknownCategory)
	}
}

func find[T interface {
	comparable
	Record
}](c *Collection[T], id string) (Record, bool, error) {
	entry, ok := c.FindByID(id)
	if !ok {
		return nil, false, nil
	}
	return entry, true, nil
}

func records[T Record](entries []T) []Record {
	res := make([]Record, len(entries))
	for i := range entries {
		res[i] = entries[i]
	}
	return res
}

// Stats are the number of retained entries per category.
type Stats struct {
	Requests       int `json:"requests"`
	ClientRequests int `json:"client_requests"`
	Exceptions     int `json:"exceptions"`
	Logs           int `json:"logs"`
	Queries        int `json:"queries"`
}

// Stats counts the retained entries in each category. It's computed on every
// call.
func (t *Telescope) Stats() Stats {
	return Stats{
		Requests:       t.requests.Count(),
		ClientRequests: t.clientRequests.Count(),
		Exceptions:     t.exceptions.Count(),
		Logs:           t.logs.Count(),
		Queries:        t.queries.Count(),
	}
}

// Clear removes every entry from every collection.
func (t *Telescope) Clear() {
	t.requests.Clear()
	t.clientRequests.Clear()
	t.exceptions.Clear()
	t.logs.Clear()
	t.queries.Clear()
	t.Logger().Debug().Msg("cleared all entries")
}

// Subscribe sends every subsequently recorded entry which passes allow to ch.
// A nil allow func accepts every entry. Sends don't block, so entries are
// dropped if ch is full. Subscribe blocks until ctx is canceled.
func (t *Telescope) Subscribe(ctx context.Context, allow func(Record) bool, ch chan<- Record) error {
	stats, err := t.broker.Subscribe(ctx, allow, ch)
	t.Logger().Debug().Stringer("stats", stats).Err(err).Msg("subscription ended")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Logger returns the logger for diagnostics about the telescope itself, as set
// in the config. Integrations log through it, too.
func (t *Telescope) Logger() *zerolog.Logger {
	logger := t.config.Get().Logger
	return &logger
}
