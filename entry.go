package telescope

import (
	"fmt"
	"maps"
	"slices"
)

// Category identifies one kind of entry, and the collection it's stored in.
type Category string

// Categories of entries.
const (
	CategoryRequests       Category = "requests"
	CategoryClientRequests Category = "client-requests"
	CategoryExceptions     Category = "exceptions"
	CategoryLogs           Category = "logs"
	CategoryQueries        Category = "queries"
)

// Categories lists every category, in a stable order.
var Categories = []Category{
	CategoryRequests,
	CategoryClientRequests,
	CategoryExceptions,
	CategoryLogs,
	CategoryQueries,
}

// ParseCategory returns the category with the given name, and true if it is
// one of the known categories.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// NewRecord returns a new, empty entry of the type stored in the given
// category, typically as a target for decoding.
func NewRecord(c Category) (Record, error) {
	switch c {
	case CategoryRequests:
		return &IncomingRequest{}, nil
	case CategoryClientRequests:
		return &OutgoingRequest{}, nil
	case CategoryExceptions:
		return &Exception{}, nil
	case CategoryLogs:
		return &Log{}, nil
	case CategoryQueries:
		return &Query{}, nil
	default:
		return nil, fmt.Errorf("%q: %w", c, ErrUnknownCategory)
	}
}

// Record is implemented by every entry type.
type Record interface {
	// Category returns the category of the entry.
	Category() Category

	// EntryID returns the unique id of the entry.
	EntryID() string

	// EntryParentID returns the id of the incoming request which owns the
	// entry, or the empty string if there is none.
	EntryParentID() string
}

// Entry is the header shared by all entry types. The ID, Timestamp, and
// CreatedAt fields are assigned by the telescope when the entry is recorded,
// and any values set by the caller are overwritten.
type Entry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"` // milliseconds since the Unix epoch
	CreatedAt string `json:"created_at"`
	ParentID  string `json:"parent_id,omitempty"`
}

// EntryID implements Record.
func (e *Entry) EntryID() string { return e.ID }

// EntryParentID implements Record.
func (e *Entry) EntryParentID() string { return e.ParentID }

// Headers is a flattened set of HTTP headers.
type Headers map[string]string

// IncomingRequest is an HTTP request served by the program. It's the root of a
// correlation tree: other entries refer to it by ID via their ParentID.
type IncomingRequest struct {
	Entry
	Method          string  `json:"method"`
	URI             string  `json:"uri"`
	RequestHeaders  Headers `json:"request_headers,omitempty"`
	RequestBody     string  `json:"request_body,omitempty"`
	ResponseStatus  int     `json:"response_status"`
	ResponseHeaders Headers `json:"response_headers,omitempty"`
	ResponseBody    string  `json:"response_body,omitempty"`
	Duration        float64 `json:"duration"` // milliseconds
	IP              string  `json:"ip,omitempty"`
	UserAgent       string  `json:"user_agent,omitempty"`
}

// Category implements Record.
func (*IncomingRequest) Category() Category { return CategoryRequests }

// OutgoingRequest is an HTTP request made by the program to another service.
// If the call failed without producing a response, ResponseStatus is zero and
// Error describes the failure.
type OutgoingRequest struct {
	Entry
	Method          string  `json:"method"`
	URI             string  `json:"uri"`
	RequestHeaders  Headers `json:"request_headers,omitempty"`
	RequestBody     string  `json:"request_body,omitempty"`
	ResponseStatus  int     `json:"response_status"`
	ResponseHeaders Headers `json:"response_headers,omitempty"`
	ResponseBody    string  `json:"response_body,omitempty"`
	Duration        float64 `json:"duration"` // milliseconds
	UserAgent       string  `json:"user_agent,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// Category implements Record.
func (*OutgoingRequest) Category() Category { return CategoryClientRequests }

// Exception is an error or panic observed by the program.
type Exception struct {
	Entry
	Class   string         `json:"class"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Trace   []Frame        `json:"trace,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Category implements Record.
func (*Exception) Category() Category { return CategoryExceptions }

// Frame is a single call in a stack trace.
type Frame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Level is the severity of a log entry.
type Level string

// Log levels, from least to most severe.
const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelNotice   Level = "notice"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Log is a log statement written by the program.
type Log struct {
	Entry
	Level   Level          `json:"level"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// Category implements Record.
func (*Log) Category() Category { return CategoryLogs }

// Query is a database query executed by the program. Error is empty if the
// query succeeded.
type Query struct {
	Entry
	Connection string  `json:"connection"`
	Query      string  `json:"query"`
	Bindings   []any   `json:"bindings,omitempty"`
	Time       float64 `json:"time"` // milliseconds
	Error      string  `json:"error,omitempty"`
}

// Category implements Record.
func (*Query) Category() Category { return CategoryQueries }

// The clone methods return deep copies, so that a recorded entry shares no
// maps or slices with the caller's value.

func (e *IncomingRequest) clone() *IncomingRequest {
	cp := *e
	cp.RequestHeaders = maps.Clone(e.RequestHeaders)
	cp.ResponseHeaders = maps.Clone(e.ResponseHeaders)
	return &cp
}

func (e *OutgoingRequest) clone() *OutgoingRequest {
	cp := *e
	cp.RequestHeaders = maps.Clone(e.RequestHeaders)
	cp.ResponseHeaders = maps.Clone(e.ResponseHeaders)
	return &cp
}

func (e *Exception) clone() *Exception {
	cp := *e
	cp.Trace = slices.Clone(e.Trace)
	cp.Context = cloneFields(e.Context)
	return &cp
}

func (e *Log) clone() *Log {
	cp := *e
	cp.Context = cloneFields(e.Context)
	return &cp
}

func (e *Query) clone() *Query {
	cp := *e
	if e.Bindings != nil {
		cp.Bindings = make([]any, len(e.Bindings))
		for i, v := range e.Bindings {
			cp.Bindings[i] = cloneValue(v)
		}
	}
	return &cp
}

func cloneFields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	res := make(map[string]any, len(m))
	for k, v := range m {
		res[k] = cloneValue(v)
	}
	return res
}

// cloneValue copies the container types found in log fields and query
// bindings. Other values are returned as-is.
func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneFields(x)
	case []any:
		if x == nil {
			return x
		}
		res := make([]any, len(x))
		for i := range x {
			res[i] = cloneValue(x[i])
		}
		return res
	case []byte:
		return slices.Clone(x)
	case []string:
		return slices.Clone(x)
	default:
		return v
	}
}
