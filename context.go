package telescope

import (
	"context"
	"time"
)

// RequestContext identifies the incoming request on whose behalf code is
// running. It's carried in a context.Context, and read by every integration
// that records entries, so those entries can be attributed to the request.
type RequestContext struct {
	RequestID string    `json:"request_id"`
	Method    string    `json:"method"`
	URI       string    `json:"uri"`
	StartTime time.Time `json:"start_time"`
}

type requestContextKey struct{}

// WithRequest returns a new context carrying the given request context. If the
// parent context already carried a request context, it becomes "shadowed" by
// the new one for everything that uses the returned context.
func WithRequest(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// FromContext returns the request context carried by ctx, and true, if it
// exists. Otherwise, it returns a zero request context and false.
func FromContext(ctx context.Context) (RequestContext, bool) {
	if ctx == nil {
		return RequestContext{}, false
	}
	rc, ok := ctx.Value(requestContextKey{}).(RequestContext)
	return rc, ok
}

// RequestID returns the id of the request carried by ctx, or the empty string
// if ctx doesn't carry a request context.
func RequestID(ctx context.Context) string {
	rc, _ := FromContext(ctx)
	return rc.RequestID
}

// Run calls fn with a context carrying the given request context, and returns
// whatever fn returns. Everything fn does with the provided context, including
// work handed off to other goroutines, observes rc. Once Run returns, ctx is
// unaffected: nested calls to Run only shadow the outer request context for
// their own extent.
func Run(ctx context.Context, rc RequestContext, fn func(context.Context) error) error {
	return fn(WithRequest(ctx, rc))
}
