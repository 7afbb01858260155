package telescope

import (
	"sync"

	"github.com/peterbourgon/telescope/internal/telringbuf"
)

// Collection is a capacity-bounded, append-only store of entries of a single
// type. When a create would exceed the capacity, the oldest entries are
// evicted first. Entries can be looked up by id, and by parent id, in constant
// time.
//
// Collection is safe for concurrent use.
type Collection[T interface {
	comparable
	Record
}] struct {
	mtx      sync.Mutex
	buf      *telringbuf.RingBuffer[T]
	byID     map[string]T
	byParent map[string][]T // oldest first
}

// NewCollection returns an empty collection which retains at most max entries.
func NewCollection[T interface {
	comparable
	Record
}](max int) *Collection[T] {
	return &Collection[T]{
		buf:      telringbuf.NewRingBuffer[T](max),
		byID:     map[string]T{},
		byParent: map[string][]T{},
	}
}

// Create adds the entry to the collection, evicting the oldest entry if the
// collection is full, and returns the id of the entry. The entry is expected to
// be fully formed, including its id, and must not be modified afterwards.
func (c *Collection[T]) Create(entry T) string {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.index(entry)
	if dropped, ok := c.buf.Add(entry); ok {
		c.unindex(dropped)
	}

	return entry.EntryID()
}

// All returns every entry in the collection, oldest first.
func (c *Collection[T]) All() []T {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.buf.Values()
}

// Recent returns the limit most recent entries in the collection, oldest
// first. If limit is zero or less, every entry is returned.
func (c *Collection[T]) Recent(limit int) []T {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.buf.Newest(limit)
}

// FindByID returns the entry with the given id, and true, if it's in the
// collection. Otherwise it returns a zero value and false.
func (c *Collection[T]) FindByID(id string) (T, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	entry, ok := c.byID[id]
	return entry, ok
}

// FindByParentID returns every entry whose parent id is the given id, oldest
// first. If there are no such entries, for example because the parent is
// unknown, or its children have already been evicted, an empty slice is
// returned.
func (c *Collection[T]) FindByParentID(parentID string) []T {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	children := c.byParent[parentID]
	res := make([]T, len(children))
	copy(res, children)
	return res
}

// Count returns the number of entries in the collection.
func (c *Collection[T]) Count() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.buf.Len()
}

// Cap returns the maximum number of entries the collection will retain.
func (c *Collection[T]) Cap() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.buf.Cap()
}

// Resize changes the capacity of the collection. If the collection currently
// holds more than max entries, the oldest are evicted. A max of zero or less
// is ignored.
func (c *Collection[T]) Resize(max int) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	for _, dropped := range c.buf.Resize(max) {
		c.unindex(dropped)
	}
}

// Clear removes every entry from the collection.
func (c *Collection[T]) Clear() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.buf.Reset()
	c.byID = map[string]T{}
	c.byParent = map[string][]T{}
}

func (c *Collection[T]) index(entry T) {
	c.byID[entry.EntryID()] = entry
	if parentID := entry.EntryParentID(); parentID != "" {
		c.byParent[parentID] = append(c.byParent[parentID], entry)
	}
}

// unindex is called for entries leaving the ring buffer, which always happens
// oldest first. So an evicted entry is the first child of its parent.
func (c *Collection[T]) unindex(entry T) {
	id := entry.EntryID()
	if c.byID[id] == entry { // a newer entry may have reused the id
		delete(c.byID, id)
	}

	parentID := entry.EntryParentID()
	if parentID == "" {
		return
	}

	children := c.byParent[parentID]
	switch {
	case len(children) > 0 && children[0] == entry:
		var zero T
		children[0] = zero
		children = children[1:]
	default:
		for i := range children {
			if children[i] == entry {
				children = append(children[:i:i], children[i+1:]...)
				break
			}
		}
	}

	if len(children) <= 0 {
		delete(c.byParent, parentID)
	} else {
		c.byParent[parentID] = children
	}
}
