package telescope_test

import (
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/peterbourgon/telescope"
)

func AssertEqual[T any](t *testing.T, want, have T) {
	t.Helper()
	if !cmp.Equal(want, have) {
		t.Fatal(cmp.Diff(want, have))
	}
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

var testTime = time.Date(2024, 3, 9, 12, 30, 45, 123_000_000, time.UTC)

// newTestTelescope returns a telescope with a fixed clock and sequential ids,
// modified by the optional config funcs.
func newTestTelescope(t *testing.T, fns ...func(*telescope.Config)) *telescope.Telescope {
	t.Helper()

	var seq atomic.Int64
	cfg := telescope.DefaultConfig()
	cfg.Now = func() time.Time { return testTime }
	cfg.NewID = func() string { return "id-" + strconv.FormatInt(seq.Add(1), 10) }
	for _, fn := range fns {
		fn(&cfg)
	}
	return telescope.New(cfg)
}

func ids[T telescope.Record](entries []T) []string {
	res := make([]string, len(entries))
	for i := range entries {
		res[i] = entries[i].EntryID()
	}
	return res
}
