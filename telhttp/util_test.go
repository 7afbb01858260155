package telhttp_test

import (
	"strconv"
	"sync/atomic"
	"testing"

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

func newTestTelescope(t *testing.T, fns ...func(*telescope.Config)) *telescope.Telescope {
	t.Helper()

	var seq atomic.Int64
	cfg := telescope.DefaultConfig()
	cfg.NewID = func() string { return "id-" + strconv.FormatInt(seq.Add(1), 10) }
	for _, fn := range fns {
		fn(&cfg)
	}
	return telescope.New(cfg)
}
