package telescope_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/peterbourgon/telescope"
)

func TestFromContextEmpty(t *testing.T) {
	t.Parallel()

	_, ok := telescope.FromContext(context.Background())
	AssertEqual(t, false, ok)
	AssertEqual(t, "", telescope.RequestID(context.Background()))
}

func TestRunNested(t *testing.T) {
	t.Parallel()

	tel := newTestTelescope(t)
	ctx := context.Background()
	r1 := telescope.RequestContext{RequestID: "r1", Method: "GET", URI: "/one"}
	r2 := telescope.RequestContext{RequestID: "r2", Method: "GET", URI: "/two"}

	err := telescope.Run(ctx, r1, func(ctx context.Context) error {
		tel.WriteLog(ctx, telescope.LevelInfo, "a", nil)
		if err := telescope.Run(ctx, r2, func(ctx context.Context) error {
			tel.WriteLog(ctx, telescope.LevelInfo, "b", nil)
			return nil
		}); err != nil {
			return err
		}
		tel.WriteLog(ctx, telescope.LevelInfo, "c", nil)
		return nil
	})
	AssertNoError(t, err)

	messages := func(logs []*telescope.Log) []string {
		var res []string
		for _, l := range logs {
			res = append(res, l.Message)
		}
		return res
	}

	AssertEqual(t, []string{"a", "c"}, messages(tel.LogsByParent("r1")))
	AssertEqual(t, []string{"b"}, messages(tel.LogsByParent("r2")))
	AssertEqual(t, "", telescope.RequestID(ctx))
}

func TestRunReturnsError(t *testing.T) {
	t.Parallel()

	want := fmt.Errorf("kaboom")
	have := telescope.Run(context.Background(), telescope.RequestContext{RequestID: "x"}, func(ctx context.Context) error {
		AssertEqual(t, "x", telescope.RequestID(ctx))
		return want
	})
	AssertEqual(t, true, have == want)
}

func TestRunConcurrentIsolation(t *testing.T) {
	t.Parallel()

	var (
		tel      = telescope.New(telescope.DefaultConfig())
		requests = 16
		perReq   = 25
		start    = make(chan struct{})
		wg       sync.WaitGroup
	)

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rc := telescope.RequestContext{RequestID: fmt.Sprintf("req-%d", i)}
			telescope.Run(context.Background(), rc, func(ctx context.Context) error {
				<-start
				var inner sync.WaitGroup
				for j := 0; j < perReq; j++ {
					inner.Add(1)
					go func(j int) { // handed-off work observes the same request
						defer inner.Done()
						tel.RecordQuery(&telescope.Query{
							Entry: telescope.Entry{ParentID: telescope.RequestID(ctx)},
							Query: fmt.Sprintf("SELECT %d", j),
						})
					}(j)
				}
				inner.Wait()
				return nil
			})
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < requests; i++ {
		id := fmt.Sprintf("req-%d", i)
		queries := tel.QueriesByParent(id)
		AssertEqual(t, perReq, len(queries))
		for _, q := range queries {
			AssertEqual(t, id, q.ParentID)
		}
	}
	AssertEqual(t, requests*perReq, tel.Stats().Queries)
}
