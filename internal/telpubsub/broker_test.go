package telpubsub_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peterbourgon/telescope/internal/telpubsub"
)

func waitFor(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !fn() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBrokerPublishSubscribe(t *testing.T) {
	t.Parallel()

	var (
		ctx, cancel = context.WithCancel(context.Background())
		broker      = telpubsub.NewBroker[int]()
		evens       = make(chan int, 10)
		done        = make(chan telpubsub.Stats)
	)

	go func() {
		stats, err := broker.Subscribe(ctx, func(i int) bool { return i%2 == 0 }, evens)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Subscribe: want %v, have %v", context.Canceled, err)
		}
		done <- stats
	}()

	waitFor(t, func() bool { return broker.Subscribers() == 1 })

	for i := 1; i <= 4; i++ {
		broker.Publish(i)
	}

	if want, have := 2, <-evens; want != have {
		t.Errorf("first value: want %d, have %d", want, have)
	}
	if want, have := 4, <-evens; want != have {
		t.Errorf("second value: want %d, have %d", want, have)
	}

	cancel()
	stats := <-done
	if want, have := (telpubsub.Stats{Skips: 2, Sends: 2}), stats; want != have {
		t.Errorf("stats: want %s, have %s", want, have)
	}
	if want, have := 0, broker.Subscribers(); want != have {
		t.Errorf("subscribers after cancel: want %d, have %d", want, have)
	}
}

func TestBrokerDropsWhenFull(t *testing.T) {
	t.Parallel()

	var (
		ctx, cancel = context.WithCancel(context.Background())
		broker      = telpubsub.NewBroker[string]()
		ch          = make(chan string, 1)
		done        = make(chan telpubsub.Stats)
	)

	go func() {
		stats, _ := broker.Subscribe(ctx, nil, ch)
		done <- stats
	}()

	waitFor(t, func() bool { return broker.Subscribers() == 1 })

	broker.Publish("a")
	broker.Publish("b")
	broker.Publish("c")

	cancel()
	stats := <-done
	if want, have := (telpubsub.Stats{Sends: 1, Drops: 2}), stats; want != have {
		t.Errorf("stats: want %s, have %s", want, have)
	}
}

func TestBrokerDoubleSubscribe(t *testing.T) {
	t.Parallel()

	var (
		ctx, cancel = context.WithCancel(context.Background())
		broker      = telpubsub.NewBroker[int]()
		ch          = make(chan int)
	)
	defer cancel()

	go broker.Subscribe(ctx, nil, ch)
	waitFor(t, func() bool { return broker.Subscribers() == 1 })

	if _, err := broker.Subscribe(ctx, nil, ch); !errors.Is(err, telpubsub.ErrAlreadySubscribed) {
		t.Errorf("second Subscribe: want %v, have %v", telpubsub.ErrAlreadySubscribed, err)
	}
}
