package main

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/telescope"
	"github.com/peterbourgon/telescope/telhttp"
)

type streamConfig struct {
	*rootConfig

	categories    []string
	sendBuf       int
	recvBuf       int
	retryInterval time.Duration
}

func (cfg *streamConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'c', LongName: "category" /*       */, Value: ffval.NewUniqueList(&cfg.categories) /*                       */, Usage: "only stream entries in this category (repeatable)", Placeholder: "CATEGORY"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "send-buffer" /*    */, Value: ffval.NewValueDefault(&cfg.sendBuf, 100) /*                  */, Usage: "remote send buffer size"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "recv-buffer" /*    */, Value: ffval.NewValueDefault(&cfg.recvBuf, 100) /*                  */, Usage: "local receive buffer size"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "retry-interval" /* */, Value: ffval.NewValueDefault(&cfg.retryInterval, 1*time.Second) /*  */, Usage: "connection retry interval"})
}

func (cfg *streamConfig) Exec(ctx context.Context, args []string) error {
	client := &telhttp.StreamClient{
		URI:           cfg.uri + "/api/stream",
		SendBuffer:    cfg.sendBuf,
		RetryInterval: cfg.retryInterval,
	}
	for _, s := range cfg.categories {
		category, err := parseCategory(s)
		if err != nil {
			return err
		}
		client.Categories = append(client.Categories, category)
	}

	cfg.logger.Info().Str("uri", client.URI).Strs("categories", cfg.categories).Msg("streaming")
	cfg.logger.Debug().Int("send_buffer", cfg.sendBuf).Int("recv_buffer", cfg.recvBuf).Dur("retry_interval", cfg.retryInterval).Msg("stream parameters")

	recs := make(chan telescope.Record, cfg.recvBuf)

	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			if err := client.Stream(ctx, recs); err != nil {
				return fmt.Errorf("stream: %w", err)
			}
			return ctx.Err()
		}, func(error) {
			cancel()
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case rec := <-recs:
					if err := cfg.write(summarize(rec)); err != nil {
						return err
					}
				}
			}
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	return g.Run()
}
