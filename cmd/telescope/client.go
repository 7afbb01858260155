package main

import (
	"context"
	"fmt"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/telescope"
	"github.com/peterbourgon/telescope/telhttp"
)

func (cfg *rootConfig) execStats(ctx context.Context, args []string) error {
	stats, err := cfg.newClient().Stats(ctx)
	if err != nil {
		return err
	}
	return cfg.write(stats)
}

func (cfg *rootConfig) execShow(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("show requires a category and an id")
	}

	category, err := parseCategory(args[0])
	if err != nil {
		return err
	}

	rec, err := cfg.newClient().Entry(ctx, category, args[1])
	if err != nil {
		return err
	}

	return cfg.write(rec)
}

func (cfg *rootConfig) execChildren(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("children requires a request id")
	}

	children, err := cfg.newClient().Children(ctx, args[0])
	if err != nil {
		return err
	}

	return cfg.write(children)
}

func (cfg *rootConfig) execClear(ctx context.Context, args []string) error {
	if err := cfg.newClient().Clear(ctx); err != nil {
		return err
	}
	cfg.logger.Info().Str("uri", cfg.uri).Msg("cleared")
	return nil
}

type listConfig struct {
	*rootConfig

	limit    int
	parentID string
}

func (cfg *listConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'n', LongName: "limit" /* */, Value: ffval.NewValueDefault(&cfg.limit, telhttp.ListLimitDefault) /* */, Usage: "maximum number of entries"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "parent" /**/, Value: ffval.NewValue(&cfg.parentID) /*                            */, Usage: "only entries recorded while handling this request id", Placeholder: "ID"})
}

func (cfg *listConfig) Exec(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("list requires a category")
	}

	category, err := parseCategory(args[0])
	if err != nil {
		return err
	}

	var (
		client = cfg.newClient()
		recs   []telescope.Record
	)
	switch {
	case cfg.parentID != "":
		recs, err = client.EntriesByParent(ctx, category, cfg.parentID)
	default:
		recs, err = client.Entries(ctx, category, cfg.limit)
	}
	if err != nil {
		return err
	}

	cfg.logger.Debug().Str("category", string(category)).Int("count", len(recs)).Msg("listed")

	for _, rec := range recs {
		if err := cfg.write(summarize(rec)); err != nil {
			return err
		}
	}

	return nil
}

func parseCategory(s string) (telescope.Category, error) {
	category, ok := telescope.ParseCategory(s)
	if !ok {
		return "", fmt.Errorf("%q: %w", s, telescope.ErrUnknownCategory)
	}
	return category, nil
}
