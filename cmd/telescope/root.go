package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/telescope"
	"github.com/peterbourgon/telescope/telhttp"
	"github.com/rs/zerolog"
)

type rootConfig struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	logLevel string
	uri      string
	output   string

	logger zerolog.Logger
}

func (cfg *rootConfig) registerBaseFlags(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'l',
		LongName:    "log-level",
		Value:       ffval.NewEnum(&cfg.logLevel, "info", "trace", "debug", "warn", "error", "disabled"),
		Usage:       "log level: trace, debug, info, warn, error, disabled",
		Placeholder: "LEVEL",
	})
}

func (cfg *rootConfig) registerClientFlags(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'u',
		LongName:    "uri",
		Value:       ffval.NewValueDefault(&cfg.uri, "localhost:8080/telescope"),
		Usage:       "location where the telescope server is mounted",
		Placeholder: "URI",
	})
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'o',
		LongName:    "output",
		Value:       ffval.NewEnum(&cfg.output, "prettyjson", "ndjson"),
		Usage:       "output format: prettyjson, ndjson",
		Placeholder: "FORMAT",
	})
}

func (cfg *rootConfig) newClient() *telhttp.Client {
	return telhttp.NewClient(nil, cfg.uri)
}

func (cfg *rootConfig) write(v any) error {
	enc := json.NewEncoder(cfg.stdout)
	if cfg.output == "prettyjson" {
		enc.SetIndent("", "    ")
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// summary wraps an entry with its category, which the entry itself doesn't
// carry when serialized.
type summary struct {
	Category  telescope.Category `json:"category"`
	CreatedAt string             `json:"created_at"`
	Entry     telescope.Record   `json:"entry"`
}

func summarize(rec telescope.Record) summary {
	return summary{
		Category:  rec.Category(),
		CreatedAt: header(rec).CreatedAt,
		Entry:     rec,
	}
}

func header(rec telescope.Record) telescope.Entry {
	switch e := rec.(type) {
	case *telescope.IncomingRequest:
		return e.Entry
	case *telescope.OutgoingRequest:
		return e.Entry
	case *telescope.Exception:
		return e.Entry
	case *telescope.Log:
		return e.Entry
	case *telescope.Query:
		return e.Entry
	default:
		return telescope.Entry{}
	}
}
