// telescope runs a small demo service which records its own requests,
// outgoing requests, exceptions, logs, and queries, and inspects the entries
// recorded by remote telescope servers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/rs/zerolog"
)

func main() {
	var (
		ctx    = context.Background()
		stdin  = os.Stdin
		stdout = os.Stdout
		stderr = os.Stderr
		args   = os.Args[1:]
	)
	err := exec(ctx, stdin, stdout, stderr, args)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &(run.SignalError{})):
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func exec(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) (err error) {
	// Variables from a local .env file are visible to flag parsing below, but
	// never override the real environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	rootConfig := &rootConfig{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}

	rootFlags := ff.NewFlagSet("telescope")
	rootConfig.registerBaseFlags(rootFlags)

	clientFlags := ff.NewFlagSet("client").SetParent(rootFlags)
	rootConfig.registerClientFlags(clientFlags)

	rootCommand := &ff.Command{
		Name:      "telescope",
		ShortHelp: "record and inspect what a service is doing",
		Flags:     rootFlags,
	}

	// Config for `telescope serve`.
	serveConfig := &serveConfig{rootConfig: rootConfig}
	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	serveConfig.register(serveFlags)
	rootCommand.Subcommands = append(rootCommand.Subcommands, &ff.Command{
		Name:      "serve",
		ShortHelp: "run a demo service with a telescope mounted at /telescope",
		LongHelp:  "Every request to the demo service is recorded, along with everything it does while handling the request.",
		Flags:     serveFlags,
		Exec:      serveConfig.Exec,
	})

	// Config for `telescope stats`.
	rootCommand.Subcommands = append(rootCommand.Subcommands, &ff.Command{
		Name:      "stats",
		ShortHelp: "print the number of entries per category",
		Flags:     clientFlags,
		Exec:      rootConfig.execStats,
	})

	// Config for `telescope list`.
	listConfig := &listConfig{rootConfig: rootConfig}
	listFlags := ff.NewFlagSet("list").SetParent(clientFlags)
	listConfig.register(listFlags)
	rootCommand.Subcommands = append(rootCommand.Subcommands, &ff.Command{
		Name:      "list",
		Usage:     "telescope list [FLAGS] <category>",
		ShortHelp: "print recent entries in a category",
		LongHelp:  "Categories are requests, client-requests, exceptions, logs, and queries.",
		Flags:     listFlags,
		Exec:      listConfig.Exec,
	})

	// Config for `telescope show`.
	rootCommand.Subcommands = append(rootCommand.Subcommands, &ff.Command{
		Name:      "show",
		Usage:     "telescope show [FLAGS] <category> <id>",
		ShortHelp: "print a single entry",
		Flags:     clientFlags,
		Exec:      rootConfig.execShow,
	})

	// Config for `telescope children`.
	rootCommand.Subcommands = append(rootCommand.Subcommands, &ff.Command{
		Name:      "children",
		Usage:     "telescope children [FLAGS] <request id>",
		ShortHelp: "print every entry recorded while handling a request",
		Flags:     clientFlags,
		Exec:      rootConfig.execChildren,
	})

	// Config for `telescope clear`.
	rootCommand.Subcommands = append(rootCommand.Subcommands, &ff.Command{
		Name:      "clear",
		ShortHelp: "remove every entry",
		Flags:     clientFlags,
		Exec:      rootConfig.execClear,
	})

	// Config for `telescope stream`.
	streamConfig := &streamConfig{rootConfig: rootConfig}
	streamFlags := ff.NewFlagSet("stream").SetParent(clientFlags)
	streamConfig.register(streamFlags)
	rootCommand.Subcommands = append(rootCommand.Subcommands, &ff.Command{
		Name:      "stream",
		ShortHelp: "continuously print new entries as they're recorded",
		Flags:     streamFlags,
		Exec:      streamConfig.Exec,
	})

	// Print help when appropriate.
	showHelp := true
	defer func() {
		errHelp := errors.Is(err, ff.ErrHelp) || errors.Is(err, ff.ErrNoExec)
		if showHelp || errHelp {
			fmt.Fprintf(stderr, "\n%s\n", ffhelp.Command(rootCommand))
		}
		if errHelp {
			err = nil
		}
	}()

	// Initial parsing.
	if err := rootCommand.Parse(args, ff.WithEnvVarPrefix("TELESCOPE")); err != nil {
		return err
	}

	// Validation and set-up.
	{
		level, err := zerolog.ParseLevel(rootConfig.logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q", rootConfig.logLevel)
		}
		rootConfig.logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr}).Level(level).With().Timestamp().Logger()
	}

	if uri := strings.TrimSpace(rootConfig.uri); uri != "" && !strings.HasPrefix(uri, "http") {
		rootConfig.uri = "http://" + uri
	}

	// Run errors shouldn't show help by default.
	showHelp = false

	// Run the selected command.
	return rootCommand.Run(ctx)
}
