// settlez replays recorded spans through trace definitions and prints the
// resulting recordings.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
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
	rootConfig := &rootConfig{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}

	rootFlags := ff.NewFlagSet("settlez")
	rootConfig.registerBaseFlags(rootFlags)

	rootCommand := &ff.Command{
		Name:      "settlez",
		ShortHelp: "correlate span streams into settled trace recordings",
		Flags:     rootFlags,
	}

	// Config for `settlez replay`.
	replayConfig := &replayConfig{rootConfig: rootConfig}
	replayFlags := ff.NewFlagSet("replay").SetParent(rootFlags)
	replayConfig.register(replayFlags)
	replayCommand := &ff.Command{
		Name:      "replay",
		Usage:     "settlez replay --definitions FILE [--spans FILE] [FLAGS]",
		ShortHelp: "replay NDJSON spans through trace definitions",
		LongHelp:  "Read spans in order, start a trace whenever a span matches a definition's startOn matcher, and print every finalized recording.",
		Flags:     replayFlags,
		Exec:      replayConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, replayCommand)

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

	if err := rootCommand.Parse(args, ff.WithEnvVarPrefix("SETTLEZ")); err != nil {
		return err
	}

	logger, err := newLogger(rootConfig.LogLevel, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	rootConfig.logger = logger

	// Run errors shouldn't show help by default.
	showHelp = false

	return rootCommand.Run(ctx)
}
