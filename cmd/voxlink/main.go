// Package main provides the voxlink CLI entrypoint.
//
// Usage:
//
//	voxlink <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: usage, configuration or forwarding error
//   - 2: connection failure or timeout
//   - 3: the service rejected the event (send)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/voxlink/cli/cmd"
	"github.com/pithecene-io/voxlink/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler has already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "voxlink",
		Usage:          "HTTP/2 voice service client: hold the downchannel, send events, replay captures",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ListenCommand(),
			cmd.SendCommand(),
			cmd.ReplayCommand(),
			cmd.StatsCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

// exitErrHandler preserves exit codes from cli.Exit, including wrapped ones.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() is "exit status N"; don't print that.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
