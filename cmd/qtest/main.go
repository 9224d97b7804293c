// Runs queue harness commands from a script or the standard input and exits non-zero if any of them failed.

package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nobletooth/ringq/pkg/config"
	"github.com/nobletooth/ringq/pkg/harness"
	"github.com/nobletooth/ringq/pkg/utils"
)

var (
	printVersion = flag.Bool("print_version", false, "Print the version and exit.")
	script       = flag.String("script", "", "Path to a file with harness commands; the standard input if empty.")
)

// runSession runs the harness on the given script path, or on `stdin` if the path is empty.
func runSession(path string, stdin io.Reader, stdout io.Writer) error {
	in := stdin
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open the script: %w", err)
		}
		defer func() { _ = file.Close() }()
		in = file
	}

	console, err := harness.NewConsole(stdout)
	if err != nil {
		return fmt.Errorf("failed to create the console: %w", err)
	}
	return console.Run(in)
}

func main() {
	config.InitFlags()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Qtest build info.", "version", utils.Version, "commit", utils.Commit, "build", utils.BuildTime)
		return
	}

	if err := runSession(*script, os.Stdin, os.Stdout); err != nil {
		slog.Error("Harness session failed.", "err", err)
		os.Exit(1)
	}
}
