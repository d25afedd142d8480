// -- cmd/analyze.go --
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type analyzeFlags struct {
	plain bool
}

func newAnalyzeCmd() *cobra.Command {
	flags := &analyzeFlags{}
	cmd := &cobra.Command{
		Use:   "analyze <events.ndjson|->",
		Short: "Triage the failures recorded in a test event file",
		Long: `Reads a newline-delimited JSON event stream written by the test host,
extracts the first behavior-driven failure of each run and sends it for
analysis. Use "-" to read from standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := stateFrom(cmd)
			if err != nil {
				return err
			}
			return runAnalyze(cmd, st, args[0], appOptions{out: cmd.OutOrStdout(), plainText: flags.plain})
		},
	}
	cmd.Flags().BoolVar(&flags.plain, "plain", false, "print analysis markdown without rendering")
	return cmd
}

func runAnalyze(cmd *cobra.Command, st *rootState, path string, opts appOptions) (err error) {
	in, closeIn, err := openEvents(cmd, path)
	if err != nil {
		return err
	}
	defer closeIn()

	a, err := newApp(cmd.Context(), st.logger, st.settings, opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(a.shutdownGrace()); err == nil {
			err = closeErr
		}
	}()

	if err := a.dispatcher.Decode(in); err != nil {
		return err
	}
	stats := a.dispatcher.Stats()
	st.logger.Info("Event stream processed.",
		zap.Int64("events", stats.Events),
		zap.Int64("failures", stats.Failures),
		zap.Int64("malformed", stats.Malformed),
		zap.Int64("runs", stats.Runs))
	return nil
}

func openEvents(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open event file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
