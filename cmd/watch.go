// -- cmd/watch.go --
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/bddtriage/internal/events"
)

type watchFlags struct {
	fromEnd     bool
	poll        bool
	plain       bool
	metricsAddr string
}

func newWatchCmd() *cobra.Command {
	flags := &watchFlags{}
	cmd := &cobra.Command{
		Use:   "watch <events.ndjson>",
		Short: "Follow a live test event file and triage failures as they happen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			st, err := stateFrom(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, st.logger, st.settings, appOptions{out: cmd.OutOrStdout(), plainText: flags.plain})
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := a.close(a.shutdownGrace()); err == nil {
					err = closeErr
				}
			}()

			// Reloads reach the eligibility checks, the analysis mode and the
			// LLM client. Project layout and classifier changes need a restart.
			if st.viper.ConfigFileUsed() != "" {
				st.settings.Watch(st.viper)
			}

			g, ctx := errgroup.WithContext(ctx)
			if err := a.repo.Watch(ctx); err != nil {
				st.logger.Warn("Specification files will not be watched; relying on modification times.", zap.Error(err))
			}
			g.Go(func() error {
				return a.dispatcher.Follow(ctx, args[0], events.FollowOptions{FromEnd: flags.fromEnd, Poll: flags.poll})
			})

			addr := flags.metricsAddr
			if addr == "" && st.settings.Config().Metrics().Enabled {
				addr = st.settings.Config().Metrics().Addr
			}
			if addr != "" {
				g.Go(func() error { return a.metrics.Serve(ctx, st.logger, addr) })
			}

			err = g.Wait()
			st.logger.Info("Watch stopped.", zap.Any("stats", a.dispatcher.Stats()))
			return err
		},
	}
	cmd.Flags().BoolVar(&flags.fromEnd, "from-end", false, "ignore events already in the file")
	cmd.Flags().BoolVar(&flags.poll, "poll", false, "poll the file instead of using filesystem notifications")
	cmd.Flags().BoolVar(&flags.plain, "plain", false, "print analysis markdown without rendering")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}
