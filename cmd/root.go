// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bddtriage/internal/config"
	"github.com/xkilldash9x/bddtriage/internal/observability"
)

type contextKey string

const stateKey contextKey = "bddtriage.state"

// rootState is what PersistentPreRunE hands to subcommands.
type rootState struct {
	viper    *viper.Viper
	settings *config.Settings
	logger   *zap.Logger
}

// rootFlags are the overrides accepted by every command.
type rootFlags struct {
	cfgFile     string
	mode        string
	projectRoot string
	noAuto      bool
}

// NewRootCommand builds a fresh command tree. Every call returns independent
// flag state, which keeps tests isolated.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "bddtriage",
		Short:         "bddtriage explains failing Gherkin scenarios.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := config.Load(v, flags.cfgFile); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "bddtriage"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "bddtriage"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			logger := observability.GetLogger()

			overrides, err := flags.overrides(cmd)
			if err != nil {
				return err
			}
			settings := config.NewSettings(logger, cfg, overrides...)
			logger.Debug("Configuration loaded.",
				zap.String("version", Version),
				zap.String("config_file", v.ConfigFileUsed()),
				zap.String("project_root", settings.Config().Triage().ProjectRoot),
				zap.String("mode", settings.AnalysisMode()))

			ctx := context.WithValue(cmd.Context(), stateKey, &rootState{viper: v, settings: settings, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.cfgFile, "config", "c", "", "config file (default is ./bddtriage.yaml, then ~/.bddtriage.yaml)")
	pf.StringVarP(&flags.mode, "mode", "m", "", "analysis mode: quick, detailed or fix")
	pf.StringVar(&flags.projectRoot, "project-root", "", "root of the project under test")
	pf.BoolVar(&flags.noAuto, "no-auto", false, "extract failures but never start an analysis")
	root.SetVersionTemplate(`{{printf "bddtriage version %s\n" .Version}}`)

	root.AddCommand(newAnalyzeCmd(), newWatchCmd(), newClassifyCmd(), newVersionCmd())
	return root
}

// overrides turns the flags that were set into config overrides. They are
// re-applied on every configuration reload.
func (f *rootFlags) overrides(cmd *cobra.Command) ([]func(config.Interface), error) {
	var out []func(config.Interface)
	if cmd.Flags().Changed("mode") {
		if !config.IsValidMode(f.mode) {
			return nil, fmt.Errorf("invalid --mode %q: must be one of %v", f.mode, config.AnalysisModes)
		}
		mode := f.mode
		out = append(out, func(c config.Interface) { c.SetAnalysisMode(mode) })
	}
	if cmd.Flags().Changed("project-root") {
		root := f.projectRoot
		out = append(out, func(c config.Interface) { c.SetProjectRoot(root) })
	}
	if f.noAuto {
		out = append(out, func(c config.Interface) { c.SetAutoAnalyze(false) })
	}
	return out, nil
}

func stateFrom(cmd *cobra.Command) (*rootState, error) {
	st, ok := cmd.Context().Value(stateKey).(*rootState)
	if !ok || st == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return st, nil
}

// Execute runs the command tree with ctx, which is expected to be cancelled on
// interrupt.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil {
		observability.GetLogger().Error("Command execution failed.", zap.Error(err))
	}
	observability.Sync()
	return err
}
