// -- cmd/app.go --
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bddtriage/api/schemas"
	"github.com/xkilldash9x/bddtriage/internal/analysis"
	"github.com/xkilldash9x/bddtriage/internal/classifier"
	"github.com/xkilldash9x/bddtriage/internal/config"
	"github.com/xkilldash9x/bddtriage/internal/console"
	"github.com/xkilldash9x/bddtriage/internal/events"
	"github.com/xkilldash9x/bddtriage/internal/llmclient"
	"github.com/xkilldash9x/bddtriage/internal/metrics"
	"github.com/xkilldash9x/bddtriage/internal/navigator"
	"github.com/xkilldash9x/bddtriage/internal/pipeline"
	"github.com/xkilldash9x/bddtriage/internal/scenario"
	"github.com/xkilldash9x/bddtriage/internal/specrepo"
	"github.com/xkilldash9x/bddtriage/internal/stacktrace"
	"github.com/xkilldash9x/bddtriage/internal/stepdef"
	"github.com/xkilldash9x/bddtriage/internal/triage"
	"github.com/xkilldash9x/bddtriage/internal/uiloop"
)

// newLLMClient is replaced in tests.
var newLLMClient = llmclient.NewClient

// app is the fully wired triage pipeline.
type app struct {
	logger       *zap.Logger
	settings     *config.Settings
	repo         *specrepo.Repository
	loop         *uiloop.Loop
	sink         *console.Sink
	llm          *llmclient.ReloadingClient
	orchestrator *triage.Orchestrator
	listener     *pipeline.FailureListener
	dispatcher   *events.Dispatcher
	metrics      *metrics.Metrics
}

type appOptions struct {
	out       io.Writer
	plainText bool
}

// newApp wires every component from the current configuration snapshot. The
// caller must call close.
func newApp(ctx context.Context, logger *zap.Logger, settings *config.Settings, opts appOptions) (*app, error) {
	cfg := settings.Config()
	tc := cfg.Triage()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	// The client follows configuration reloads, so a key added while watching
	// takes effect on the next analysis.
	llm := llmclient.NewReloadingClient(logger, func() config.LLMConfig { return settings.Config().LLM() },
		func(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
			return newLLMClient(ctx, cfg, logger)
		})
	if settings.IsConfigured() {
		if err := llm.Prepare(ctx); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("No analysis credentials configured; failures will be extracted but not analysed.",
			zap.String("env", config.APIKeyEnv))
	}

	var sinkOpts []console.Option
	if opts.plainText {
		sinkOpts = append(sinkOpts, console.WithPlainText())
	}
	sink, err := console.New(logger, opts.out, sinkOpts...)
	if err != nil {
		closeClient(logger, llm)
		return nil, err
	}

	loop := uiloop.New(logger, tc.UIQueueSize)
	nav := navigator.NewDefault(logger, tc.NavigatorCacheSize)
	repo := specrepo.New(logger, tc.ProjectRoot, tc.SpecGlobs)

	markers := classifier.DefaultMarkers().Merge(classifier.Markers{
		Location: tc.Classifier.LocationMarkers,
		Ancestor: tc.Classifier.AncestorMarkers,
		Error:    tc.Classifier.ErrorMarkers,
	})

	orch := triage.NewOrchestrator(logger, settings, sink, loop, analysis.NewService(logger, llm),
		triage.WithObserver(m),
		triage.WithMaxConcurrent(tc.MaxConcurrentAnalyses),
		triage.WithAnalysisTimeout(tc.AnalysisTimeout))

	listener := pipeline.NewFailureListener(logger, pipeline.Components{
		Classifier: classifier.New(logger, markers),
		Parser:     stacktrace.NewParser(logger, nav, tc.ProjectRoot),
		StepDefs:   stepdef.NewResolver(logger, nav, tc.ProjectRoot, tc.SourceRoots),
		Scenarios:  scenario.NewResolver(logger, repo),
		Aggregator: triage.NewAggregator(logger),
		Dispatcher: orch,
		Settings:   settings,
		Recorder:   m,
	})

	return &app{
		logger:       logger,
		settings:     settings,
		repo:         repo,
		loop:         loop,
		sink:         sink,
		llm:          llm,
		orchestrator: orch,
		listener:     listener,
		dispatcher:   events.NewDispatcher(logger, listener),
		metrics:      m,
	}, nil
}

// close waits up to grace for in-flight analyses to reach the sink, then
// releases everything.
func (a *app) close(grace time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	err := a.orchestrator.Close(ctx)
	a.loop.Close()
	closeClient(a.logger, a.llm)
	if err != nil {
		return fmt.Errorf("analyses still running after %s: %w", grace, err)
	}
	return nil
}

// shutdownGrace allows one full analysis to finish after input ends.
func (a *app) shutdownGrace() time.Duration {
	if t := a.settings.Config().Triage().AnalysisTimeout; t > 0 {
		return t + 5*time.Second
	}
	return 5 * time.Minute
}

func closeClient(logger *zap.Logger, llm schemas.LLMClient) {
	if err := llm.Close(); err != nil {
		logger.Warn("Failed to close LLM client.", zap.Error(err))
	}
}
