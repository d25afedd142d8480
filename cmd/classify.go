// -- cmd/classify.go --
package cmd

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/bddtriage/internal/events"
	"github.com/xkilldash9x/bddtriage/internal/triage"
)

// classifyReport is one line of `classify --json` output.
type classifyReport struct {
	RunID          string                           `json:"run_id"`
	Test           string                           `json:"test"`
	InScope        bool                             `json:"in_scope"`
	Scenario       string                           `json:"scenario,omitempty"`
	Step           string                           `json:"step,omitempty"`
	SourceFile     string                           `json:"source_file,omitempty"`
	SourceLine     int                              `json:"source_line,omitempty"`
	Expected       string                           `json:"expected,omitempty"`
	Actual         string                           `json:"actual,omitempty"`
	StepDefinition *triage.StepDefinitionDescriptor `json:"step_definition,omitempty"`
	Feature        string                           `json:"feature,omitempty"`
}

// classifyListener prints a verdict for every failed test without analysing
// anything.
type classifyListener struct {
	extract func(triage.TestHandle) (*triage.FailureContext, bool)
	out     io.Writer
	asJSON  bool
	runID   string
	err     error
}

func (l *classifyListener) OnRunStarted(runID string)  { l.runID = runID }
func (l *classifyListener) OnRunFinished(runID string) {}

func (l *classifyListener) OnTestFailed(test triage.TestHandle) {
	if l.err != nil {
		return
	}
	r := classifyReport{RunID: l.runID, Test: test.Name()}
	if fc, ok := l.extract(test); ok {
		r.InScope = true
		r.Scenario = fc.ScenarioName()
		r.Step = fc.FailedStep()
		r.SourceFile = fc.SourceFile()
		if fc.SourceLine() != triage.UnknownLine {
			r.SourceLine = fc.SourceLine()
		}
		r.Expected, r.Actual = fc.Expected(), fc.Actual()
		r.StepDefinition = fc.StepDefinition()
		if sc := fc.Scenario(); sc != nil {
			r.Feature = sc.FeatureName
		}
	}
	l.err = l.write(r)
}

func (l *classifyListener) write(r classifyReport) error {
	if l.asJSON {
		line, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(r)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(l.out, "%s\n", line)
		return err
	}
	if !r.InScope {
		_, err := fmt.Fprintf(l.out, "skip  %s\n", r.Test)
		return err
	}
	loc := r.SourceFile
	if r.SourceLine > 0 {
		loc = fmt.Sprintf("%s:%d", loc, r.SourceLine)
	}
	_, err := fmt.Fprintf(l.out, "bdd   %s | %s | %s\n", r.Scenario, r.Step, loc)
	return err
}

var _ events.Listener = (*classifyListener)(nil)

func newClassifyCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "classify <events.ndjson|->",
		Short: "Show which failures are behavior-driven and what would be extracted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			st, err := stateFrom(cmd)
			if err != nil {
				return err
			}
			in, closeIn, err := openEvents(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeIn()

			a, err := newApp(cmd.Context(), st.logger, st.settings, appOptions{out: io.Discard, plainText: true})
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := a.close(a.shutdownGrace()); err == nil {
					err = closeErr
				}
			}()

			l := &classifyListener{extract: a.listener.Extract, out: cmd.OutOrStdout(), asJSON: asJSON}
			if err := events.NewDispatcher(st.logger, l).Decode(in); err != nil {
				return err
			}
			return l.err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per failed test")
	return cmd
}
