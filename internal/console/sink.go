// internal/console/sink.go
package console

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bddtriage/internal/triage"
)

// Sink is a terminal triage.NotificationSink. It owns the per-run "failure
// displayed" flag and, like every sink, must only be used from the UI loop.
type Sink struct {
	logger   *zap.Logger
	out      io.Writer
	renderer *glamour.TermRenderer
	plain    bool
	wrap     int
	styles   styles

	runID     string
	displayed bool
	extra     int
}

type styles struct {
	box     lipgloss.Style
	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		box: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("203")).
			Padding(0, 1),
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		label:   lipgloss.NewStyle().Bold(true),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		err:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
}

// Option configures a Sink.
type Option func(*Sink)

// WithPlainText prints analysis markdown without rendering it.
func WithPlainText() Option {
	return func(s *Sink) { s.plain = true }
}

// WithWordWrap sets the markdown wrap width.
func WithWordWrap(width int) Option {
	return func(s *Sink) {
		if width > 0 {
			s.wrap = width
		}
	}
}

// New creates a Sink writing to out.
func New(logger *zap.Logger, out io.Writer, opts ...Option) (*Sink, error) {
	s := &Sink{
		logger: logger.Named("console"),
		out:    out,
		wrap:   100,
		styles: defaultStyles(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.plain {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(s.wrap))
		if err != nil {
			return nil, fmt.Errorf("create markdown renderer: %w", err)
		}
		s.renderer = r
	}
	return s, nil
}

// OnRunStarted implements triage.NotificationSink.
func (s *Sink) OnRunStarted(runID string) {
	s.runID = runID
	s.displayed = false
	s.extra = 0
	s.printf("%s\n", s.styles.muted.Render("── test run "+runID+" ──"))
}

// RecordFailure implements triage.NotificationSink. Only the first failure of
// a run is shown in full and accepted; later ones get a one-line note.
func (s *Sink) RecordFailure(fc *triage.FailureContext) bool {
	if fc == nil {
		return false
	}
	if s.displayed {
		s.extra++
		s.printf("%s\n", s.styles.muted.Render(fmt.Sprintf("also failed: %s / %s", fc.ScenarioName(), fc.FailedStep())))
		return false
	}
	s.displayed = true
	s.printf("%s\n", s.styles.box.Render(s.failureSummary(fc)))
	return true
}

func (s *Sink) failureSummary(fc *triage.FailureContext) string {
	var b strings.Builder
	b.WriteString(s.styles.title.Render("✗ " + fc.ScenarioName()))
	b.WriteString("\n")
	s.field(&b, "Step", fc.FailedStep())
	if fc.SourceFile() != "" {
		loc := fc.SourceFile()
		if fc.SourceLine() != triage.UnknownLine {
			loc = fmt.Sprintf("%s:%d", loc, fc.SourceLine())
		}
		s.field(&b, "Location", loc)
	}
	if sc := fc.Scenario(); sc != nil {
		s.field(&b, "Feature", sc.FeatureName)
		if len(sc.Tags) > 0 {
			s.field(&b, "Tags", strings.Join(sc.Tags, " "))
		}
	}
	if sd := fc.StepDefinition(); sd != nil {
		s.field(&b, "Step definition", fmt.Sprintf("%s.%s (%s:%d)", sd.TypeName, sd.MethodName, sd.FileName, sd.LineNumber))
	}
	if fc.HasAssertionDetail() {
		s.field(&b, "Expected", fc.Expected())
		s.field(&b, "Actual", fc.Actual())
	} else if msg := firstLine(fc.ErrorMessage()); msg != "" {
		s.field(&b, "Error", msg)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Sink) field(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s %s\n", s.styles.label.Render(label+":"), value)
}

// ShowResult implements triage.NotificationSink. Results for a run other than
// the current one are labeled stale.
func (s *Sink) ShowResult(result *triage.AnalysisResult) {
	if result == nil {
		return
	}
	header := fmt.Sprintf("Analysis by %s (%s) in %s", orUnknown(result.Service), orUnknown(result.Model), result.ProcessingTime.Round(time.Millisecond))
	if s.IsStale(result) {
		header = s.styles.warning.Render(fmt.Sprintf("[stale: from run %s] ", result.RunID)) + header
	}
	s.printf("%s\n", s.styles.label.Render(header))
	s.printf("%s\n", s.render(result.Text))
}

// IsStale reports whether result belongs to a run that is no longer current.
func (s *Sink) IsStale(result *triage.AnalysisResult) bool {
	return result.RunID != "" && s.runID != "" && result.RunID != s.runID
}

// ShowError implements triage.NotificationSink.
func (s *Sink) ShowError(message string) {
	s.printf("%s %s\n", s.styles.err.Render("Analysis failed:"), message)
}

// Displayed reports whether the current run has shown a failure.
func (s *Sink) Displayed() bool { return s.displayed }

// Suppressed returns how many failures of the current run were not shown in
// full.
func (s *Sink) Suppressed() int { return s.extra }

func (s *Sink) render(markdown string) string {
	if s.renderer == nil {
		return markdown
	}
	out, err := s.renderer.Render(markdown)
	if err != nil {
		s.logger.Debug("Markdown rendering failed; printing raw text.", zap.Error(err))
		return markdown
	}
	return strings.TrimRight(out, "\n")
}

func (s *Sink) printf(format string, args ...any) {
	if _, err := fmt.Fprintf(s.out, format, args...); err != nil {
		s.logger.Warn("Failed to write to console.", zap.Error(err))
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
