// internal/stacktrace/parser.go
package stacktrace

import (
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bddtriage/internal/navigator"
	"github.com/xkilldash9x/bddtriage/internal/triage"
)

const (
	expectedToken = "Expected:"
	actualToken   = "but: was"

	// maxAncestorDepth bounds parent walks on malformed test trees.
	maxAncestorDepth = 64
)

var (
	exampleIDRegex   = regexp.MustCompile(`Example #\d+\.\d+`)
	examplesHeader   = regexp.MustCompile(`^(?i:examples|scenarios)\s*:`)
	scenarioPrefixes = []string{"Scenario Outline:", "Scenario Template:", "Scenario:", "Example:"}
)

// Parser turns a failed test into a draft FailureContext: failed step text,
// source location, assertion detail and a best-effort scenario name.
type Parser struct {
	logger      *zap.Logger
	nav         navigator.Navigator
	projectRoot string
	now         func() time.Time
}

// NewParser creates a Parser. nav may be nil, in which case step text always
// falls back to the test's display name.
func NewParser(logger *zap.Logger, nav navigator.Navigator, projectRoot string) *Parser {
	return &Parser{
		logger:      logger.Named("stacktrace"),
		nav:         nav,
		projectRoot: projectRoot,
		now:         time.Now,
	}
}

// Parse never fails. Internal faults degrade to whatever was collected before
// the fault, and a nil test yields a minimal context.
func (p *Parser) Parse(test triage.TestHandle) (fc *triage.FailureContext) {
	start := p.now()
	b := triage.NewBuilder()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Debug("Recovered from panic while parsing failure; returning partial context.", zap.Any("panic", r))
			fc = b.ParseDuration(p.now().Sub(start)).Build()
		}
	}()

	if test == nil {
		return b.ParseDuration(p.now().Sub(start)).Build()
	}

	name := strings.TrimSpace(test.Name())
	b.TestName(name)
	trace := test.StackTrace()
	b.StackTrace(trace).ErrorMessage(test.ErrorMessage())

	loc, hasLoc := ResolveLocation(test.LocationURL(), p.projectRoot)
	if !hasLoc {
		// cucumber-jvm records the executing step as a synthetic frame.
		if g, ok := findGherkinFrame(trace); ok {
			loc, hasLoc = ResolveLocation(g.Path, p.projectRoot)
			if hasLoc && loc.Line == triage.UnknownLine {
				loc.Line = g.Line
			}
		}
	}
	if hasLoc {
		b.SourceFile(loc.Path).SourceLine(loc.Line)
	}

	step := p.stepText(loc, hasLoc, name)
	b.FailedStep(step)

	expected, actual := extractAssertion(trace)
	b.Expected(expected).Actual(actual)

	b.ScenarioName(p.scenarioName(test, name, step, trace))
	b.ExampleID(exampleID(test))

	return b.ParseDuration(p.now().Sub(start)).Build()
}

// stepText asks the navigator for the line's declaration; a specification line
// yields its text without the keyword, a step implementation yields its
// declared pattern. Otherwise the display name is used.
func (p *Parser) stepText(loc Location, hasLoc bool, displayName string) string {
	if p.nav != nil && hasLoc && loc.Line > 0 {
		if decl, ok := p.nav.Locate(loc.Path, loc.Line); ok {
			switch decl.Kind {
			case navigator.KindSpecLine:
				if text := triage.StripStepKeyword(decl.LineText); text != "" {
					return text
				}
			case navigator.KindMethod:
				if pattern := decl.Pattern(); pattern != "" {
					return pattern
				}
			}
		}
		p.logger.Debug("Navigator could not derive step text; using display name.",
			zap.String("path", loc.Path), zap.Int("line", loc.Line))
	}
	return displayName
}

// extractAssertion returns the values of the first "Expected:" and first
// "but: was" lines.
func extractAssertion(trace string) (expected, actual string) {
	if trace == "" {
		return "", ""
	}
	foundExpected, foundActual := false, false
	for _, line := range strings.Split(trace, "\n") {
		line = strings.TrimSpace(line)
		if !foundExpected && strings.HasPrefix(line, expectedToken) {
			expected = strings.TrimSpace(strings.TrimPrefix(line, expectedToken))
			foundExpected = true
		} else if !foundActual && strings.HasPrefix(line, actualToken) {
			actual = strings.TrimSpace(strings.TrimPrefix(line, actualToken))
			foundActual = true
		}
		if foundExpected && foundActual {
			break
		}
	}
	return expected, actual
}

// scenarioName walks the fallback chain: nearest scenario-like ancestor, the
// test's own name, the gherkin frame in the trace, and finally a name
// synthesized from the step text.
func (p *Parser) scenarioName(test triage.TestHandle, name, step, trace string) string {
	if parent := scenarioAncestor(test); parent != "" && parent != step {
		return parent
	}
	if name != "" && name != step {
		return stripScenarioPrefix(name)
	}
	if g, ok := findGherkinFrame(trace); ok && g.Text != step {
		return g.Text
	}
	p.logger.Debug("No scenario name available; synthesizing one.", zap.String("step", step))
	return triage.SyntheticScenarioName(step)
}

// scenarioAncestor returns the nearest ancestor name that is not an outline
// example or examples-table node.
func scenarioAncestor(test triage.TestHandle) string {
	depth := 0
	for p := test.Parent(); p != nil && depth < maxAncestorDepth; p = p.Parent() {
		depth++
		n := strings.TrimSpace(p.Name())
		if n == "" || exampleIDRegex.MatchString(n) || examplesHeader.MatchString(n) {
			continue
		}
		return stripScenarioPrefix(n)
	}
	return ""
}

func stripScenarioPrefix(name string) string {
	for _, prefix := range scenarioPrefixes {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			return strings.TrimSpace(rest)
		}
	}
	return name
}

// exampleID returns the "Example #n.m" identifier from the test or its nearest
// ancestor carrying one.
func exampleID(test triage.TestHandle) string {
	if id := exampleIDRegex.FindString(test.Name()); id != "" {
		return id
	}
	depth := 0
	for p := test.Parent(); p != nil && depth < maxAncestorDepth; p = p.Parent() {
		depth++
		if id := exampleIDRegex.FindString(p.Name()); id != "" {
			return id
		}
	}
	return ""
}
