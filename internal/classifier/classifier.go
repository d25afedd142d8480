// internal/classifier/classifier.go
package classifier

import (
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bddtriage/internal/triage"
)

// maxAncestorDepth guards against cyclic parent chains.
const maxAncestorDepth = 64

// Markers are the case-insensitive substrings each heuristic looks for.
type Markers struct {
	Location []string
	Ancestor []string
	Error    []string
}

// DefaultMarkers returns the markers for Cucumber-style runners.
func DefaultMarkers() Markers {
	return Markers{
		Location: []string{".feature", "cucumber", "classpath:features"},
		Ancestor: []string{"scenario", "feature:", "cucumber", "scenario outline", "examples"},
		Error: []string{
			"UndefinedStepException",
			"AmbiguousStepDefinitionsException",
			"PendingException",
			"io.cucumber.",
		},
	}
}

// Merge returns m with extra appended to each list.
func (m Markers) Merge(extra Markers) Markers {
	return Markers{
		Location: append(append([]string(nil), m.Location...), extra.Location...),
		Ancestor: append(append([]string(nil), m.Ancestor...), extra.Ancestor...),
		Error:    append(append([]string(nil), m.Error...), extra.Error...),
	}
}

// Classifier decides whether a failed test belongs to the behavior-driven
// family handled by the triage pipeline.
type Classifier struct {
	logger  *zap.Logger
	markers Markers
}

// New creates a classifier. Markers are lower-cased once here.
func New(logger *zap.Logger, markers Markers) *Classifier {
	return &Classifier{
		logger: logger.Named("classifier"),
		markers: Markers{
			Location: lowerAll(markers.Location),
			Ancestor: lowerAll(markers.Ancestor),
			Error:    lowerAll(markers.Error),
		},
	}
}

// IsInScope applies the location, ancestor and error-message heuristics in
// that order. Any one match is sufficient.
func (c *Classifier) IsInScope(test triage.TestHandle) bool {
	if test == nil {
		return false
	}

	if m, ok := containsAny(test.LocationURL(), c.markers.Location); ok {
		c.logger.Debug("Test in scope by location.", zap.String("test", test.Name()), zap.String("marker", m))
		return true
	}

	depth := 0
	for p := test.Parent(); p != nil && depth < maxAncestorDepth; p = p.Parent() {
		if m, ok := containsAny(p.Name(), c.markers.Ancestor); ok {
			c.logger.Debug("Test in scope by ancestor.", zap.String("test", test.Name()), zap.String("ancestor", p.Name()), zap.String("marker", m))
			return true
		}
		depth++
	}

	if m, ok := containsAny(test.ErrorMessage(), c.markers.Error); ok {
		c.logger.Debug("Test in scope by error message.", zap.String("test", test.Name()), zap.String("marker", m))
		return true
	}

	c.logger.Debug("Test not in scope.", zap.String("test", test.Name()))
	return false
}

func containsAny(s string, markers []string) (string, bool) {
	if s == "" {
		return "", false
	}
	s = strings.ToLower(s)
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return m, true
		}
	}
	return "", false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
