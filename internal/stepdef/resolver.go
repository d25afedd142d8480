// internal/stepdef/resolver.go
package stepdef

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bddtriage/internal/navigator"
	"github.com/xkilldash9x/bddtriage/internal/stacktrace"
	"github.com/xkilldash9x/bddtriage/internal/triage"
)

// DefaultSourceRoots are the conventional roots a declaring type's package
// path is joined onto.
var DefaultSourceRoots = []string{
	"src/test/java",
	"src/main/java",
	"src/test/kotlin",
	"src/main/kotlin",
	"src/test/groovy",
	"test",
	"src",
}

// sourceExtensions are tried when a frame carries no file name.
var sourceExtensions = []string{".java", ".kt", ".groovy", ".scala"}

// frameworkNamespaces never hold user step implementations.
var frameworkNamespaces = []string{
	"io.cucumber.", "cucumber.", "org.junit.", "junit.", "org.testng.", "org.hamcrest.",
	"org.assertj.", "org.opentest4j.", "java.", "javax.", "jdk.", "sun.", "kotlin.",
	"groovy.", "org.codehaus.groovy.", "scala.", "org.gradle.", "org.apache.maven.",
}

var stepMethodPrefixes = []string{"given", "when", "then", "and", "but", "step"}

// maxCandidateFrames bounds how many matching frames are resolved against
// source before giving up.
const maxCandidateFrames = 8

// Resolver maps a failure's stack trace to the step definition method that
// was executing.
type Resolver struct {
	logger      *zap.Logger
	nav         navigator.Navigator
	projectRoot string
	sourceRoots []string
}

// NewResolver creates a Resolver. Relative source roots are joined to
// projectRoot; an empty list means DefaultSourceRoots.
func NewResolver(logger *zap.Logger, nav navigator.Navigator, projectRoot string, sourceRoots []string) *Resolver {
	if len(sourceRoots) == 0 {
		sourceRoots = DefaultSourceRoots
	}
	return &Resolver{
		logger:      logger.Named("stepdef"),
		nav:         nav,
		projectRoot: projectRoot,
		sourceRoots: append([]string(nil), sourceRoots...),
	}
}

// Resolve returns the descriptor of the step implementation found in trace.
// Frames are considered in stack order; the first candidate frame whose
// enclosing method carries a step pattern wins. Any miss reports false.
func (r *Resolver) Resolve(trace string) (desc *triage.StepDefinitionDescriptor, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Debug("Recovered from panic while resolving step definition.", zap.Any("panic", rec))
			desc, ok = nil, false
		}
	}()

	if strings.TrimSpace(trace) == "" || r.nav == nil {
		return nil, false
	}

	tried := 0
	for _, frame := range stacktrace.ParseFrames(trace) {
		if !IsStepFrame(frame) {
			continue
		}
		if tried == maxCandidateFrames {
			break
		}
		tried++

		path, found := r.locateSource(frame)
		if !found {
			r.logger.Debug("Source for step frame not found.", zap.String("type", frame.QualifiedType()))
			continue
		}
		if frame.Line <= 0 {
			continue
		}
		decl, found := r.nav.Locate(path, frame.Line)
		if !found || decl.Kind != navigator.KindMethod || decl.Pattern() == "" {
			r.logger.Debug("Frame is not inside an annotated step method.",
				zap.String("path", path), zap.Int("line", frame.Line), zap.String("method", frame.Method))
			continue
		}
		return descriptorFor(frame, path, decl), true
	}
	return nil, false
}

// IsStepFrame applies the naming heuristics: a declaring type that mentions
// step or test, or a method named like a step keyword. Framework namespaces
// are excluded.
func IsStepFrame(f stacktrace.Frame) bool {
	ns := f.Namespace + "."
	for _, prefix := range frameworkNamespaces {
		if strings.HasPrefix(ns, prefix) {
			return false
		}
	}
	typeName := strings.ToLower(f.TypeName)
	if strings.Contains(typeName, "step") || strings.Contains(typeName, "test") {
		return true
	}
	method := strings.ToLower(f.Method)
	for _, prefix := range stepMethodPrefixes {
		if strings.HasPrefix(method, prefix) {
			return true
		}
	}
	return false
}

// locateSource finds the file declaring the frame's type under the source
// roots.
func (r *Resolver) locateSource(f stacktrace.Frame) (string, bool) {
	names := []string{f.FileName}
	if !hasSourceExtension(f.FileName) {
		names = names[:0]
		for _, ext := range sourceExtensions {
			names = append(names, f.OuterType()+ext)
		}
	}
	nsPath := filepath.FromSlash(strings.ReplaceAll(f.Namespace, ".", "/"))

	for _, root := range r.sourceRoots {
		if !filepath.IsAbs(root) {
			root = filepath.Join(r.projectRoot, root)
		}
		for _, name := range names {
			candidate := filepath.Join(root, nsPath, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
		}
	}
	return "", false
}

func hasSourceExtension(name string) bool {
	ext := filepath.Ext(name)
	for _, e := range sourceExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func descriptorFor(f stacktrace.Frame, path string, decl navigator.Declaration) *triage.StepDefinitionDescriptor {
	d := &triage.StepDefinitionDescriptor{
		MethodName:     decl.MethodName,
		TypeName:       decl.TypeName,
		Namespace:      decl.Namespace,
		FileName:       path,
		LineNumber:     decl.StartLine,
		StepPattern:    decl.Pattern(),
		ParameterNames: append([]string(nil), decl.ParameterNames...),
		SourceText:     decl.Body,
	}
	if d.MethodName == "" {
		d.MethodName = f.Method
	}
	if d.TypeName == "" {
		d.TypeName = f.TypeName
	}
	if d.Namespace == "" {
		d.Namespace = f.Namespace
	}
	if d.LineNumber <= 0 {
		d.LineNumber = f.Line
	}
	return d
}
