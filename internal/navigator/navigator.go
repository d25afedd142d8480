// internal/navigator/navigator.go
package navigator

import (
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Kind distinguishes what a Declaration describes.
type Kind int

const (
	// KindMethod is a method declaration in a step implementation file.
	KindMethod Kind = iota + 1
	// KindSpecLine is a single line of a specification (.feature) file.
	KindSpecLine
)

// Declaration is the result of locating a file position.
type Declaration struct {
	Kind     Kind
	FilePath string

	// Method declarations.
	MethodName     string
	TypeName       string
	Namespace      string
	Annotations    []string
	Patterns       []string
	ParameterNames []string
	Body           string
	StartLine      int
	EndLine        int

	// Specification lines.
	LineText string
}

// Pattern returns the first step pattern attached to the declaration.
func (d Declaration) Pattern() string {
	if len(d.Patterns) == 0 {
		return ""
	}
	return d.Patterns[0]
}

// Navigator resolves a 1-based line in a file to its enclosing declaration.
// Implementations report absence with false and never panic into callers.
type Navigator interface {
	Locate(path string, line int) (Declaration, bool)
}

// stepAnnotations are the annotation names whose string argument is a step pattern.
var stepAnnotations = map[string]bool{
	"Given": true, "When": true, "Then": true, "And": true, "But": true,
	"Step": true, "Gegeben": true, "Wenn": true, "Dann": true,
	"Soit": true, "Quand": true, "Alors": true,
	"Dado": true, "Cuando": true, "Entonces": true,
}

// IsStepAnnotation reports whether name (possibly qualified) is a step annotation.
func IsStepAnnotation(name string) bool {
	name = strings.TrimPrefix(name, "@")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return stepAnnotations[name]
}

// Composite dispatches by file extension and tries the next navigator when
// one finds nothing, or finds a method without a step pattern.
type Composite struct {
	logger   *zap.Logger
	byExt    map[string][]Navigator
	fallback Navigator
}

// NewDefault returns the standard navigator: tree-sitter for Java, Kotlin,
// Groovy and Scala with the regex scanner behind each, and the line navigator
// for specification files. All share one parsed-file cache.
func NewDefault(logger *zap.Logger, cacheSize int) *Composite {
	cache := newFileCache(cacheSize)
	java := NewJavaNavigator(logger, cache)
	kt := NewKotlinNavigator(logger, cache)
	groovy := NewGroovyNavigator(logger, cache)
	scala := NewScalaNavigator(logger, cache)
	scan := NewScanNavigator(logger, cache)
	spec := NewSpecNavigator(logger, cache)

	return &Composite{
		logger: logger.Named("navigator"),
		byExt: map[string][]Navigator{
			".java":    {java, scan},
			".kt":      {kt, scan},
			".kts":     {kt, scan},
			".groovy":  {groovy, scan},
			".scala":   {scala, scan},
			".feature": {spec},
			".story":   {spec},
		},
		fallback: scan,
	}
}

// Locate implements Navigator.
func (c *Composite) Locate(path string, line int) (decl Declaration, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Debug("Navigator panicked; treating as not found.", zap.String("path", path), zap.Any("panic", r))
			decl, ok = Declaration{}, false
		}
	}()

	if path == "" || line <= 0 {
		return Declaration{}, false
	}
	navs, known := c.byExt[strings.ToLower(filepath.Ext(path))]
	if !known {
		navs = []Navigator{c.fallback}
	}
	var found *Declaration
	for _, n := range navs {
		decl, ok := n.Locate(path, line)
		if !ok {
			continue
		}
		if decl.Kind != KindMethod || len(decl.Patterns) > 0 {
			return decl, true
		}
		if found == nil {
			found = &decl
		}
	}
	if found != nil {
		return *found, true
	}
	c.logger.Debug("No declaration found.", zap.String("path", path), zap.Int("line", line))
	return Declaration{}, false
}

// smallestEnclosing picks the narrowest declaration spanning line.
func smallestEnclosing(decls []Declaration, line int) (Declaration, bool) {
	best := -1
	for i, d := range decls {
		if line < d.StartLine || line > d.EndLine {
			continue
		}
		if best < 0 || d.EndLine-d.StartLine < decls[best].EndLine-decls[best].StartLine {
			best = i
		}
	}
	if best < 0 {
		return Declaration{}, false
	}
	return decls[best], true
}
