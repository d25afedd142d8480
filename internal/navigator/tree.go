// internal/navigator/tree.go
package navigator

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/groovy"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/scala"
	"go.uber.org/zap"
)

// grammar names the node types a tree-sitter grammar uses for the constructs
// step definitions are made of.
type grammar struct {
	name     string
	language func() *sitter.Language

	packages    set // package header
	types       set // class, object, trait
	methods     set // named function declarations
	calls       set // Given("...") { ... }
	closures    set // lambda or closure literals
	params      set // parameter lists of methods and closures
	bodies      set // method bodies, never searched for annotations
	strings     set
	identifiers set
}

type set map[string]bool

func setOf(names ...string) set {
	s := make(set, len(names))
	for _, n := range names {
		s[n] = true
	}
	return s
}

var (
	kotlinGrammar = &grammar{
		name:        "kotlin",
		language:    kotlin.GetLanguage,
		packages:    setOf("package_header"),
		types:       setOf("class_declaration", "object_declaration", "companion_object"),
		methods:     setOf("function_declaration"),
		calls:       setOf("call_expression"),
		closures:    setOf("lambda_literal"),
		params:      setOf("function_value_parameters", "lambda_parameters"),
		bodies:      setOf("function_body", "statements"),
		strings:     setOf("string_literal"),
		identifiers: setOf("simple_identifier", "type_identifier"),
	}

	groovyGrammar = &grammar{
		name:        "groovy",
		language:    groovy.GetLanguage,
		packages:    setOf("groovy_package"),
		types:       setOf("class_definition"),
		methods:     setOf("function_definition", "function_declaration"),
		calls:       setOf("function_call", "juxt_function_call"),
		closures:    setOf("closure"),
		params:      setOf("parameter_list"),
		bodies:      setOf("closure"),
		strings:     setOf("string"),
		identifiers: setOf("identifier"),
	}

	scalaGrammar = &grammar{
		name:        "scala",
		language:    scala.GetLanguage,
		packages:    setOf("package_clause"),
		types:       setOf("class_definition", "object_definition", "trait_definition"),
		methods:     setOf("function_definition"),
		calls:       setOf("call_expression"),
		closures:    setOf("lambda_expression"),
		params:      setOf("parameters", "bindings"),
		bodies:      setOf("block", "indented_block"),
		strings:     setOf("string"),
		identifiers: setOf("identifier"),
	}
)

// TreeNavigator locates declarations in Kotlin, Groovy or Scala sources using
// tree-sitter. Annotated functions and closure step definitions
// (cucumber-java8 in Kotlin, cucumber-groovy, cucumber-scala) are recognised.
type TreeNavigator struct {
	logger  *zap.Logger
	cache   *fileCache
	grammar *grammar
}

func newTreeNavigator(logger *zap.Logger, cache *fileCache, g *grammar) *TreeNavigator {
	if cache == nil {
		cache = newFileCache(0)
	}
	return &TreeNavigator{logger: logger.Named(g.name), cache: cache, grammar: g}
}

// NewKotlinNavigator creates a navigator for .kt and .kts files.
func NewKotlinNavigator(logger *zap.Logger, cache *fileCache) *TreeNavigator {
	return newTreeNavigator(logger, cache, kotlinGrammar)
}

// NewGroovyNavigator creates a navigator for .groovy files.
func NewGroovyNavigator(logger *zap.Logger, cache *fileCache) *TreeNavigator {
	return newTreeNavigator(logger, cache, groovyGrammar)
}

// NewScalaNavigator creates a navigator for .scala files.
func NewScalaNavigator(logger *zap.Logger, cache *fileCache) *TreeNavigator {
	return newTreeNavigator(logger, cache, scalaGrammar)
}

// Locate implements Navigator.
func (n *TreeNavigator) Locate(path string, line int) (Declaration, bool) {
	v, err := n.cache.load(n.grammar.name, path, func(content []byte) (any, error) {
		return n.parse(path, content)
	})
	if err != nil {
		n.logger.Debug("Source unavailable.", zap.String("path", path), zap.Error(err))
		return Declaration{}, false
	}
	return smallestEnclosing(v.([]Declaration), line)
}

func (n *TreeNavigator) parse(path string, content []byte) ([]Declaration, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(n.grammar.language())

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", n.grammar.name, err)
	}
	defer tree.Close()

	w := &treeWalker{g: n.grammar, path: path, content: content}
	root := tree.RootNode()
	w.namespace = w.packageName(root)
	w.walk(root)
	return w.decls, nil
}

type treeWalker struct {
	g         *grammar
	path      string
	content   []byte
	namespace string
	decls     []Declaration
}

func (w *treeWalker) walk(node *sitter.Node) {
	if node == nil || node.IsNull() {
		return
	}
	switch {
	case w.g.methods[node.Type()]:
		if d, ok := w.method(node); ok {
			w.decls = append(w.decls, d)
		}
	case w.g.calls[node.Type()]:
		if d, ok := w.closureStep(node); ok {
			w.decls = append(w.decls, d)
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.walk(node.NamedChild(i))
	}
}

func (w *treeWalker) text(node *sitter.Node) string {
	if node == nil || node.IsNull() {
		return ""
	}
	return node.Content(w.content)
}

// name returns the declared name of node: its name field, Groovy's function
// field, or its first identifier child.
func (w *treeWalker) name(node *sitter.Node) string {
	for _, field := range []string{"name", "function"} {
		if n := node.ChildByFieldName(field); n != nil && w.g.identifiers[n.Type()] {
			return w.text(n)
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if c := node.NamedChild(i); w.g.identifiers[c.Type()] {
			return w.text(c)
		}
	}
	return ""
}

func (w *treeWalker) method(node *sitter.Node) (Declaration, bool) {
	name := w.name(node)
	if name == "" {
		return Declaration{}, false
	}
	d := Declaration{
		Kind:       KindMethod,
		FilePath:   w.path,
		MethodName: name,
		TypeName:   w.enclosingType(node),
		Namespace:  w.namespace,
		Body:       w.text(node),
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
	}

	for _, ann := range w.annotations(node) {
		name, pattern := w.annotation(ann)
		d.Annotations = append(d.Annotations, name)
		if IsStepAnnotation(name) && pattern != "" {
			d.Patterns = append(d.Patterns, pattern)
		}
	}
	// Annotations some grammars leave as preceding siblings.
	if first := w.precedingAnnotations(node); first != nil {
		d.StartLine = int(first.StartPoint().Row) + 1
		for a := first; a != nil && !a.IsNull() && a.StartByte() < node.StartByte(); a = a.NextNamedSibling() {
			name, pattern := w.annotation(a)
			d.Annotations = append(d.Annotations, name)
			if IsStepAnnotation(name) && pattern != "" {
				d.Patterns = append(d.Patterns, pattern)
			}
		}
	}

	if params := w.firstChildOf(node, w.g.params); params != nil {
		d.ParameterNames = w.parameterNames(params)
	}
	return d, true
}

// annotations collects the annotation nodes of a declaration without
// descending into its parameters or body.
func (w *treeWalker) annotations(node *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			switch t := c.Type(); {
			case t == "annotation":
				out = append(out, c)
			case w.g.params[t], w.g.bodies[t], w.g.closures[t]:
			default:
				visit(c)
			}
		}
	}
	visit(node)
	return out
}

func (w *treeWalker) precedingAnnotations(node *sitter.Node) *sitter.Node {
	var first *sitter.Node
	for p := node.PrevNamedSibling(); p != nil && !p.IsNull() && p.Type() == "annotation"; p = p.PrevNamedSibling() {
		first = p
	}
	return first
}

// annotation returns the name of @Name(...) and its first string argument.
func (w *treeWalker) annotation(ann *sitter.Node) (name, pattern string) {
	text := strings.TrimPrefix(strings.TrimSpace(w.text(ann)), "@")
	end := 0
	for end < len(text) && (isWordByte(text[end]) || text[end] == '.') {
		end++
	}
	name = text[:end]
	if lit := w.firstOf(ann, w.g.strings, nil); lit != nil {
		pattern = literalValue(w.text(lit))
	}
	return name, pattern
}

// closureStep recognises Given("pattern") { params -> ... } and its Scala
// form Given("pattern") { (params) => ... }.
func (w *treeWalker) closureStep(node *sitter.Node) (Declaration, bool) {
	callee := node.ChildByFieldName("function")
	if callee == nil && node.NamedChildCount() > 0 {
		callee = node.NamedChild(0)
	}
	if callee == nil || !w.g.identifiers[callee.Type()] {
		return Declaration{}, false
	}
	name := w.text(callee)
	if !IsStepAnnotation(name) {
		return Declaration{}, false
	}
	lit := w.firstOf(node, w.g.strings, w.g.closures)
	if lit == nil {
		return Declaration{}, false
	}

	// Scala applies the closure to the result of Given("..."), so the
	// definition spans the enclosing call that starts at the same place.
	span := node
	for p := span.Parent(); p != nil && !p.IsNull() && w.g.calls[p.Type()] && p.StartByte() == node.StartByte(); p = p.Parent() {
		span = p
	}
	closure := w.firstOf(span, w.g.closures, nil)
	if closure == nil {
		return Declaration{}, false
	}

	d := Declaration{
		Kind:        KindMethod,
		FilePath:    w.path,
		MethodName:  "lambda$" + name,
		TypeName:    w.enclosingType(node),
		Namespace:   w.namespace,
		Annotations: []string{name},
		Patterns:    []string{literalValue(w.text(lit))},
		Body:        w.text(span),
		StartLine:   int(span.StartPoint().Row) + 1,
		EndLine:     int(span.EndPoint().Row) + 1,
	}
	if params := w.firstChildOf(closure, w.g.params); params != nil {
		d.ParameterNames = w.parameterNames(params)
	} else if params := closure.ChildByFieldName("parameters"); params != nil {
		d.ParameterNames = w.parameterNames(params)
	}
	return d, true
}

// firstOf finds the first descendant of node, depth first, whose type is in
// want. Subtrees whose root type is in stop are skipped.
func (w *treeWalker) firstOf(node *sitter.Node, want, stop set) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		c := node.NamedChild(i)
		if want[c.Type()] {
			return c
		}
		if stop[c.Type()] {
			continue
		}
		if found := w.firstOf(c, want, stop); found != nil {
			return found
		}
	}
	return nil
}

func (w *treeWalker) firstChildOf(node *sitter.Node, want set) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if c := node.NamedChild(i); want[c.Type()] {
			return c
		}
	}
	return nil
}

func (w *treeWalker) parameterNames(params *sitter.Node) []string {
	if w.g.identifiers[params.Type()] {
		return []string{w.text(params)}
	}
	var names []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		if w.g.identifiers[p.Type()] {
			names = append(names, w.text(p))
			continue
		}
		if n := w.name(p); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func (w *treeWalker) enclosingType(node *sitter.Node) string {
	for p := node.Parent(); p != nil && !p.IsNull(); p = p.Parent() {
		if w.g.types[p.Type()] {
			return w.name(p)
		}
	}
	return ""
}

func (w *treeWalker) packageName(root *sitter.Node) string {
	pkg := w.firstOf(root, w.g.packages, w.g.types)
	if pkg == nil {
		return ""
	}
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(w.text(pkg)), "package"))
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimRight(fields[0], ";{")
}

// literalValue turns a Kotlin, Groovy or Scala string literal into its value.
func literalValue(lit string) string {
	lit = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lit), "~"))
	for _, q := range []string{`"""`, `'''`} {
		if strings.HasPrefix(lit, q) && strings.HasSuffix(lit, q) && len(lit) >= 2*len(q) {
			return lit[len(q) : len(lit)-len(q)]
		}
	}
	if len(lit) >= 2 {
		switch first, last := lit[0], lit[len(lit)-1]; {
		case first == '"' && last == '"':
			return javaUnquote(lit)
		case first == '\'' && last == '\'', first == '/' && last == '/':
			return lit[1 : len(lit)-1]
		}
	}
	return lit
}
