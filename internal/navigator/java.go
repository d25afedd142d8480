// internal/navigator/java.go
package navigator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"go.uber.org/zap"
)

// JavaNavigator locates declarations in Java sources using tree-sitter.
// Annotated methods (cucumber-java) and lambda step definitions (cucumber-java8)
// are both recognised.
type JavaNavigator struct {
	logger *zap.Logger
	cache  *fileCache
}

// NewJavaNavigator creates a tree-sitter backed navigator.
func NewJavaNavigator(logger *zap.Logger, cache *fileCache) *JavaNavigator {
	if cache == nil {
		cache = newFileCache(0)
	}
	return &JavaNavigator{logger: logger.Named("java"), cache: cache}
}

// Locate implements Navigator.
func (n *JavaNavigator) Locate(path string, line int) (Declaration, bool) {
	v, err := n.cache.load("java", path, func(content []byte) (any, error) {
		return n.parse(path, content)
	})
	if err != nil {
		n.logger.Debug("Java source unavailable.", zap.String("path", path), zap.Error(err))
		return Declaration{}, false
	}
	return smallestEnclosing(v.([]Declaration), line)
}

// parse extracts every method and lambda step definition in the file.
func (n *JavaNavigator) parse(path string, content []byte) ([]Declaration, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(java.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse java: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	w := &javaWalker{
		path:      path,
		content:   content,
		namespace: javaPackageName(root, content),
	}
	w.walk(root)
	return w.decls, nil
}

type javaWalker struct {
	path      string
	content   []byte
	namespace string
	decls     []Declaration
}

func (w *javaWalker) walk(node *sitter.Node) {
	if node == nil || node.IsNull() {
		return
	}
	switch node.Type() {
	case "method_declaration", "constructor_declaration":
		if d, ok := w.method(node); ok {
			w.decls = append(w.decls, d)
		}
	case "method_invocation":
		if d, ok := w.lambdaStep(node); ok {
			w.decls = append(w.decls, d)
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.walk(node.NamedChild(i))
	}
}

func (w *javaWalker) text(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	return node.Content(w.content)
}

func (w *javaWalker) method(node *sitter.Node) (Declaration, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return Declaration{}, false
	}

	d := Declaration{
		Kind:       KindMethod,
		FilePath:   w.path,
		MethodName: w.text(nameNode),
		TypeName:   w.enclosingType(node),
		Namespace:  w.namespace,
		Body:       w.text(node),
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "modifiers" {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			ann := child.NamedChild(j)
			if ann.Type() != "annotation" && ann.Type() != "marker_annotation" {
				continue
			}
			name := w.text(ann.ChildByFieldName("name"))
			d.Annotations = append(d.Annotations, name)
			if !IsStepAnnotation(name) {
				continue
			}
			if pattern, ok := w.annotationValue(ann); ok {
				d.Patterns = append(d.Patterns, pattern)
			}
		}
	}

	if params := node.ChildByFieldName("parameters"); params != nil {
		d.ParameterNames = w.parameterNames(params)
	}
	return d, true
}

// annotationValue returns the string value of @Name("...") or @Name(value = "...").
func (w *javaWalker) annotationValue(ann *sitter.Node) (string, bool) {
	args := ann.ChildByFieldName("arguments")
	if args == nil {
		return "", false
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		switch arg.Type() {
		case "string_literal":
			return javaUnquote(w.text(arg)), true
		case "element_value_pair":
			if w.text(arg.ChildByFieldName("key")) != "value" {
				continue
			}
			if v := arg.ChildByFieldName("value"); v != nil && v.Type() == "string_literal" {
				return javaUnquote(w.text(v)), true
			}
		}
	}
	return "", false
}

// lambdaStep recognises Given("pattern", (a, b) -> { ... }).
func (w *javaWalker) lambdaStep(node *sitter.Node) (Declaration, bool) {
	name := w.text(node.ChildByFieldName("name"))
	if !IsStepAnnotation(name) {
		return Declaration{}, false
	}
	args := node.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() < 2 {
		return Declaration{}, false
	}
	first, second := args.NamedChild(0), args.NamedChild(1)
	if first.Type() != "string_literal" || second.Type() != "lambda_expression" {
		return Declaration{}, false
	}

	d := Declaration{
		Kind:        KindMethod,
		FilePath:    w.path,
		MethodName:  "lambda$" + name,
		TypeName:    w.enclosingType(node),
		Namespace:   w.namespace,
		Annotations: []string{name},
		Patterns:    []string{javaUnquote(w.text(first))},
		Body:        w.text(node),
		StartLine:   int(node.StartPoint().Row) + 1,
		EndLine:     int(node.EndPoint().Row) + 1,
	}
	if params := second.ChildByFieldName("parameters"); params != nil {
		d.ParameterNames = w.parameterNames(params)
	}
	return d, true
}

func (w *javaWalker) parameterNames(params *sitter.Node) []string {
	if params.Type() == "identifier" {
		return []string{w.text(params)}
	}
	var names []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "formal_parameter":
			if n := p.ChildByFieldName("name"); n != nil {
				names = append(names, w.text(n))
			}
		case "spread_parameter":
			for j := 0; j < int(p.NamedChildCount()); j++ {
				if vd := p.NamedChild(j); vd.Type() == "variable_declarator" {
					names = append(names, w.text(vd.ChildByFieldName("name")))
				}
			}
		case "identifier":
			names = append(names, w.text(p))
		}
	}
	return names
}

func (w *javaWalker) enclosingType(node *sitter.Node) string {
	for p := node.Parent(); p != nil && !p.IsNull(); p = p.Parent() {
		switch p.Type() {
		case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
			return w.text(p.ChildByFieldName("name"))
		}
	}
	return ""
}

func javaPackageName(root *sitter.Node, content []byte) string {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child.Type() != "package_declaration" {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			pkg := child.NamedChild(j)
			if pkg.Type() == "scoped_identifier" || pkg.Type() == "identifier" {
				return pkg.Content(content)
			}
		}
	}
	return ""
}

// javaUnquote turns a Java string literal into its value. Text blocks are
// returned with their delimiters and common indentation removed.
func javaUnquote(lit string) string {
	lit = strings.TrimSpace(lit)
	if strings.HasPrefix(lit, `"""`) && strings.HasSuffix(lit, `"""`) && len(lit) >= 6 {
		return strings.TrimSpace(lit[3 : len(lit)-3])
	}
	if s, err := strconv.Unquote(lit); err == nil {
		return s
	}
	return strings.Trim(lit, `"`)
}
