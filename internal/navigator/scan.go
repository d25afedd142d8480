// internal/navigator/scan.go
package navigator

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var (
	scanPackageRegex = regexp.MustCompile(`^\s*package\s+([\w.]+)`)
	scanTypeRegex    = regexp.MustCompile(`\b(?:class|interface|enum|record|object|trait)\s+(\w+)`)

	// Java/Groovy: modifiers, return type, name, parameter list.
	scanJavaMethodRegex = regexp.MustCompile(`^\s*(?:(?:public|protected|private|static|final|synchronized|abstract|default|def)\s+)*(?:[\w.$]+(?:<[^>]*>)?(?:\[\])*\s+)?(\w+)\s*\(([^)]*)\)?`)

	// Kotlin: fun name(params).
	scanKotlinFunRegex = regexp.MustCompile(`^\s*(?:(?:public|private|internal|protected|override|suspend|open)\s+)*fun\s+(?:<[^>]*>\s*)?(\w+)\s*\(([^)]*)\)?`)

	// Closure or lambda style: Given("pattern") { a, b -> ... }, Given(~/pattern/) { ... }
	// or Given("pattern", (String a) -> { ... }).
	scanClosureStepRegex   = regexp.MustCompile(`^\s*(\w+)\s*\(\s*(?:"((?:[^"\\]|\\.)*)"|~/(.*)/)`)
	scanClosureParamsRegex = regexp.MustCompile(`(?:\{\s*([\w\s,:<>]*?)|\(([^()]*)\))\s*->`)

	scanAnnotationRegex = regexp.MustCompile(`^\s*@([\w.]+)(?:\s*\(\s*(?:value\s*=\s*)?(?:"((?:[^"\\]|\\.)*)")?)?`)
)

var scanNotMethods = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true, "return": true,
	"new": true, "throw": true, "synchronized": true, "else": true, "try": true, "when": true,
}

// ScanNavigator locates methods by line scanning and brace counting. It works
// for Java, Kotlin and Groovy sources and serves as the fallback when a syntax
// tree is unavailable.
type ScanNavigator struct {
	logger *zap.Logger
	cache  *fileCache
}

// NewScanNavigator creates a line-scanning navigator.
func NewScanNavigator(logger *zap.Logger, cache *fileCache) *ScanNavigator {
	if cache == nil {
		cache = newFileCache(0)
	}
	return &ScanNavigator{logger: logger.Named("scan"), cache: cache}
}

// Locate implements Navigator.
func (n *ScanNavigator) Locate(path string, line int) (Declaration, bool) {
	v, err := n.cache.load("scan", path, func(content []byte) (any, error) {
		return scanDeclarations(path, string(content)), nil
	})
	if err != nil {
		n.logger.Debug("Source unavailable.", zap.String("path", path), zap.Error(err))
		return Declaration{}, false
	}
	return smallestEnclosing(v.([]Declaration), line)
}

func scanDeclarations(path, content string) []Declaration {
	lines := strings.Split(content, "\n")

	var (
		namespace   string
		currentType string
		decls       []Declaration
		annotations []string
		patterns    []string
		annStart    = -1
	)
	reset := func() { annotations, patterns, annStart = nil, nil, -1 }

	for i := 0; i < len(lines); i++ {
		raw := lines[i]
		trimmed := strings.TrimSpace(raw)

		if m := scanPackageRegex.FindStringSubmatch(raw); m != nil && namespace == "" {
			namespace = m[1]
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "/*") {
			continue
		}

		// Annotations may stack on one line and may share it with the declaration.
		for strings.HasPrefix(trimmed, "@") {
			m := scanAnnotationRegex.FindStringSubmatch(trimmed)
			if m == nil {
				break
			}
			if annStart < 0 {
				annStart = i
			}
			annotations = append(annotations, m[1])
			if IsStepAnnotation(m[1]) && m[2] != "" {
				patterns = append(patterns, unescapeQuoted(m[2]))
			}
			trimmed = skipAnnotation(trimmed)
		}
		if trimmed == "" {
			continue
		}

		if loc := scanTypeRegex.FindStringSubmatchIndex(trimmed); loc != nil {
			if paren := strings.Index(trimmed, "("); paren < 0 || loc[0] < paren {
				currentType = trimmed[loc[2]:loc[3]]
				reset()
				continue
			}
		}

		if d, ok := scanClosureStep(path, lines, i); ok {
			d.TypeName, d.Namespace = currentType, namespace
			decls = append(decls, d)
			reset()
			continue
		}

		name, params, ok := scanMethodHeader(trimmed)
		if !ok {
			reset()
			continue
		}

		first := i
		if annStart >= 0 {
			first = annStart
		}
		end := braceEnd(lines, i)
		decls = append(decls, Declaration{
			Kind:           KindMethod,
			FilePath:       path,
			MethodName:     name,
			TypeName:       currentType,
			Namespace:      namespace,
			Annotations:    annotations,
			Patterns:       patterns,
			ParameterNames: splitParameterNames(params),
			Body:           strings.Join(lines[first:end+1], "\n"),
			StartLine:      first + 1,
			EndLine:        end + 1,
		})
		reset()
	}
	return decls
}

// skipAnnotation drops the leading annotation, including any argument list,
// from line.
func skipAnnotation(line string) string {
	i := 1
	for i < len(line) && (isWordByte(line[i]) || line[i] == '.') {
		i++
	}
	rest := strings.TrimLeft(line[i:], " \t")
	if !strings.HasPrefix(rest, "(") {
		return strings.TrimSpace(rest)
	}
	depth, inString := 0, false
	for j := 0; j < len(rest); j++ {
		c := rest[j]
		switch {
		case inString:
			if c == '\\' {
				j++
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return strings.TrimSpace(rest[j+1:])
			}
		}
	}
	return ""
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func scanMethodHeader(line string) (name, params string, ok bool) {
	if m := scanKotlinFunRegex.FindStringSubmatch(line); m != nil {
		return m[1], m[2], true
	}
	loc := scanJavaMethodRegex.FindStringSubmatchIndex(line)
	if loc == nil {
		return "", "", false
	}
	name = line[loc[2]:loc[3]]
	if scanNotMethods[name] || strings.HasSuffix(line, ";") {
		return "", "", false
	}
	// A declaration has a return type or a modifier before its name.
	prefix := strings.Fields(line[:loc[2]])
	if len(prefix) == 0 || scanNotMethods[prefix[0]] || strings.ContainsAny(line[:loc[2]], "=(") {
		return "", "", false
	}
	if loc[4] >= 0 {
		params = line[loc[4]:loc[5]]
	}
	return name, params, true
}

func scanClosureStep(path string, lines []string, i int) (Declaration, bool) {
	m := scanClosureStepRegex.FindStringSubmatch(lines[i])
	if m == nil || !IsStepAnnotation(m[1]) {
		return Declaration{}, false
	}
	pattern := m[3]
	if m[2] != "" {
		pattern = unescapeQuoted(m[2])
	}
	end := braceEnd(lines, i)
	d := Declaration{
		Kind:        KindMethod,
		FilePath:    path,
		MethodName:  "lambda$" + m[1],
		Annotations: []string{m[1]},
		Patterns:    []string{pattern},
		Body:        strings.Join(lines[i:end+1], "\n"),
		StartLine:   i + 1,
		EndLine:     end + 1,
	}
	if pm := scanClosureParamsRegex.FindStringSubmatch(lines[i]); pm != nil {
		d.ParameterNames = splitParameterNames(pm[1] + pm[2])
	}
	return d, true
}

// braceEnd returns the index of the line on which the block opened at or after
// start closes. A header without a body ends on its own line.
func braceEnd(lines []string, start int) int {
	depth, opened := 0, false
	for i := start; i < len(lines); i++ {
		inString := false
		var quote byte
		line := lines[i]
		for j := 0; j < len(line); j++ {
			c := line[j]
			switch {
			case inString:
				if c == '\\' {
					j++
				} else if c == quote {
					inString = false
				}
			case c == '"' || c == '\'':
				inString, quote = true, c
			case c == '/' && j+1 < len(line) && line[j+1] == '/':
				j = len(line)
			case c == '{':
				depth++
				opened = true
			case c == '}':
				depth--
			}
		}
		if opened && depth <= 0 {
			return i
		}
		if !opened && (strings.HasSuffix(strings.TrimSpace(line), ";") || i-start > 3) {
			return i
		}
	}
	return len(lines) - 1
}

// splitParameterNames extracts names from Java ("String name"), Kotlin
// ("name: String") and closure ("a, b") parameter lists.
func splitParameterNames(params string) []string {
	var names []string
	for _, p := range splitTopLevel(params) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if i := strings.Index(p, ":"); i >= 0 {
			p = strings.TrimSpace(p[:i])
		}
		fields := strings.Fields(p)
		// Drop parameter annotations such as @Transpose.
		for len(fields) > 1 && strings.HasPrefix(fields[0], "@") {
			fields = fields[1:]
		}
		if len(fields) == 0 {
			continue
		}
		name := strings.TrimPrefix(fields[len(fields)-1], "...")
		name = strings.TrimSuffix(name, "[]")
		names = append(names, name)
	}
	return names
}

func splitTopLevel(s string) []string {
	var out []string
	depth, last := 0, 0
	for i, r := range s {
		switch r {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[last:i])
				last = i + 1
			}
		}
	}
	return append(out, s[last:])
}

func unescapeQuoted(s string) string {
	return javaUnquote(`"` + s + `"`)
}
