// internal/specrepo/match.go
package specrepo

import (
	"regexp"
	"strings"
	"sync"

	cucumberexpressions "github.com/cucumber/cucumber-expressions/go/v16"
)

var (
	placeholderRegex = regexp.MustCompile(`<[^<>]+>`)
	parameterRegex   = regexp.MustCompile(`\{([^{}]*)\}`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
)

// parameterTypes holds the built-in cucumber parameter types. Lookups only.
var parameterTypes = cucumberexpressions.NewParameterTypeRegistry()

// matcherCache memoizes compiled step matchers by source text.
var matcherCache sync.Map

func normalize(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

// StepMatches reports whether a specification step matches the failed step
// text. Failed text may be concrete step text, or a step pattern when it came
// from a step implementation; specification text may hold outline
// placeholders.
func StepMatches(specText, failedText string) bool {
	spec, failed := normalize(specText), normalize(failedText)
	if spec == "" || failed == "" {
		return false
	}
	if spec == failed {
		return true
	}
	if placeholderRegex.MatchString(spec) {
		if re := compiled("outline:"+spec, outlineRegex); re != nil && re.MatchString(failed) {
			return true
		}
	}
	if looksLikeRegex(failed) {
		if re := compiled("regex:"+failed, regexp.Compile); re != nil && re.MatchString(spec) {
			return true
		}
	} else if re := compiled("expr:"+failed, expressionRegex); re != nil && re.MatchString(spec) {
		return true
	}
	return false
}

func looksLikeRegex(s string) bool {
	return strings.HasPrefix(s, "^") || strings.HasSuffix(s, "$")
}

func compiled(key string, build func(string) (*regexp.Regexp, error)) *regexp.Regexp {
	if v, ok := matcherCache.Load(key); ok {
		re, _ := v.(*regexp.Regexp)
		return re
	}
	src := key[strings.IndexByte(key, ':')+1:]
	re, err := build(src)
	if err != nil {
		re = nil
	}
	matcherCache.Store(key, re)
	return re
}

// outlineRegex turns "I log in as <role>" into an anchored regex where each
// placeholder matches any text.
func outlineRegex(spec string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	last := 0
	for _, loc := range placeholderRegex.FindAllStringIndex(spec, -1) {
		b.WriteString(regexp.QuoteMeta(spec[last:loc[0]]))
		b.WriteString("(.+?)")
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(spec[last:]))
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// expressionRegex compiles a cucumber expression. Parameter types the project
// registers itself are unknown here and match like the anonymous type.
func expressionRegex(expr string) (*regexp.Regexp, error) {
	expr = parameterRegex.ReplaceAllStringFunc(expr, func(param string) string {
		name := param[1 : len(param)-1]
		if name == "" || parameterTypes.LookupByTypeName(name) != nil {
			return param
		}
		return "{}"
	})
	ce, err := cucumberexpressions.NewCucumberExpression(expr, parameterTypes)
	if err != nil {
		return nil, err
	}
	return ce.Regexp(), nil
}
