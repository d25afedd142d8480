// internal/triage/steps.go
package triage

import "strings"

// stepKeywords are the leading step tokens removed by StripStepKeyword.
var stepKeywords = []string{"Given", "When", "Then", "And", "But", "*"}

// StripStepKeyword removes one leading Given/When/Then/And/But/* token from a
// step line and returns the trimmed remainder. Text without a keyword is
// returned trimmed.
func StripStepKeyword(text string) string {
	text = strings.TrimSpace(text)
	for _, kw := range stepKeywords {
		rest, ok := strings.CutPrefix(text, kw)
		if !ok {
			continue
		}
		if rest == "" || rest[0] == ' ' || rest[0] == '\t' {
			return strings.TrimSpace(rest)
		}
	}
	return text
}
