// internal/specrepo/scan.go
package specrepo

import (
	"strings"
)

var (
	scenarioHeaders  = []string{"Scenario Outline:", "Scenario Template:", "Scenario:", "Example:"}
	backgroundHeader = "Background:"
	ruleHeader       = "Rule:"
	examplesHeaders  = []string{"Examples:", "Scenarios:"}
	scanStepKeywords = []string{"Given", "When", "Then", "And", "But", "*"}
)

// scanDocument fills doc by scanning lines. It handles the English keywords
// only and is used for files the Gherkin parser rejects.
func scanDocument(doc *Document) {
	const (
		inNone = iota
		inBackground
		inScenario
		inExamples
	)

	var (
		state      = inNone
		pendingTag []string
		tagLine    int
		background []Step
		current    *Block

		inRule            bool
		featureBackground []Step
	)

	for i, raw := range doc.Lines {
		lineNo := i + 1
		line := strings.TrimSpace(raw)

		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue

		case strings.HasPrefix(line, "@"):
			if len(pendingTag) == 0 {
				tagLine = lineNo
			}
			pendingTag = append(pendingTag, strings.Fields(line)...)
			continue

		case strings.HasPrefix(line, "Feature:"):
			doc.FeatureName = strings.TrimSpace(strings.TrimPrefix(line, "Feature:"))
			doc.FeatureTags = pendingTag
			pendingTag = nil
			state = inNone
			continue

		case strings.HasPrefix(line, ruleHeader):
			start := lineNo
			if len(pendingTag) > 0 {
				start = tagLine
			}
			doc.sections = append(doc.sections, start)
			if !inRule {
				featureBackground = background
				inRule = true
			}
			background = append([]Step(nil), featureBackground...)
			pendingTag = nil
			current = nil
			state = inNone
			continue

		case strings.HasPrefix(line, backgroundHeader):
			doc.sections = append(doc.sections, lineNo)
			background = nil
			if inRule {
				background = append(background, featureBackground...)
			}
			pendingTag = nil
			state = inBackground
			continue
		}

		if kw, name, ok := cutAnyPrefix(line, scenarioHeaders); ok {
			current = &Block{
				Keyword:    strings.TrimSuffix(kw, ":"),
				Name:       strings.TrimSpace(name),
				Tags:       pendingTag,
				Background: append([]Step(nil), background...),
				IsOutline:  isOutlineKeyword(kw),
				HeaderLine: lineNo,
				StartLine:  lineNo,
			}
			if len(pendingTag) > 0 {
				current.StartLine = tagLine
			}
			pendingTag = nil
			doc.Blocks = append(doc.Blocks, current)
			state = inScenario
			continue
		}

		if _, _, ok := cutAnyPrefix(line, examplesHeaders); ok && current != nil {
			current.IsOutline = true
			pendingTag = nil
			state = inExamples
			continue
		}

		if state == inExamples && strings.HasPrefix(line, "|") {
			current.ExampleRows = append(current.ExampleRows, renderRow(splitRow(line)))
			continue
		}

		if step, ok := scanStep(line, lineNo); ok {
			switch state {
			case inBackground:
				background = append(background, step)
			case inScenario:
				current.Steps = append(current.Steps, step)
			}
		}
	}
}

func cutAnyPrefix(line string, prefixes []string) (prefix, rest string, ok bool) {
	for _, p := range prefixes {
		if r, found := strings.CutPrefix(line, p); found {
			return p, r, true
		}
	}
	return "", "", false
}

func scanStep(line string, lineNo int) (Step, bool) {
	for _, kw := range scanStepKeywords {
		rest, ok := strings.CutPrefix(line, kw)
		if !ok || (rest != "" && rest[0] != ' ' && rest[0] != '\t') {
			continue
		}
		return Step{Keyword: kw, Text: strings.TrimSpace(rest), Line: lineNo}, true
	}
	return Step{}, false
}

func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}
