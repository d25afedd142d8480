// internal/specrepo/document.go
package specrepo

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	gherkin "github.com/cucumber/gherkin/go/v26"
	messages "github.com/cucumber/messages/go/v21"
)

// Step is one step line of a scenario or background.
type Step struct {
	// Keyword is the trimmed step keyword ("Given", "And", "*", ...).
	Keyword string
	Text    string
	Line    int
}

// String renders the step with its keyword.
func (s Step) String() string {
	if s.Keyword == "" {
		return s.Text
	}
	return s.Keyword + " " + s.Text
}

// Block is a scenario or scenario outline.
type Block struct {
	Keyword    string
	Name       string
	Tags       []string
	Steps      []Step
	Background []Step
	// ExampleRows holds, per examples table, the header row followed by its
	// data rows, rendered as "| a | b |".
	ExampleRows []string
	IsOutline   bool
	// StartLine is the first line of the block including its tags; HeaderLine
	// is the line of the scenario keyword. EndLine is inclusive.
	StartLine  int
	HeaderLine int
	EndLine    int
}

// Document is a parsed specification file.
type Document struct {
	Path        string
	Content     string
	Lines       []string
	FeatureName string
	FeatureTags []string
	Blocks      []*Block
	// Structured is false when the file was read by the line scanner because
	// the Gherkin parser rejected it.
	Structured bool

	// sections are the first lines of Rule and Background headers, tags
	// included. No block extends across one.
	sections []int
}

// BlockText returns the verbatim source of b.
func (d *Document) BlockText(b *Block) string {
	if b == nil || b.StartLine < 1 || b.StartLine > len(d.Lines) {
		return ""
	}
	end := b.EndLine
	if end > len(d.Lines) {
		end = len(d.Lines)
	}
	lines := d.Lines[b.StartLine-1 : end]
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// ParseDocument parses content with the Gherkin parser and falls back to the
// line scanner when the parser rejects it.
func ParseDocument(path string, content []byte) *Document {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	doc := &Document{Path: path, Content: text, Lines: strings.Split(text, "\n")}
	if err := parseGherkin(doc, []byte(text)); err != nil {
		scanDocument(doc)
	}
	closeBlocks(doc)
	return doc
}

func parseGherkin(doc *Document, content []byte) error {
	gd, err := gherkin.ParseGherkinDocument(bytes.NewReader(content), (&messages.Incrementing{}).NewId)
	if err != nil {
		return fmt.Errorf("parse gherkin %s: %w", doc.Path, err)
	}
	if gd.Feature == nil {
		return fmt.Errorf("parse gherkin %s: no feature", doc.Path)
	}

	f := gd.Feature
	doc.Structured = true
	doc.FeatureName = strings.TrimSpace(f.Name)
	doc.FeatureTags = tagNames(f.Tags)

	var featureBackground []Step
	for _, child := range f.Children {
		switch {
		case child.Background != nil:
			doc.sections = append(doc.sections, int(child.Background.Location.Line))
			featureBackground = convertSteps(child.Background.Steps)
		case child.Scenario != nil:
			doc.Blocks = append(doc.Blocks, convertScenario(child.Scenario, featureBackground))
		case child.Rule != nil:
			ruleStart := int(child.Rule.Location.Line)
			for _, t := range child.Rule.Tags {
				if line := int(t.Location.Line); line < ruleStart {
					ruleStart = line
				}
			}
			doc.sections = append(doc.sections, ruleStart)

			ruleBackground := featureBackground
			for _, rc := range child.Rule.Children {
				switch {
				case rc.Background != nil:
					doc.sections = append(doc.sections, int(rc.Background.Location.Line))
					ruleBackground = append(append([]Step(nil), featureBackground...), convertSteps(rc.Background.Steps)...)
				case rc.Scenario != nil:
					doc.Blocks = append(doc.Blocks, convertScenario(rc.Scenario, ruleBackground))
				}
			}
		}
	}
	return nil
}

func convertScenario(s *messages.Scenario, background []Step) *Block {
	b := &Block{
		Keyword:    strings.TrimSpace(s.Keyword),
		Name:       strings.TrimSpace(s.Name),
		Tags:       tagNames(s.Tags),
		Steps:      convertSteps(s.Steps),
		Background: append([]Step(nil), background...),
		IsOutline:  len(s.Examples) > 0 || isOutlineKeyword(s.Keyword),
		HeaderLine: int(s.Location.Line),
		StartLine:  int(s.Location.Line),
	}
	for _, t := range s.Tags {
		if line := int(t.Location.Line); line < b.StartLine {
			b.StartLine = line
		}
	}
	for _, ex := range s.Examples {
		if ex.TableHeader != nil {
			b.ExampleRows = append(b.ExampleRows, renderRow(cellValues(ex.TableHeader.Cells)))
		}
		for _, row := range ex.TableBody {
			b.ExampleRows = append(b.ExampleRows, renderRow(cellValues(row.Cells)))
		}
	}
	return b
}

func convertSteps(steps []*messages.Step) []Step {
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		out = append(out, Step{
			Keyword: strings.TrimSpace(s.Keyword),
			Text:    strings.TrimSpace(s.Text),
			Line:    int(s.Location.Line),
		})
	}
	return out
}

func tagNames(tags []*messages.Tag) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.Name)
	}
	return out
}

func cellValues(cells []*messages.TableCell) []string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.Value)
	}
	return out
}

func renderRow(cells []string) string {
	if len(cells) == 0 {
		return "||"
	}
	return "| " + strings.Join(cells, " | ") + " |"
}

func isOutlineKeyword(keyword string) bool {
	k := strings.ToLower(keyword)
	return strings.Contains(k, "outline") || strings.Contains(k, "template")
}

// closeBlocks ends each block on the line before the next block, Rule or
// Background starts, or at the end of the file.
func closeBlocks(doc *Document) {
	sort.Ints(doc.sections)
	for i, b := range doc.Blocks {
		end := len(doc.Lines)
		if i+1 < len(doc.Blocks) {
			end = doc.Blocks[i+1].StartLine - 1
		}
		for _, line := range doc.sections {
			if line > b.HeaderLine && line-1 < end {
				end = line - 1
				break
			}
		}
		if end < b.HeaderLine {
			end = b.HeaderLine
		}
		b.EndLine = end
	}
}
