// internal/analysis/prompt.go
package analysis

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/bddtriage/internal/triage"
)

// maxTraceLines bounds the stack trace included in a prompt.
const maxTraceLines = 40

const baseSystemPrompt = `You are an expert in behavior-driven development with Cucumber and JVM test automation. ` +
	`You are given a failing Gherkin scenario together with the step definition that implements the failing step, ` +
	`the assertion detail and the stack trace. Decide whether the failure is caused by the application under test, ` +
	`the step definition code, the scenario text or the test environment.`

func systemPrompt(mode string) string {
	switch mode {
	case ModeDetailed:
		return baseSystemPrompt + ` Give a thorough root cause analysis in Markdown with the headings "Root cause", "Evidence" and "Next steps".`
	case ModeFix:
		return baseSystemPrompt + ` Propose the smallest change that fixes the failure and answer in the required JSON format only.`
	default:
		return baseSystemPrompt + ` Answer in at most five sentences of Markdown.`
	}
}

// BuildPrompt renders the failure context as the user prompt for mode.
func BuildPrompt(fc *triage.FailureContext, mode string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**Scenario:** %s\n", fc.ScenarioName())
	fmt.Fprintf(&b, "**Failed step:** %s\n", fc.FailedStep())
	if fc.SourceFile() != "" {
		if fc.SourceLine() != triage.UnknownLine {
			fmt.Fprintf(&b, "**Location:** %s:%d\n", fc.SourceFile(), fc.SourceLine())
		} else {
			fmt.Fprintf(&b, "**Location:** %s\n", fc.SourceFile())
		}
	}

	if fc.HasAssertionDetail() {
		b.WriteString("\n**Assertion:**\n")
		fmt.Fprintf(&b, "- Expected: %s\n", orNone(fc.Expected()))
		fmt.Fprintf(&b, "- Actual: %s\n", orNone(fc.Actual()))
	}
	if msg := strings.TrimSpace(fc.ErrorMessage()); msg != "" {
		fmt.Fprintf(&b, "\n**Error message:**\n%s\n", msg)
	}

	if sc := fc.Scenario(); sc != nil {
		fmt.Fprintf(&b, "\n**Feature:** %s (%s:%d)\n", sc.FeatureName, sc.FilePath, sc.LineNumber)
		if len(sc.Tags) > 0 {
			fmt.Fprintf(&b, "**Tags:** %s\n", strings.Join(sc.Tags, " "))
		}
		if len(sc.BackgroundSteps) > 0 {
			b.WriteString("\n**Background:**\n")
			for _, s := range sc.BackgroundSteps {
				fmt.Fprintf(&b, "    %s\n", s)
			}
		}
		fmt.Fprintf(&b, "\n**Scenario source:**\n```gherkin\n%s\n```\n", sc.ScenarioText)
		if sc.IsOutline && fc.ExampleID() != "" {
			fmt.Fprintf(&b, "The failing execution is %s of the outline's examples.\n", fc.ExampleID())
		}
	}

	if sd := fc.StepDefinition(); sd != nil {
		fmt.Fprintf(&b, "\n**Step definition:** %s.%s (%s:%d)\n", qualified(sd.Namespace, sd.TypeName), sd.MethodName, sd.FileName, sd.LineNumber)
		fmt.Fprintf(&b, "**Step pattern:** %s\n", sd.StepPattern)
		if len(sd.ParameterNames) > 0 {
			fmt.Fprintf(&b, "**Parameters:** %s\n", strings.Join(sd.ParameterNames, ", "))
		}
		fmt.Fprintf(&b, "```%s\n%s\n```\n", languageOf(sd.FileName), sd.SourceText)
	}

	if trace := truncateLines(fc.StackTrace(), maxTraceLines); trace != "" {
		fmt.Fprintf(&b, "\n**Stack trace:**\n```\n%s\n```\n", trace)
	}

	if mode == ModeFix {
		b.WriteString(`
**Response Format (Strict JSON):**
{
  "explanation": "Markdown explanation of the failure and the fix.",
  "root_cause": "A concise description of the issue.",
  "confidence": 0.8,
  "patch": "A unified diff relative to the project root, or an empty string."
}
`)
	}
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func qualified(ns, typeName string) string {
	if ns == "" {
		return typeName
	}
	return ns + "." + typeName
}

func languageOf(file string) string {
	switch {
	case strings.HasSuffix(file, ".kt"), strings.HasSuffix(file, ".kts"):
		return "kotlin"
	case strings.HasSuffix(file, ".groovy"):
		return "groovy"
	case strings.HasSuffix(file, ".scala"):
		return "scala"
	default:
		return "java"
	}
}

func truncateLines(s string, max int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= max {
		return s
	}
	return strings.Join(lines[:max], "\n") + fmt.Sprintf("\n... %d more lines", len(lines)-max)
}
