// internal/triage/models.go
package triage

import (
	"time"
)

// UnknownLine is the line number recorded when a failure has no resolvable source location.
const UnknownLine = -1

// UnknownScenario is the display name used when no scenario name can be derived at all.
const UnknownScenario = "Unknown Scenario"

// StepDefinitionDescriptor describes the method that implements a failed step.
type StepDefinitionDescriptor struct {
	MethodName     string   `json:"method_name"`
	TypeName       string   `json:"type_name"`
	Namespace      string   `json:"namespace"`
	FileName       string   `json:"file_name"`
	LineNumber     int      `json:"line_number"`
	StepPattern    string   `json:"step_pattern"`
	ParameterNames []string `json:"parameter_names,omitempty"`
	SourceText     string   `json:"source_text"`
}

// clone returns a deep copy so a descriptor handed to a FailureContext cannot be
// changed through the caller's copy.
func (d *StepDefinitionDescriptor) clone() *StepDefinitionDescriptor {
	if d == nil {
		return nil
	}
	c := *d
	c.ParameterNames = cloneStrings(d.ParameterNames)
	return &c
}

// ScenarioDescriptor describes the scenario block a failed step belongs to.
type ScenarioDescriptor struct {
	FeatureName     string   `json:"feature_name"`
	ScenarioName    string   `json:"scenario_name"`
	Steps           []string `json:"steps"`
	Tags            []string `json:"tags,omitempty"`
	BackgroundSteps []string `json:"background_steps,omitempty"`
	// ExampleRows holds the header row followed by the data rows of an outline's
	// examples tables. It is empty for plain scenarios.
	ExampleRows  []string `json:"example_rows,omitempty"`
	ScenarioText string   `json:"scenario_text"`
	IsOutline    bool     `json:"is_outline"`
	FilePath     string   `json:"file_path"`
	LineNumber   int      `json:"line_number"`
	FileContent  string   `json:"-"`
}

func (d *ScenarioDescriptor) clone() *ScenarioDescriptor {
	if d == nil {
		return nil
	}
	c := *d
	c.Steps = cloneStrings(d.Steps)
	c.Tags = cloneStrings(d.Tags)
	c.BackgroundSteps = cloneStrings(d.BackgroundSteps)
	c.ExampleRows = cloneStrings(d.ExampleRows)
	return &c
}

// AnalysisResult is the output of the external analysis service.
type AnalysisResult struct {
	Text           string        `json:"text"`
	Service        string        `json:"service"`
	Model          string        `json:"model"`
	Timestamp      time.Time     `json:"timestamp"`
	ProcessingTime time.Duration `json:"processing_time"`
	// RunID identifies the test run the analysed failure belonged to, so the
	// sink can recognise results that arrive after a newer run has started.
	RunID string `json:"run_id"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
