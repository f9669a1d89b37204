// Package model defines the values that flow through a mediated analysis run.
package model

import (
	"strings"
	"time"
)

// ModuleOutput is one module's analysis for one round.
type ModuleOutput struct {
	ModuleName string   `json:"module_name" yaml:"module_name"`
	Round      int      `json:"round" yaml:"round"`
	Analysis   Analysis `json:"analysis" yaml:"analysis"`
	Flags      []string `json:"flags" yaml:"flags"`
	Sources    []string `json:"sources" yaml:"sources"`
	Revised    bool     `json:"revised" yaml:"revised"`
}

// NewModuleOutput builds an output; round-2 outputs are marked revised.
func NewModuleOutput(name string, round int, analysis Analysis, flags, sources []string) ModuleOutput {
	if flags == nil {
		flags = []string{}
	}
	if sources == nil {
		sources = []string{}
	}
	return ModuleOutput{
		ModuleName: name,
		Round:      round,
		Analysis:   analysis,
		Flags:      flags,
		Sources:    sources,
		Revised:    round == 2,
	}
}

// KeyFindings returns the "key_findings" field as a list.
func (o ModuleOutput) KeyFindings() []string {
	v, ok := o.Analysis.Get("key_findings")
	if !ok {
		return nil
	}
	return v.Strings()
}

// Severity ranks a conflict.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity normalises free-form severities; unknown values become medium.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Escalated reports whether the severity warrants deep research.
func (s Severity) Escalated() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// Conflict is a disagreement between modules surfaced by synthesis.
type Conflict struct {
	Modules     []string `json:"modules" yaml:"modules"`
	Topic       string   `json:"topic" yaml:"topic"`
	Description string   `json:"description" yaml:"description"`
	Severity    Severity `json:"severity" yaml:"severity"`
}

// ConflictResolution is the deep-research verdict for one conflict or red flag.
type ConflictResolution struct {
	Topic                 string   `json:"topic" yaml:"topic"`
	Modules               []string `json:"modules" yaml:"modules"`
	Severity              Severity `json:"severity" yaml:"severity"`
	Verdict               string   `json:"verdict" yaml:"verdict"`
	UpdatedRecommendation string   `json:"updated_recommendation" yaml:"updated_recommendation"`
	Sources               []string `json:"sources" yaml:"sources"`
}

// AdHocModule is a module defined at run time by the gap check.
type AdHocModule struct {
	Name         string `json:"name" yaml:"name"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
}

// SelectionMetadata records how the roster was chosen when adaptive selection ran.
type SelectionMetadata struct {
	AutoSelected       bool          `json:"auto_selected" yaml:"auto_selected"`
	SelectedModules    []string      `json:"selected_modules" yaml:"selected_modules"`
	SelectionReasoning string        `json:"selection_reasoning" yaml:"selection_reasoning"`
	GapCheckReasoning  string        `json:"gap_check_reasoning" yaml:"gap_check_reasoning"`
	AdHocModules       []AdHocModule `json:"ad_hoc_modules" yaml:"ad_hoc_modules"`
}

// RACIRole assigns modules to a decision topic.
type RACIRole struct {
	Responsible string   `json:"R" yaml:"R"`
	Accountable string   `json:"A" yaml:"A"`
	Consulted   []string `json:"C" yaml:"C"`
	Informed    []string `json:"I" yaml:"I"`
}

// RACIMatrix maps a topic to its responsibility assignment.
type RACIMatrix map[string]RACIRole

// DefaultRACIMatrix covers the default roster.
func DefaultRACIMatrix() RACIMatrix {
	return RACIMatrix{
		"Market opportunity & demand": {Responsible: "market", Accountable: "market", Consulted: []string{"cost"}, Informed: []string{"risk"}},
		"Financial viability":         {Responsible: "cost", Accountable: "cost", Consulted: []string{"market"}, Informed: []string{"risk"}},
		"Risk assessment":             {Responsible: "risk", Accountable: "risk", Consulted: []string{"cost", "market"}, Informed: []string{}},
	}
}

// TokenUsage is token accounting per call bucket.
type TokenUsage struct {
	AnalyzeInput       int64 `json:"analyze_input" yaml:"analyze_input"`
	AnalyzeOutput      int64 `json:"analyze_output" yaml:"analyze_output"`
	ChatInput          int64 `json:"chat_input" yaml:"chat_input"`
	ChatOutput         int64 `json:"chat_output" yaml:"chat_output"`
	OrchestratorInput  int64 `json:"orchestrator_input" yaml:"orchestrator_input"`
	OrchestratorOutput int64 `json:"orchestrator_output" yaml:"orchestrator_output"`
}

// TotalInput sums input tokens over all buckets.
func (u TokenUsage) TotalInput() int64 {
	return u.AnalyzeInput + u.ChatInput + u.OrchestratorInput
}

// TotalOutput sums output tokens over all buckets.
func (u TokenUsage) TotalOutput() int64 {
	return u.AnalyzeOutput + u.ChatOutput + u.OrchestratorOutput
}

// StageTiming is the wall time spent in one pipeline stage.
type StageTiming struct {
	Stage    string        `json:"stage" yaml:"stage"`
	Duration time.Duration `json:"duration_ns" yaml:"duration"`
	Failed   bool          `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// FinalAnalysis is the aggregate of a run. It is built once and then only read.
type FinalAnalysis struct {
	RunID                 string               `json:"run_id" yaml:"run_id"`
	Problem               string               `json:"problem" yaml:"problem"`
	ModuleOutputs         []ModuleOutput       `json:"module_outputs" yaml:"module_outputs"`
	Conflicts             []Conflict           `json:"conflicts" yaml:"conflicts"`
	Synthesis             string               `json:"synthesis" yaml:"synthesis"`
	Recommendations       []string             `json:"recommendations" yaml:"recommendations"`
	PriorityFlags         []string             `json:"priority_flags" yaml:"priority_flags"`
	Sources               []string             `json:"sources" yaml:"sources"`
	DeactivatedDisclaimer string               `json:"deactivated_disclaimer" yaml:"deactivated_disclaimer"`
	ConflictResolutions   []ConflictResolution `json:"conflict_resolutions" yaml:"conflict_resolutions"`
	RACIMatrix            RACIMatrix           `json:"raci_matrix" yaml:"raci_matrix"`
	SelectionMetadata     *SelectionMetadata   `json:"selection_metadata,omitempty" yaml:"selection_metadata,omitempty"`

	ActiveModules      []string      `json:"active_modules" yaml:"active_modules"`
	DeactivatedModules []string      `json:"deactivated_modules" yaml:"deactivated_modules"`
	ClaimedSourceCount int           `json:"claimed_source_count" yaml:"claimed_source_count"`
	DroppedSourceCount int           `json:"dropped_source_count" yaml:"dropped_source_count"`
	Usage              TokenUsage    `json:"token_usage" yaml:"token_usage"`
	Timings            []StageTiming `json:"timings" yaml:"timings"`
	StartedAt          time.Time     `json:"started_at" yaml:"started_at"`
	Duration           time.Duration `json:"duration_ns" yaml:"duration"`
}

// NewFinalAnalysis returns an aggregate with every collection non-nil.
func NewFinalAnalysis(problem string) FinalAnalysis {
	return FinalAnalysis{
		Problem:             problem,
		ModuleOutputs:       []ModuleOutput{},
		Conflicts:           []Conflict{},
		Recommendations:     []string{},
		PriorityFlags:       []string{},
		Sources:             []string{},
		ConflictResolutions: []ConflictResolution{},
		RACIMatrix:          RACIMatrix{},
		ActiveModules:       []string{},
		DeactivatedModules:  []string{},
		Timings:             []StageTiming{},
	}
}

// RoundOutputs returns the outputs of one round, in stored order.
func (f FinalAnalysis) RoundOutputs(round int) []ModuleOutput {
	var out []ModuleOutput
	for _, o := range f.ModuleOutputs {
		if o.Round == round {
			out = append(out, o)
		}
	}
	return out
}

// LatestOutput returns a module's round-2 output if present, else its round-1 output.
func (f FinalAnalysis) LatestOutput(module string) (ModuleOutput, bool) {
	var found ModuleOutput
	ok := false
	for _, o := range f.ModuleOutputs {
		if o.ModuleName != module {
			continue
		}
		if !ok || o.Round > found.Round {
			found = o
			ok = true
		}
	}
	return found, ok
}

// Flag colours used as prefixes on flag strings.
const (
	FlagRed    = "red:"
	FlagYellow = "yellow:"
	FlagGreen  = "green:"
)

// IsRedFlag reports whether a flag carries the "red:" label.
func IsRedFlag(flag string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(flag)), FlagRed)
}
