package citation

import "github.com/rand/mediate/internal/model"

// SynthesisFields are the synthesis-derived parts of the aggregate that carry
// citation markers.
type SynthesisFields struct {
	Synthesis       string
	Conflicts       []model.Conflict
	Recommendations []string
	PriorityFlags   []string
	Disclaimer      string

	// Sources is normally empty: synthesis is told to cite the pre-merged
	// list. Anything it returns anyway is merged like a module's sources.
	Sources []string
}

// Result is the outcome of a consolidation pass.
type Result struct {
	Index     Index
	Outputs   []model.ModuleOutput
	Synthesis SynthesisFields

	// Claimed counts every raw source string seen, before filtering.
	Claimed int
	Dropped []string
}

// Premerge builds the working list handed to synthesis. Consolidate, started
// from the same index, assigns the same numbers to the same outputs.
func Premerge(outputs []model.ModuleOutput) Index {
	idx := NewIndex()
	for _, o := range outputs {
		idx, _, _ = idx.Merge(o.Sources)
	}
	return idx
}

// Consolidate folds the sources of every output, then of synthesis, into
// idx and rewrites their markers to global numbers. Outputs are returned as
// new values with empty Sources; the inputs are not modified.
func Consolidate(outputs []model.ModuleOutput, syn SynthesisFields, idx Index) Result {
	res := Result{Outputs: make([]model.ModuleOutput, 0, len(outputs))}

	maps := make([]LocalMap, len(outputs))
	for i, o := range outputs {
		var dropped []string
		idx, maps[i], dropped = idx.Merge(o.Sources)
		res.Claimed += len(o.Sources)
		res.Dropped = append(res.Dropped, dropped...)
	}

	synMap := LocalMap{}
	if len(syn.Sources) > 0 {
		var dropped []string
		idx, synMap, dropped = idx.Merge(syn.Sources)
		res.Claimed += len(syn.Sources)
		res.Dropped = append(res.Dropped, dropped...)
	}

	for i, o := range outputs {
		res.Outputs = append(res.Outputs, rewriteOutput(o, maps[i], idx.Len()))
	}
	res.Synthesis = rewriteSynthesis(syn, synMap, idx.Len())
	res.Index = idx
	return res
}

func rewriteOutput(o model.ModuleOutput, m LocalMap, n int) model.ModuleOutput {
	rw := func(s string) string { return RewriteMarkers(s, m, Drop, n) }

	flags := make([]string, len(o.Flags))
	for i, f := range o.Flags {
		flags[i] = rw(f)
	}
	return model.ModuleOutput{
		ModuleName: o.ModuleName,
		Round:      o.Round,
		Analysis:   o.Analysis.Map(rw),
		Flags:      flags,
		Sources:    []string{},
		Revised:    o.Revised,
	}
}

func rewriteSynthesis(syn SynthesisFields, m LocalMap, n int) SynthesisFields {
	rw := func(s string) string { return RewriteMarkers(s, m, Keep, n) }

	out := SynthesisFields{
		Synthesis:       rw(syn.Synthesis),
		Conflicts:       make([]model.Conflict, len(syn.Conflicts)),
		Recommendations: rewriteAll(syn.Recommendations, rw),
		PriorityFlags:   rewriteAll(syn.PriorityFlags, rw),
		Disclaimer:      rw(syn.Disclaimer),
		Sources:         []string{},
	}
	for i, c := range syn.Conflicts {
		c.Description = rw(c.Description)
		c.Modules = append([]string(nil), c.Modules...)
		out.Conflicts[i] = c
	}
	return out
}

func rewriteAll(in []string, rw func(string) string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = rw(s)
	}
	return out
}
