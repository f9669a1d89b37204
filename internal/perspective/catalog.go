package perspective

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/rand/mediate/internal/prompts"
)

// Definition describes a module in the built-in pool.
type Definition struct {
	Name         string
	Description  string
	SystemPrompt string
}

// DefaultRoster is used when adaptive selection is off.
var DefaultRoster = []string{"market", "cost", "risk"}

const jsonOnly = " " + prompts.JSONOnly

var pool = map[string]Definition{
	"market": {
		Name:        "market",
		Description: "Market size, competitive landscape, customer demand, product-market fit",
		SystemPrompt: "You are a market analysis expert. Evaluate the given problem/idea from a " +
			"market perspective: market size, competitive landscape, customer demand, " +
			"product-market fit, and go-to-market strategy." + jsonOnly,
	},
	"tech": {
		Name:        "tech",
		Description: "Technology stack, implementation complexity, technical risks, dependencies",
		SystemPrompt: "You are a technical feasibility expert. Evaluate the given problem/idea from a " +
			"technical perspective: technology stack, implementation complexity, development " +
			"timeline, technical risks, and dependencies." + jsonOnly,
	},
	"cost": {
		Name:        "cost",
		Description: "Financial analysis, investment, operating costs, revenue projections, break-even",
		SystemPrompt: "You are a financial analysis expert. Evaluate the given problem/idea from a " +
			"financial perspective: initial investment, operating costs, revenue projections, " +
			"break-even analysis, and funding requirements." + jsonOnly,
	},
	"legal": {
		Name:        "legal",
		Description: "Regulatory requirements, legal risks, compliance, liability, IP",
		SystemPrompt: "You are a legal and compliance expert. Evaluate the given problem/idea from a " +
			"legal perspective: regulatory requirements, legal risks, compliance needs, " +
			"liability concerns, and intellectual property considerations." + jsonOnly,
	},
	"scalability": {
		Name:        "scalability",
		Description: "Growth potential, infrastructure scaling, team scaling, bottlenecks",
		SystemPrompt: "You are a scalability and growth expert. Evaluate the given problem/idea from a " +
			"scaling perspective: growth potential, infrastructure scaling, team scaling, " +
			"operational complexity at scale, and bottlenecks." + jsonOnly,
	},
	"political": {
		Name:        "political",
		Description: "Government policy, political stability, institutional readiness, geopolitics",
		SystemPrompt: "You are a political and regulatory environment expert. Evaluate the given problem/idea from a " +
			"political perspective: government policy, political stability, institutional readiness, " +
			"geopolitical factors, and public-sector dynamics." + jsonOnly,
	},
	"social": {
		Name:        "social",
		Description: "Societal impact, demographics, public acceptance, equity, community impact",
		SystemPrompt: "You are a social impact and demographics expert. Evaluate the given problem/idea from a " +
			"societal perspective: societal impact, demographic trends, public acceptance, " +
			"equity and inclusion, and community impact." + jsonOnly,
	},
	"environmental": {
		Name:        "environmental",
		Description: "Ecological footprint, climate risk, resource consumption, sustainability",
		SystemPrompt: "You are an environmental and sustainability expert. Evaluate the given problem/idea from an " +
			"ecological perspective: ecological footprint, climate risk, resource consumption, " +
			"sustainability practices, and environmental regulations." + jsonOnly,
	},
	"ethics": {
		Name:        "ethics",
		Description: "Fairness, bias, privacy, rights, dual-use, transparency, accountability",
		SystemPrompt: "You are an ethics and responsible innovation expert. Evaluate the given problem/idea from an " +
			"ethical perspective: fairness, bias, privacy, rights, dual-use concerns, " +
			"transparency, and accountability." + jsonOnly,
	},
	"operational": {
		Name:        "operational",
		Description: "Internal processes, team/HR, supply chain, org structure, change management",
		SystemPrompt: "You are an operations and organizational expert. Evaluate the given problem/idea from an " +
			"operational perspective: internal processes, team and HR considerations, supply chain, " +
			"organizational structure, and change management." + jsonOnly,
	},
	"strategy": {
		Name:        "strategy",
		Description: "Business model, value proposition, competitive moats, positioning, partnerships",
		SystemPrompt: "You are a business strategy expert. Evaluate the given problem/idea from a " +
			"strategic perspective: business model, value proposition, competitive moats, " +
			"market positioning, and partnership opportunities." + jsonOnly,
	},
	"risk": {
		Name:        "risk",
		Description: "Uncertainty, downside scenarios, threat categorization, hedging, contingency",
		SystemPrompt: "You are a risk analysis expert. Evaluate the given problem/idea from a " +
			"risk perspective: uncertainty assessment, downside scenarios, threat categorization, " +
			"hedging strategies, and contingency planning." + jsonOnly,
	},
}

// Lookup returns the pool definition for name.
func Lookup(name string) (Definition, bool) {
	d, ok := pool[name]
	return d, ok
}

// IsKnown reports whether name is in the built-in pool.
func IsKnown(name string) bool {
	_, ok := pool[name]
	return ok
}

// Catalog returns every pool definition sorted by name.
func Catalog() []Definition {
	out := make([]Definition, 0, len(pool))
	for _, d := range pool {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the pool module names sorted.
func Names() []string {
	defs := Catalog()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// Suggest returns the pool name closest to an unknown name, or "" when
// nothing matches. Matching is fuzzy subsequence matching, so "env" finds
// "environmental".
func Suggest(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	matches := fuzzy.Find(name, Names())
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}

// IsDefault reports whether name is on the default roster.
func IsDefault(name string) bool {
	for _, n := range DefaultRoster {
		if n == name {
			return true
		}
	}
	return false
}

// PoolEntries returns the pool in the form the selection prompts expect.
func PoolEntries() []prompts.PoolEntry {
	defs := Catalog()
	out := make([]prompts.PoolEntry, len(defs))
	for i, d := range defs {
		out[i] = prompts.PoolEntry{Name: d.Name, Description: d.Description}
	}
	return out
}
