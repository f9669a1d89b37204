// Package research runs the optional deep-research pass: one targeted
// resolution request per escalated conflict or uncovered red flag.
package research

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rand/mediate/internal/citation"
	"github.com/rand/mediate/internal/llm"
	"github.com/rand/mediate/internal/model"
	"github.com/rand/mediate/internal/prompts"
	"github.com/rand/mediate/internal/search"
)

// DefaultConcurrency bounds the number of resolution requests in flight.
const DefaultConcurrency = 4

// Item is one conflict or red flag to resolve.
type Item struct {
	Topic       string
	Description string
	Modules     []string
	Severity    model.Severity
}

// Items selects what deep research looks at: conflicts of high or critical
// severity, then red priority flags whose text does not overlap a conflict
// topic. Red-flag items involve no modules and are treated as critical.
func Items(conflicts []model.Conflict, priorityFlags []string) []Item {
	var items []Item
	for _, c := range conflicts {
		if !c.Severity.Escalated() {
			continue
		}
		items = append(items, Item{
			Topic:       c.Topic,
			Description: c.Description,
			Modules:     append([]string(nil), c.Modules...),
			Severity:    c.Severity,
		})
	}

	for _, f := range priorityFlags {
		if !model.IsRedFlag(f) {
			continue
		}
		topic := strings.TrimSpace(strings.TrimSpace(f)[len(model.FlagRed):])
		if topic == "" || covered(topic, conflicts) {
			continue
		}
		items = append(items, Item{
			Topic:       topic,
			Description: f,
			Severity:    model.SeverityCritical,
		})
	}
	return items
}

func covered(flag string, conflicts []model.Conflict) bool {
	flag = strings.ToLower(flag)
	for _, c := range conflicts {
		topic := strings.ToLower(strings.TrimSpace(c.Topic))
		if topic == "" {
			continue
		}
		if strings.Contains(flag, topic) || strings.Contains(topic, flag) {
			return true
		}
	}
	return false
}

// Outcome is the result of a deep-research pass.
type Outcome struct {
	Resolutions []model.ConflictResolution
	Index       citation.Index
	Claimed     int
	Dropped     []string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSearcher supplies fresh evidence for each item.
func WithSearcher(s search.Provider) Option {
	return func(r *Resolver) {
		r.searcher = s
	}
}

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Resolver issues resolution requests.
type Resolver struct {
	svc         llm.Service
	searcher    search.Provider
	concurrency int
	logger      *slog.Logger
}

// New creates a Resolver.
func New(svc llm.Service, opts ...Option) *Resolver {
	r := &Resolver{
		svc:         svc,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve researches every item of fa and folds the resolution sources into
// idx. Failed items are logged and dropped; the rest keep item order.
func (r *Resolver) Resolve(ctx context.Context, fa model.FinalAnalysis, idx citation.Index) Outcome {
	items := Items(fa.Conflicts, fa.PriorityFlags)
	outcome := Outcome{Resolutions: []model.ConflictResolution{}, Index: idx}
	if len(items) == 0 {
		return outcome
	}

	start := time.Now()
	r.logger.Info("deep research starting", "items", len(items))

	results := make([]*model.ConflictResolution, len(items))
	var g errgroup.Group
	g.SetLimit(min(len(items), r.concurrency))

	for i, item := range items {
		g.Go(func() error {
			res, err := r.resolve(ctx, fa, item)
			if err != nil {
				r.logger.Error("resolution failed", "topic", item.Topic, "error", err)
				return nil
			}
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res == nil {
			continue
		}
		var (
			local   citation.LocalMap
			dropped []string
		)
		outcome.Claimed += len(res.Sources)
		outcome.Index, local, dropped = outcome.Index.Merge(res.Sources)
		outcome.Dropped = append(outcome.Dropped, dropped...)

		n := outcome.Index.Len()
		res.Verdict = citation.RewriteMarkers(res.Verdict, local, citation.Drop, n)
		res.UpdatedRecommendation = citation.RewriteMarkers(res.UpdatedRecommendation, local, citation.Drop, n)
		res.Sources = []string{}
		outcome.Resolutions = append(outcome.Resolutions, *res)
	}

	r.logger.Info("deep research complete",
		"items", len(items),
		"resolved", len(outcome.Resolutions),
		"sources", outcome.Index.Len(),
		"duration", time.Since(start))
	return outcome
}

func (r *Resolver) resolve(ctx context.Context, fa model.FinalAnalysis, item Item) (model.ConflictResolution, error) {
	var sc *search.Context
	if r.searcher != nil {
		sc = r.searcher.FetchForConflict(ctx, fa.Problem, item.Topic, item.Description)
	}

	positions := make([]prompts.Position, 0, len(item.Modules))
	for _, m := range item.Modules {
		if o, ok := fa.LatestOutput(m); ok {
			positions = append(positions, prompts.Position{Module: m, Summary: o.Analysis.Summary()})
		}
	}

	system, user := prompts.Resolution(fa.Problem, item.Topic, item.Description, item.Modules, positions, sc)
	doc, err := r.svc.Analyze(ctx, system, user)
	if err != nil {
		return model.ConflictResolution{}, err
	}

	modules := item.Modules
	if modules == nil {
		modules = []string{}
	}
	return model.ConflictResolution{
		Topic:                 item.Topic,
		Modules:               modules,
		Severity:              item.Severity,
		Verdict:               doc.String("verdict"),
		UpdatedRecommendation: doc.String("updated_recommendation"),
		Sources:               doc.Strings("sources"),
	}, nil
}
