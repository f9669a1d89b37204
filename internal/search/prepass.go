package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rand/mediate/internal/llm"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const (
	defaultCacheSize       = 256
	defaultResultsPerQuery = 3
	defaultMaxQueries      = 4
	defaultRateLimit       = 2.0 // queries per second
)

// PrePassConfig configures a PrePass.
type PrePassConfig struct {
	// CacheSize bounds the per-query result cache (default: 256).
	CacheSize int

	// ResultsPerQuery is passed to the backend (default: 3).
	ResultsPerQuery int

	// MaxQueries caps generated queries per fetch (default: 4).
	MaxQueries int

	// RateLimit paces backend queries per second (default: 2).
	RateLimit float64

	// Retries for a failing backend query (default: 1).
	Retries uint64

	// BreakerThreshold is the number of consecutive backend failures after
	// which queries fail fast for BreakerCooldown (default: 3 and 30s).
	BreakerThreshold int
	BreakerCooldown  time.Duration

	Logger *slog.Logger
}

// PrePassOption configures a PrePass.
type PrePassOption func(*PrePassConfig)

// WithCacheSize sets the query cache size.
func WithCacheSize(n int) PrePassOption {
	return func(c *PrePassConfig) {
		c.CacheSize = n
	}
}

// WithResultsPerQuery sets how many hits each backend query asks for.
func WithResultsPerQuery(n int) PrePassOption {
	return func(c *PrePassConfig) {
		c.ResultsPerQuery = n
	}
}

// WithRateLimit sets the backend pacing in queries per second.
func WithRateLimit(rps float64) PrePassOption {
	return func(c *PrePassConfig) {
		c.RateLimit = rps
	}
}

// WithRetries sets how often a failing backend query is retried.
func WithRetries(n uint64) PrePassOption {
	return func(c *PrePassConfig) {
		c.Retries = n
	}
}

// WithBreaker sets when the backend circuit breaker opens and for how long.
func WithBreaker(threshold int, cooldown time.Duration) PrePassOption {
	return func(c *PrePassConfig) {
		c.BreakerThreshold = threshold
		c.BreakerCooldown = cooldown
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PrePassOption {
	return func(c *PrePassConfig) {
		c.Logger = l
	}
}

// PrePass implements Provider with LLM-generated queries over a Backend.
// It is safe for concurrent use.
type PrePass struct {
	svc     llm.Service
	backend Backend
	cache   *lru.Cache[string, []Result]
	limiter *rate.Limiter
	config  PrePassConfig
	logger  *slog.Logger
}

// NewPrePass creates a PrePass.
func NewPrePass(svc llm.Service, backend Backend, opts ...PrePassOption) (*PrePass, error) {
	if svc == nil {
		return nil, fmt.Errorf("search: reasoning service is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("search: backend is required")
	}

	cfg := PrePassConfig{
		CacheSize:       defaultCacheSize,
		ResultsPerQuery: defaultResultsPerQuery,
		MaxQueries:      defaultMaxQueries,
		RateLimit:       defaultRateLimit,
		Retries:         1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cache, err := lru.New[string, []Result](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	breaker := NewBreaker(BreakerConfig{
		Threshold: cfg.BreakerThreshold,
		Cooldown:  cfg.BreakerCooldown,
		Logger:    cfg.Logger,
	})

	return &PrePass{
		svc:     svc,
		backend: Guard(backend, breaker),
		cache:   cache,
		limiter: rate.NewLimiter(limit, 1),
		config:  cfg,
		logger:  cfg.Logger,
	}, nil
}

// FetchForModule implements Provider.
func (p *PrePass) FetchForModule(ctx context.Context, problem, module, systemPrompt string, round int, prior []string) *Context {
	system, user := moduleQueryPrompt(problem, module, systemPrompt, round, prior)
	queries := p.generateQueries(ctx, system, user)
	if len(queries) == 0 {
		p.logger.Warn("no search queries generated", "module", module, "round", round)
		return nil
	}

	sc := p.fetch(ctx, queries, ModuleResultCap)
	if sc != nil {
		p.logger.Info("module search complete",
			"module", module,
			"round", round,
			"results", len(sc.Results),
			"queries", len(queries))
	}
	return sc
}

// FetchForConflict implements Provider.
func (p *PrePass) FetchForConflict(ctx context.Context, problem, topic, description string) *Context {
	system, user := conflictQueryPrompt(problem, topic, description)
	queries := p.generateQueries(ctx, system, user)
	if len(queries) == 0 {
		p.logger.Warn("no search queries generated for conflict", "topic", topic)
		return nil
	}

	sc := p.fetch(ctx, queries, ConflictResultCap)
	if sc != nil {
		p.logger.Info("conflict search complete",
			"topic", topic,
			"results", len(sc.Results),
			"queries", len(queries))
	}
	return sc
}

func (p *PrePass) generateQueries(ctx context.Context, system, user string) []string {
	doc, err := p.svc.Analyze(ctx, system, user)
	if err != nil {
		p.logger.Warn("query generation failed", "error", err)
		return nil
	}

	var queries []string
	for _, q := range doc.Strings("queries") {
		q = strings.TrimSpace(q)
		if q == "" || strings.HasPrefix(q, "{") {
			continue
		}
		queries = append(queries, q)
		if len(queries) == p.config.MaxQueries {
			break
		}
	}
	return queries
}

// fetch runs the queries, deduplicates hits by URL and keeps at most limit.
func (p *PrePass) fetch(ctx context.Context, queries []string, limit int) *Context {
	seen := make(map[string]bool)
	var results []Result

	for _, q := range queries {
		hits, ok := p.cache.Get(q)
		if ok {
			p.logger.Debug("search cache hit", "query", q, "results", len(hits))
		} else {
			var err error
			hits, err = p.query(ctx, q)
			if err != nil {
				p.logger.Warn("search query failed", "query", q, "backend", p.backend.Name(), "error", err)
				hits = nil
			}
			if ctx.Err() == nil && !errors.Is(err, ErrBackendUnavailable) {
				p.cache.Add(q, hits)
			}
		}

		for _, r := range hits {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			results = append(results, r)
		}
	}

	if len(results) == 0 {
		return nil
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return &Context{Queries: queries, Results: results}
}

func (p *PrePass) query(ctx context.Context, q string) ([]Result, error) {
	backoff := retry.WithMaxRetries(p.config.Retries, retry.NewExponential(250*time.Millisecond))

	var hits []Result
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		r, err := p.backend.Search(ctx, q, p.config.ResultsPerQuery)
		if errors.Is(err, ErrBackendUnavailable) {
			return err
		}
		if err != nil {
			return retry.RetryableError(err)
		}
		hits = r
		return nil
	})
	return hits, err
}
