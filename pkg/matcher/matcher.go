// Package matcher scores registered providers against a task inferred from the turn text.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/provider"

	"github.com/uber-go/tally/v4"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrNoProviderAvailable = errors.New("no AI providers available")
)

// Selection modes
const (
	ModeAuto   = "auto"
	ModeManual = "manual"
)

const (
	neutralScore  = 0.5
	bonusPerExtra = 0.05
	maxBonus      = 0.15
	probeLimit    = 8
	maxAlternates = 3
)

// Ranking is one provider's standing for a task.
type Ranking struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Score               float64  `json:"score"`
	Available           bool     `json:"available"`
	Capabilities        []string `json:"capabilities"`
	MatchedCapabilities []string `json:"matchedCapabilities"`
	Reason              string   `json:"reason"`
}

// Selection explains why a provider was chosen.
type Selection struct {
	Mode         string    `json:"mode"`
	ProviderID   string    `json:"providerId"`
	Score        float64   `json:"score"`
	Reason       string    `json:"reason"`
	Alternatives []Ranking `json:"alternatives,omitempty"`
}

type Matcher struct {
	registry *provider.Registry
	rules    []Rule
	fallback []string
	scope    tally.Scope
	logger   logger.ILogger
}

type Option func(*Matcher)

func WithRules(rules []Rule) Option {
	return func(m *Matcher) { m.rules = rules }
}

func WithScope(scope tally.Scope) Option {
	return func(m *Matcher) { m.scope = scope }
}

func WithLogger(log logger.ILogger) Option {
	return func(m *Matcher) { m.logger = log }
}

func New(registry *provider.Registry, opts ...Option) *Matcher {
	m := &Matcher{
		registry: registry,
		rules:    DefaultRules,
		fallback: FallbackCapabilities,
		scope:    tally.NoopScope,
		logger:   logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.scope = m.scope.SubScope("matcher")
	return m
}

// AnalyzeTask returns the union of capabilities of every rule whose keyword occurs in text,
// in first-seen order. With no hits it returns the fallback set.
func (m *Matcher) AnalyzeTask(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var caps []string

	for _, r := range m.rules {
		if !strings.Contains(lower, r.Keyword) {
			continue
		}
		for _, c := range r.Capabilities {
			if !seen[c] {
				seen[c] = true
				caps = append(caps, c)
			}
		}
	}

	if len(caps) == 0 {
		caps = append(caps, m.fallback...)
	}
	return caps
}

// ScoreProvider rates p for the required capabilities in [0, 1]. The generalist bonus
// only applies once at least one required capability matches, so a provider sharing
// nothing with the task scores 0.
func ScoreProvider(p provider.Provider, required []string) float64 {
	if !p.Enabled() {
		return 0
	}

	caps := p.Capabilities()
	matched := len(matchedCapabilities(caps, required))

	if len(required) == 0 {
		return math.Min(neutralScore+bonus(len(caps)), 1.0)
	}
	if matched == 0 {
		return 0
	}

	base := float64(matched) / float64(len(required))
	return math.Min(base+bonus(len(caps)-matched), 1.0)
}

func bonus(extra int) float64 {
	if extra <= 0 {
		return 0
	}
	return math.Min(float64(extra)*bonusPerExtra, maxBonus)
}

func matchedCapabilities(caps, required []string) []string {
	have := make(map[string]bool, len(caps))
	for _, c := range caps {
		have[c] = true
	}
	matched := []string{}
	for _, r := range required {
		if have[r] {
			matched = append(matched, r)
		}
	}
	return matched
}

// Rank probes every provider concurrently and returns them best first. Equal scores
// keep registration order.
func (m *Matcher) Rank(ctx context.Context, text string) []Ranking {
	start := time.Now()
	defer func() { m.scope.Timer("rank_latency").Record(time.Since(start)) }()

	required := m.AnalyzeTask(text)
	providers := m.registry.All()
	available := make([]bool, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeLimit)
	for i, p := range providers {
		if !p.Enabled() {
			continue
		}
		i, p := i, p // per-iteration copies; go.mod targets go1.21 loop semantics
		g.Go(func() error {
			available[i] = m.registry.IsAvailable(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	rankings := make([]Ranking, len(providers))
	for i, p := range providers {
		score := 0.0
		if available[i] {
			score = ScoreProvider(p, required)
		}
		rankings[i] = Ranking{
			ID:                  p.ID(),
			Name:                p.Name(),
			Score:               round2(score),
			Available:           available[i],
			Capabilities:        p.Capabilities(),
			MatchedCapabilities: matchedCapabilities(p.Capabilities(), required),
			Reason:              explain(p, required, score, available[i]),
		}
	}

	sort.SliceStable(rankings, func(a, b int) bool {
		return rankings[a].Score > rankings[b].Score
	})

	if len(rankings) > 0 {
		m.logger.Debug("Matcher", "Ranked providers", map[string]interface{}{
			"required": required,
			"top":      rankings[0].ID,
			"score":    rankings[0].Score,
		})
	}
	return rankings
}

func explain(p provider.Provider, required []string, score float64, available bool) string {
	if !p.Enabled() {
		return p.Name() + " is disabled"
	}
	if !available {
		return p.Name() + " CLI not available"
	}

	matched := matchedCapabilities(p.Capabilities(), required)
	if len(matched) == 0 {
		return "No matching capabilities for this task"
	}

	list := strings.Join(matched, ", ")
	switch {
	case score >= 0.9:
		return "Excellent match: " + list
	case score >= 0.7:
		return "Good match: " + list
	case score >= 0.5:
		return "Partial match: " + list
	default:
		return "Limited match: " + list
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SelectBest picks the highest-scoring available provider with a positive score.
func (m *Matcher) SelectBest(ctx context.Context, text string) (provider.Provider, Selection, error) {
	rankings := m.Rank(ctx, text)

	for i, r := range rankings {
		if !r.Available || r.Score <= 0 {
			continue
		}
		p, ok := m.registry.Get(r.ID)
		if !ok {
			continue
		}

		alternatives := make([]Ranking, 0, maxAlternates)
		for j, alt := range rankings {
			if j == i {
				continue
			}
			if len(alternatives) == maxAlternates {
				break
			}
			alternatives = append(alternatives, alt)
		}

		m.scope.Tagged(map[string]string{"mode": ModeAuto}).Counter("selections").Inc(1)
		return p, Selection{
			Mode:         ModeAuto,
			ProviderID:   r.ID,
			Score:        r.Score,
			Reason:       r.Reason,
			Alternatives: alternatives,
		}, nil
	}

	m.scope.Counter("no_provider").Inc(1)
	return nil, Selection{}, ErrNoProviderAvailable
}

// SelectManual resolves an explicitly named provider.
func (m *Matcher) SelectManual(ctx context.Context, id string) (provider.Provider, Selection, error) {
	p, ok := m.registry.Get(id)
	if !ok {
		return nil, Selection{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	if !p.Enabled() || !m.registry.IsAvailable(ctx, p) {
		return nil, Selection{}, fmt.Errorf("%w: %s CLI is not available", ErrProviderUnavailable, p.Name())
	}

	m.scope.Tagged(map[string]string{"mode": ModeManual}).Counter("selections").Inc(1)
	return p, Selection{
		Mode:       ModeManual,
		ProviderID: id,
		Score:      1.0,
		Reason:     "Manually selected",
	}, nil
}

// Suggestions is Rank for display purposes.
func (m *Matcher) Suggestions(ctx context.Context, text string) []Ranking {
	return m.Rank(ctx, text)
}
