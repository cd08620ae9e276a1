// Package generator asks a chat-completion model for new or refined strategy specs.
package generator

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/template"
	"github.com/wonny/forge/internal/universe"
	"github.com/wonny/forge/pkg/httputil"
	"github.com/wonny/forge/pkg/logger"
	"github.com/wonny/forge/pkg/redis"
)

// Config configures the model endpoint.
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float64
	Timeout           time.Duration
	RequestsPerMinute int
	// HistoryInPrompt caps how many past results are shown to the model.
	HistoryInPrompt int
}

// LLMGenerator implements contracts.Generator against an OpenAI-compatible chat endpoint.
// Transient failures are retried by the HTTP client (three retries, 1s/2s/4s backoff).
// ⭐ SSOT: candidate generation prompts live here only
type LLMGenerator struct {
	client    *httputil.Client
	cfg       Config
	templates *template.Registry
	risk      contracts.RiskParams
	logger    *logger.Logger
}

var _ contracts.Generator = (*LLMGenerator)(nil)

// NewLLMGenerator creates a generator. limiter may be disabled; it is shared across processes through Redis.
func NewLLMGenerator(cfg Config, templates *template.Registry, risk contracts.RiskParams, limiter *redis.RateLimiter, log *logger.Logger) *LLMGenerator {
	if cfg.HistoryInPrompt <= 0 {
		cfg.HistoryInPrompt = 10
	}
	client := httputil.New(log, cfg.Timeout).
		WithRetry(httputil.DefaultRetryConfig()).
		WithHeader("Authorization", "Bearer "+cfg.APIKey)
	if limiter != nil {
		client = client.WithRateLimiter(limiter, redis.GeneratorRateLimit(cfg.RequestsPerMinute))
	}

	return &LLMGenerator{
		client:    client,
		cfg:       cfg,
		templates: templates,
		risk:      risk,
		logger:    log,
	}
}

// WithTransport swaps the HTTP transport (tests).
func (g *LLMGenerator) WithTransport(rt http.RoundTripper) *LLMGenerator {
	g.client.WithTransport(rt)
	return g
}

// WithRetry overrides the retry policy (tests shorten the delays).
func (g *LLMGenerator) WithRetry(cfg httputil.RetryConfig) *LLMGenerator {
	g.client.WithRetry(cfg)
	return g
}

// Explore proposes an unrelated candidate.
func (g *LLMGenerator) Explore(ctx context.Context, history []contracts.SpecResult) (*contracts.StrategySpec, error) {
	var b strings.Builder
	b.WriteString("Propose one NEW trading strategy that differs from those already tried.\n\n")
	g.writeHistory(&b, history)

	spec, err := g.generate(ctx, b.String())
	if err != nil {
		return nil, err
	}
	spec.CreatedBy = "llm:explore"
	return spec, nil
}

// Exploit proposes a refinement of parent.
func (g *LLMGenerator) Exploit(ctx context.Context, parent contracts.StrategySpec, parentResult contracts.StrategyResult, history []contracts.SpecResult) (*contracts.StrategySpec, error) {
	var b strings.Builder
	b.WriteString("Refine the parent strategy below. Keep its template unless another clearly fits better; adjust parameters.\n\n")
	fmt.Fprintf(&b, "Parent: %s\n\n", describe(parent, parentResult))
	g.writeHistory(&b, history)

	spec, err := g.generate(ctx, b.String())
	if err != nil {
		return nil, err
	}
	spec.ParentID = parent.ID
	spec.Generation = parent.Generation + 1
	spec.CreatedBy = "llm:exploit"
	return spec, nil
}

func (g *LLMGenerator) generate(ctx context.Context, task string) (*contracts.StrategySpec, error) {
	content, err := g.complete(ctx, g.systemPrompt(), task)
	if err != nil {
		return nil, err
	}

	spec, err := ParseSpec(content, g.templates, g.risk)
	if err != nil {
		g.logger.WithError(err).WithField("kind", KindLabel(err)).Warn("Generator response rejected")
		return nil, err
	}
	return spec, nil
}

// ============================================================================
// Prompt
// ============================================================================

func (g *LLMGenerator) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You design systematic long-only equity strategies. Reply with exactly one JSON object:\n")
	b.WriteString(`{"template_id": "...", "universe_id": "...", "parameters": {"name": number}, "risk": {"max_position_pct": number, "max_positions": integer, "stop_loss_pct": number, "take_profit_pct": number, "sizing_method": "equal_weight|volatility_adjusted"}}`)
	b.WriteString("\n\nTemplates:\n")
	for _, id := range g.templates.IDs() {
		tpl, _ := g.templates.Get(id)
		fmt.Fprintf(&b, "- %s (%s): %s; parameters %s\n", id, tpl.Family(), tpl.Description(), formatParams(tpl.Defaults()))
	}
	fmt.Fprintf(&b, "\nUniverses: %s\n", strings.Join(universe.IDs(), ", "))
	fmt.Fprintf(&b, "Risk fields may not exceed max_position_pct %.2f or max_positions %d.\n", g.risk.MaxPositionPct, g.risk.MaxPositions)
	return b.String()
}

func (g *LLMGenerator) writeHistory(b *strings.Builder, history []contracts.SpecResult) {
	if len(history) == 0 {
		b.WriteString("No strategies have been evaluated yet.\n")
		return
	}
	b.WriteString("Already evaluated (best first):\n")
	for i, h := range history {
		if i >= g.cfg.HistoryInPrompt {
			break
		}
		fmt.Fprintf(b, "- %s\n", describe(h.Spec, h.Result))
	}
}

func describe(spec contracts.StrategySpec, result contracts.StrategyResult) string {
	return fmt.Sprintf("%s on %s %s: sharpe %.2f, annual return %.1f%%, max drawdown %.1f%%, %d trades",
		spec.TemplateID, spec.UniverseID, formatParams(spec.Parameters),
		result.Sharpe, result.AnnualReturn*100, result.MaxDrawdown*100, result.TotalTrades)
}

func formatParams(params map[string]float64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, params[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// ============================================================================
// Chat completion
// ============================================================================

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (g *LLMGenerator) complete(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: g.cfg.Temperature,
	}

	var resp chatResponse
	url := strings.TrimRight(g.cfg.BaseURL, "/") + "/chat/completions"
	if err := g.client.DoJSON(ctx, http.MethodPost, url, req, &resp); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", &ParseError{Kind: ErrNoJSON, Detail: "empty choices"}
	}
	return resp.Choices[0].Message.Content, nil
}
