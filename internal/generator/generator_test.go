package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/template"
	"github.com/wonny/forge/pkg/httputil"
	"github.com/wonny/forge/pkg/logger"
)

func TestParseSpec(t *testing.T) {
	templates := template.NewRegistry()
	defaults := contracts.DefaultRiskParams()

	tests := []struct {
		name string
		text string
		kind error
	}{
		{"no json", "I cannot help with that.", ErrNoJSON},
		{"invalid json", `Here: {"template_id": "momentum", "parameters": {lookback: 20}}`, ErrInvalidJSON},
		{"unbalanced", `{"template_id": "momentum"`, ErrInvalidJSON},
		{"unknown template", `{"template_id": "astrology", "universe_id": "dow30"}`, ErrUnknownTemplate},
		{"unknown universe", `{"template_id": "momentum", "universe_id": "meme_coins"}`, ErrUnknownUniverse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseSpec(tt.text, templates, defaults)
			assert.Nil(t, spec)
			assert.ErrorIs(t, err, tt.kind)

			var parseErr *ParseError
			assert.True(t, errors.As(err, &parseErr))
		})
	}
}

func TestParseSpec_Valid(t *testing.T) {
	text := "Sure! Here is the strategy:\n```json\n" +
		`{"template_id": "momentum", "universe_id": "sector_etfs", "note": "uses {braces}",` +
		` "parameters": {"lookback": 90, "leverage": 3},` +
		` "risk": {"max_position_pct": 0.5, "max_positions": 5, "stop_loss_pct": 0.05, "sizing_method": "volatility_adjusted"}}` +
		"\n```\nGood luck {trailing}"

	spec, err := ParseSpec(text, template.NewRegistry(), contracts.DefaultRiskParams())
	require.NoError(t, err)

	assert.NotEmpty(t, spec.ID)
	assert.Equal(t, "momentum", spec.TemplateID)
	assert.Equal(t, "sector_etfs", spec.UniverseID)
	assert.Equal(t, map[string]float64{"lookback": 90, "threshold": 0}, spec.Parameters)
	assert.Equal(t, 0.10, spec.Risk.MaxPositionPct, "never loosened")
	assert.Equal(t, 5, spec.Risk.MaxPositions)
	assert.Equal(t, 0.05, spec.Risk.StopLossPct)
	assert.Equal(t, contracts.SizingVolatilityAdj, spec.Risk.SizingMethod)
}

func TestKindLabel(t *testing.T) {
	assert.Equal(t, "no_json", KindLabel(&ParseError{Kind: ErrNoJSON}))
	assert.Equal(t, "unknown_universe", KindLabel(&ParseError{Kind: ErrUnknownUniverse}))
	assert.Equal(t, "other", KindLabel(errors.New("x")))
}

func chatServer(t *testing.T, calls *int32, failFirst int32, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)

		if n <= failFirst {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"role": "assistant", "content": content}}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGenerator(url string) *LLMGenerator {
	g := NewLLMGenerator(Config{BaseURL: url + "/v1", APIKey: "test-key", Model: "m", Timeout: 5 * time.Second},
		template.NewRegistry(), contracts.DefaultRiskParams(), nil, logger.NewNop())
	return g.WithRetry(httputil.RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Enabled: true})
}

func TestExplore_RetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := chatServer(t, &calls, 2, `{"template_id": "trend_following", "universe_id": "dow30", "parameters": {"fast": 20, "slow": 100}}`)

	spec, err := newTestGenerator(srv.URL).Explore(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, "trend_following", spec.TemplateID)
	assert.Equal(t, "llm:explore", spec.CreatedBy)
	assert.Empty(t, spec.ParentID)
}

func TestExplore_GivesUpAfterThreeRetries(t *testing.T) {
	var calls int32
	srv := chatServer(t, &calls, 100, "")

	_, err := newTestGenerator(srv.URL).Explore(context.Background(), nil)
	assert.Error(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestExploit_LinksParent(t *testing.T) {
	var calls int32
	srv := chatServer(t, &calls, 0, `{"template_id": "momentum", "universe_id": "dow30", "parameters": {"lookback": 30}}`)

	parent := *contracts.NewStrategySpec("momentum", "dow30", map[string]float64{"lookback": 60}, contracts.DefaultRiskParams())
	parent.Generation = 2
	result := contracts.StrategyResult{Sharpe: 1.1, TotalTrades: 30}

	spec, err := newTestGenerator(srv.URL).Exploit(context.Background(), parent, result,
		[]contracts.SpecResult{{Spec: parent, Result: result}})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, spec.ParentID)
	assert.Equal(t, 3, spec.Generation)
	assert.Equal(t, "llm:exploit", spec.CreatedBy)
}

func TestExplore_ParseFailureSurfaces(t *testing.T) {
	var calls int32
	srv := chatServer(t, &calls, 0, "I would rather not.")

	_, err := newTestGenerator(srv.URL).Explore(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoJSON)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
