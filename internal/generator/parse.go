package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/template"
	"github.com/wonny/forge/internal/universe"
)

// Parse failure kinds. ParseError unwraps to one of these.
var (
	ErrNoJSON          = errors.New("no JSON object in response")
	ErrInvalidJSON     = errors.New("invalid JSON in response")
	ErrUnknownTemplate = errors.New("unknown template")
	ErrUnknownUniverse = errors.New("unknown universe")
)

// ParseError describes why a model response could not become a spec.
type ParseError struct {
	Kind   error
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ParseError) Unwrap() error {
	return e.Kind
}

// KindLabel is a short metric label for a parse error, or "other".
func KindLabel(err error) string {
	switch {
	case errors.Is(err, ErrNoJSON):
		return "no_json"
	case errors.Is(err, ErrInvalidJSON):
		return "invalid_json"
	case errors.Is(err, ErrUnknownTemplate):
		return "unknown_template"
	case errors.Is(err, ErrUnknownUniverse):
		return "unknown_universe"
	default:
		return "other"
	}
}

type specPayload struct {
	TemplateID string             `json:"template_id"`
	Parameters map[string]float64 `json:"parameters"`
	UniverseID string             `json:"universe_id"`
	Risk       *riskPayload       `json:"risk"`
}

type riskPayload struct {
	MaxPositionPct float64 `json:"max_position_pct"`
	MaxPositions   int     `json:"max_positions"`
	StopLossPct    float64 `json:"stop_loss_pct"`
	TakeProfitPct  float64 `json:"take_profit_pct"`
	SizingMethod   string  `json:"sizing_method"`
}

// ParseSpec extracts the first JSON object from text and turns it into a spec.
// Parameters are overlaid on template defaults and risk fields are bounded by defaults.
func ParseSpec(text string, templates *template.Registry, defaults contracts.RiskParams) (*contracts.StrategySpec, error) {
	raw, ok := firstJSONObject(text)
	if !ok {
		return nil, &ParseError{Kind: ErrNoJSON}
	}

	var payload specPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, &ParseError{Kind: ErrInvalidJSON, Detail: err.Error()}
	}

	tpl, ok := templates.Get(payload.TemplateID)
	if !ok {
		return nil, &ParseError{Kind: ErrUnknownTemplate, Detail: payload.TemplateID}
	}
	if !universe.IsSupported(payload.UniverseID) {
		return nil, &ParseError{Kind: ErrUnknownUniverse, Detail: payload.UniverseID}
	}

	return contracts.NewStrategySpec(tpl.ID(), payload.UniverseID,
		template.Params(tpl, payload.Parameters), boundRisk(payload.Risk, defaults)), nil
}

// boundRisk never loosens the defaults.
func boundRisk(p *riskPayload, defaults contracts.RiskParams) contracts.RiskParams {
	out := defaults
	if p == nil {
		return out
	}
	if p.MaxPositionPct > 0 && p.MaxPositionPct < defaults.MaxPositionPct {
		out.MaxPositionPct = p.MaxPositionPct
	}
	if p.MaxPositions > 0 && p.MaxPositions < defaults.MaxPositions {
		out.MaxPositions = p.MaxPositions
	}
	if p.StopLossPct > 0 && p.StopLossPct < defaults.StopLossPct {
		out.StopLossPct = p.StopLossPct
	}
	if p.TakeProfitPct > 0 && p.TakeProfitPct < 1 {
		out.TakeProfitPct = p.TakeProfitPct
	}
	switch contracts.SizingMethod(p.SizingMethod) {
	case contracts.SizingEqualWeight, contracts.SizingVolatilityAdj:
		out.SizingMethod = contracts.SizingMethod(p.SizingMethod)
	}
	return out
}

// firstJSONObject returns the first balanced {...} span, skipping braces inside strings.
func firstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	// Unbalanced: hand back the tail so the decoder reports it as invalid.
	return text[start:], true
}
