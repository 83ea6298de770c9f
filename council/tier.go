package council

import (
	"time"

	"github.com/BaSui01/councilflow/config"
)

// Operation distinguishes a plain query call from a large-prompt synthesis
// call for timeout purposes.
type Operation string

const (
	OpQuery     Operation = "query"
	OpSynthesis Operation = "synthesis"
)

// proTierModels is the built-in pro tier lookup table: known higher-latency,
// higher-capability models that get extended budgets.
var proTierModels = []string{
	"anthropic/claude-opus-4-5",
	"openai/gpt-5.2",
	"google/gemini-2.5-pro",
}

// DefaultCouncilModels is the standard roster used when the caller does not
// pick one.
var DefaultCouncilModels = []string{
	"anthropic/claude-sonnet-4-5",
	"openai/gpt-5.1-codex-mini",
	"google/gemini-2.5-flash",
}

// DefaultChairmanModel is the default synthesis model.
const DefaultChairmanModel = "anthropic/claude-opus-4-5"

// Classifier maps a model identifier to a tier and derives the timeout
// budget for an operation kind. Synthesis budgets exceed query budgets
// because the Stage 3 prompt embeds every Stage 1 answer plus the ranking
// summary and can be an order of magnitude larger.
type Classifier struct {
	pro map[string]struct{}
	cfg config.CouncilConfig
}

// NewClassifier builds a classifier from the built-in pro table extended by
// cfg.ProModels. Zero-valued timeout budgets fall back to the defaults.
func NewClassifier(cfg config.CouncilConfig) *Classifier {
	def := config.DefaultCouncilConfig()
	if cfg.StandardQueryTimeout <= 0 {
		cfg.StandardQueryTimeout = def.StandardQueryTimeout
	}
	if cfg.ProQueryTimeout <= 0 {
		cfg.ProQueryTimeout = def.ProQueryTimeout
	}
	if cfg.StandardSynthesisTimeout <= 0 {
		cfg.StandardSynthesisTimeout = def.StandardSynthesisTimeout
	}
	if cfg.ProSynthesisTimeout <= 0 {
		cfg.ProSynthesisTimeout = def.ProSynthesisTimeout
	}

	pro := make(map[string]struct{}, len(proTierModels)+len(cfg.ProModels))
	for _, m := range proTierModels {
		pro[m] = struct{}{}
	}
	for _, m := range cfg.ProModels {
		pro[m] = struct{}{}
	}
	return &Classifier{pro: pro, cfg: cfg}
}

// IsProTier reports whether the model belongs to the pro tier.
func (c *Classifier) IsProTier(model string) bool {
	_, ok := c.pro[model]
	return ok
}

// TimeoutFor returns the budget for one invocation of model under the given
// operation kind.
func (c *Classifier) TimeoutFor(model string, op Operation) time.Duration {
	pro := c.IsProTier(model)
	if op == OpSynthesis {
		if pro {
			return c.cfg.ProSynthesisTimeout
		}
		return c.cfg.StandardSynthesisTimeout
	}
	if pro {
		return c.cfg.ProQueryTimeout
	}
	return c.cfg.StandardQueryTimeout
}
