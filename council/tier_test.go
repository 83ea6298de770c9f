package council

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/councilflow/config"
)

func TestClassifier_TimeoutFor(t *testing.T) {
	c := NewClassifier(config.DefaultCouncilConfig())

	tests := []struct {
		name  string
		model string
		op    Operation
		want  time.Duration
	}{
		{"standard query", "anthropic/claude-sonnet-4-5", OpQuery, 4 * time.Minute},
		{"pro query", "anthropic/claude-opus-4-5", OpQuery, 5 * time.Minute},
		{"standard synthesis", "google/gemini-2.5-flash", OpSynthesis, 5 * time.Minute},
		{"pro synthesis", "openai/gpt-5.2", OpSynthesis, 10 * time.Minute},
		{"unknown model is standard", "acme/unknown-model", OpQuery, 4 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.TimeoutFor(tt.model, tt.op))
		})
	}
}

func TestClassifier_ConfigExtendsProTable(t *testing.T) {
	cfg := config.DefaultCouncilConfig()
	cfg.ProModels = []string{"acme/goliath"}
	c := NewClassifier(cfg)

	assert.True(t, c.IsProTier("acme/goliath"))
	assert.True(t, c.IsProTier("google/gemini-2.5-pro"))
	assert.False(t, c.IsProTier("acme/minnow"))
	assert.Equal(t, 5*time.Minute, c.TimeoutFor("acme/goliath", OpQuery))
}

func TestClassifier_ZeroBudgetsFallBackToDefaults(t *testing.T) {
	c := NewClassifier(config.CouncilConfig{})
	assert.Equal(t, 4*time.Minute, c.TimeoutFor("acme/minnow", OpQuery))
	assert.Equal(t, 10*time.Minute, c.TimeoutFor("openai/gpt-5.2", OpSynthesis))
}

func TestMemberFromModel(t *testing.T) {
	m := MemberFromModel("anthropic/claude-opus-4-5")
	assert.Equal(t, "anthropic/claude-opus-4-5", m.Model)
	assert.Equal(t, "claude-opus-4-5", m.DisplayName)

	bare := MemberFromModel("local-model")
	assert.Equal(t, "local-model", bare.DisplayName)
}
