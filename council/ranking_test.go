package council

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeLabelMap() map[string]string {
	return map[string]string{
		"A": "model/a",
		"B": "model/b",
		"C": "model/c",
	}
}

func TestParseRanking(t *testing.T) {
	labels := threeLabelMap()

	t.Run("terminal line round-trips", func(t *testing.T) {
		text := "Response B is the most accurate and complete.\n\nFINAL RANKING: B > A > C"
		assert.Equal(t, []string{"model/b", "model/a", "model/c"}, ParseRanking(text, labels))
	})

	t.Run("lowercase header and labels accepted", func(t *testing.T) {
		text := "final ranking: c > b > a"
		assert.Equal(t, []string{"model/c", "model/b", "model/a"}, ParseRanking(text, labels))
	})

	t.Run("last ranking line wins when the instruction is echoed", func(t *testing.T) {
		text := "You asked me to end with FINAL RANKING: A > B > C.\n" +
			"Here is my analysis...\n" +
			"FINAL RANKING: C > A > B"
		assert.Equal(t, []string{"model/c", "model/a", "model/b"}, ParseRanking(text, labels))
	})

	t.Run("fallback recovers bare chain", func(t *testing.T) {
		text := "I think C > A overall, though both have merit."
		assert.Equal(t, []string{"model/c", "model/a"}, ParseRanking(text, labels))
	})

	t.Run("unmapped labels are dropped", func(t *testing.T) {
		text := "FINAL RANKING: B > X > A"
		assert.Equal(t, []string{"model/b", "model/a"}, ParseRanking(text, labels))
	})

	t.Run("duplicates keep first position", func(t *testing.T) {
		text := "FINAL RANKING: B > A > B > C"
		assert.Equal(t, []string{"model/b", "model/a", "model/c"}, ParseRanking(text, labels))
	})

	t.Run("no ranking yields empty, not error", func(t *testing.T) {
		assert.Empty(t, ParseRanking("all three answers seem fine to me", labels))
	})

	t.Run("empty text yields empty", func(t *testing.T) {
		assert.Empty(t, ParseRanking("", labels))
	})
}

// TestParseRanking_RoundTripProperty checks that for any council size and
// any permutation of labels, a well-formed evaluation ending in the
// mandatory ranking line parses back to exactly the permuted models.
func TestParseRanking_RoundTripProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("terminal line parses to the exact permutation", prop.ForAll(
		func(n int, seed int64) bool {
			labelToModel := make(map[string]string, n)
			labels := make([]string, n)
			for i := 0; i < n; i++ {
				labels[i] = string(rune('A' + i))
				labelToModel[labels[i]] = fmt.Sprintf("vendor/model-%d", i)
			}

			perm := rand.New(rand.NewSource(seed)).Perm(n)
			permuted := make([]string, n)
			want := make([]string, n)
			for i, j := range perm {
				permuted[i] = labels[j]
				want[i] = labelToModel[labels[j]]
			}

			text := "Comparing accuracy, completeness, clarity and practicality...\n\n" +
				"FINAL RANKING: " + strings.Join(permuted, " > ")
			got := ParseRanking(text, labelToModel)
			if len(got) != n {
				return false
			}
			for i := range want {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(2, 8),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestAssignLabels(t *testing.T) {
	responses := []Stage1Response{
		{Model: "model/fast", DisplayName: "fast", Status: StageSucceeded, Response: "a1"},
		{Model: "model/broken", DisplayName: "broken", Status: StageFailed, Error: "timeout"},
		{Model: "model/slow", DisplayName: "slow", Status: StageSucceeded, Response: "a2"},
	}

	labeled, labelToModel := assignLabels(responses)
	require.Len(t, labeled, 2)
	assert.Equal(t, "A", labeled[0].Label)
	assert.Equal(t, "model/fast", labeled[0].Response.Model)
	assert.Equal(t, "B", labeled[1].Label)
	assert.Equal(t, "model/slow", labeled[1].Response.Model)
	assert.Equal(t, map[string]string{"A": "model/fast", "B": "model/slow"}, labelToModel)
}

func TestBuildEvaluationPrompt(t *testing.T) {
	labeled := []labeledResponse{
		{Label: "A", Response: Stage1Response{Model: "model/a", Response: "first answer"}},
		{Label: "B", Response: Stage1Response{Model: "model/b", Response: "second answer"}},
	}
	prompt := buildEvaluationPrompt("what is the best index type?", labeled)

	assert.Contains(t, prompt, "Response A:\nfirst answer")
	assert.Contains(t, prompt, "Response B:\nsecond answer")
	assert.Contains(t, prompt, "Accuracy")
	assert.Contains(t, prompt, "Completeness")
	assert.Contains(t, prompt, "Clarity")
	assert.Contains(t, prompt, "Practicality")
	assert.Contains(t, prompt, "FINAL RANKING: A > B")
	// Anonymized: real model identifiers never leak into the prompt.
	assert.NotContains(t, prompt, "model/a")
	assert.NotContains(t, prompt, "model/b")
}
