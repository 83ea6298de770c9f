package council

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/councilflow/types"
)

// buildSynthesisPrompt renders the Stage 3 prompt: the original query, every
// successful Stage 1 answer attributed by real display name, and a
// plain-text rendering of the aggregate ranking. Nothing is anonymized at
// this stage.
func buildSynthesisPrompt(query string, responses []Stage1Response, aggregate []AggregateEntry) string {
	var answers strings.Builder
	for _, r := range responses {
		if r.Status != StageSucceeded {
			continue
		}
		fmt.Fprintf(&answers, "\n=== %s (%s) ===\n%s\n", r.DisplayName, r.Model, r.Response)
	}

	var ranking strings.Builder
	for i, e := range aggregate {
		fmt.Fprintf(&ranking, "%d. %s (%s): average rank %.2f across %d rankings\n",
			i+1, e.DisplayName, e.Model, e.AverageRank, e.RankingsCount)
	}

	return fmt.Sprintf(`You are the chairman of an LLM council. Multiple AI models answered this question:

Question: %q

Their responses:
%s
Peer review consensus ranking (best first):
%s
Your task: synthesize the best possible answer by combining the collective wisdom of all responses.
- Incorporate the strongest points from each response
- Resolve any disagreements thoughtfully
- Provide a clear, comprehensive final answer

Provide only the synthesized answer, no meta-commentary.`, query, answers.String(), ranking.String())
}

// runStage3 invokes the chairman once under the synthesis-tier budget. A
// failure here does not invalidate Stage 1/2 data; the caller still marks
// the deliberation complete with the error recorded on the Stage 3 result.
func (p *Pipeline) runStage3(ctx context.Context, d *Deliberation) Stage3Response {
	chairman := MemberFromModel(d.ChairmanModel)
	prompt := buildSynthesisPrompt(d.Query, d.Stage1, d.Aggregate)
	messages := []types.Message{types.NewUserMessage(prompt)}

	start := time.Now()
	text, err := p.invoker.Invoke(ctx, chairman.Model, messages, p.tiers.TimeoutFor(chairman.Model, OpSynthesis))
	p.observeCall(chairman.Model, "stage3", err, time.Since(start))

	res := Stage3Response{Model: chairman.Model, DisplayName: chairman.DisplayName}
	if err != nil {
		res.Status = StageFailed
		res.Error = err.Error()
		return res
	}
	res.Status = StageSucceeded
	res.Response = text
	if text != "" {
		p.recordUsage(ctx, d.UserID, chairman.Model, prompt, text, "council_stage3")
	}
	return res
}
