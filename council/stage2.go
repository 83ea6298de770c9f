package council

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/councilflow/types"
)

// runStage2 has every successful Stage 1 responder evaluate the anonymized
// answer set. Members that failed Stage 1 are excluded from the evaluator
// set; they have nothing on the board and nothing to compare against their
// own work. Failure isolation matches Stage 1: one evaluator's timeout or
// gateway error is recorded with an empty ranking and does not touch the
// others.
func (p *Pipeline) runStage2(ctx context.Context, d *Deliberation, labeled []labeledResponse, labelToModel map[string]string, emit Emitter) []Stage2Evaluation {
	prompt := buildEvaluationPrompt(d.Query, labeled)
	messages := []types.Message{types.NewUserMessage(prompt)}

	slots := make([]Stage2Evaluation, len(labeled))
	order := make([]int, 0, len(labeled))
	var mu sync.Mutex

	g := new(errgroup.Group)
	for i, lr := range labeled {
		i, member := i, lr.Response
		g.Go(func() error {
			start := time.Now()
			text, err := p.invoker.Invoke(ctx, member.Model, messages, p.tiers.TimeoutFor(member.Model, OpQuery))

			eval := Stage2Evaluation{Model: member.Model, DisplayName: member.DisplayName}
			if err != nil {
				eval.Status = StageFailed
				eval.Error = err.Error()
			} else {
				eval.Status = StageSucceeded
				eval.Evaluation = text
				eval.ParsedRanking = ParseRanking(text, labelToModel)
			}

			mu.Lock()
			slots[i] = eval
			order = append(order, i)
			p.emitMemberEvent(d.ID, EventStage2ModelComplete, EventStage2ModelError, eval.Model, eval.DisplayName, eval.Evaluation, eval.Error, err, emit)
			mu.Unlock()

			p.observeCall(member.Model, "stage2", err, time.Since(start))
			if err == nil && text != "" {
				p.recordUsage(ctx, d.UserID, member.Model, prompt, text, "council_stage2")
			}
			if serr := p.store.SaveStage2Evaluation(ctx, d.ID, eval); serr != nil {
				p.logger.Warn("persist stage2 evaluation failed",
					zap.String("deliberation_id", d.ID),
					zap.String("model", member.Model),
					zap.Error(serr),
				)
			}
			return nil
		})
	}
	g.Wait()

	ordered := make([]Stage2Evaluation, 0, len(slots))
	for _, idx := range order {
		ordered = append(ordered, slots[idx])
	}
	return ordered
}
