package council

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/councilflow/metering"
	"github.com/BaSui01/councilflow/types"
)

// runStage1 fans the original query out to every council member
// concurrently. Each invocation gets its own tier-derived timeout, each
// failure is isolated to its own slot, and a per-member event fires the
// instant each call settles. The returned slice is in completion-record
// order, which is the order Stage 2 labels are later assigned in.
func (p *Pipeline) runStage1(ctx context.Context, d *Deliberation, emit Emitter) []Stage1Response {
	messages := []types.Message{types.NewUserMessage(d.Query)}

	slots := make([]Stage1Response, len(d.Members))
	order := make([]int, 0, len(d.Members))
	var mu sync.Mutex

	// errgroup is the join barrier only. Goroutines always return nil so a
	// failing member never cancels its siblings.
	g := new(errgroup.Group)
	for i, m := range d.Members {
		i, m := i, m
		g.Go(func() error {
			start := time.Now()
			text, err := p.invoker.Invoke(ctx, m.Model, messages, p.tiers.TimeoutFor(m.Model, OpQuery))

			res := Stage1Response{Model: m.Model, DisplayName: m.DisplayName}
			if err != nil {
				res.Status = StageFailed
				res.Error = err.Error()
			} else {
				res.Status = StageSucceeded
				res.Response = text
			}

			mu.Lock()
			slots[i] = res
			order = append(order, i)
			p.emitMemberEvent(d.ID, EventStage1ModelComplete, EventStage1ModelError, res.Model, res.DisplayName, res.Response, res.Error, err, emit)
			mu.Unlock()

			p.observeCall(m.Model, "stage1", err, time.Since(start))
			if err == nil && text != "" {
				p.recordUsage(ctx, d.UserID, m.Model, d.Query, text, "council_stage1")
			}
			if serr := p.store.SaveStage1Response(ctx, d.ID, res); serr != nil {
				p.logger.Warn("persist stage1 response failed",
					zap.String("deliberation_id", d.ID),
					zap.String("model", m.Model),
					zap.Error(serr),
				)
			}
			return nil
		})
	}
	g.Wait()

	ordered := make([]Stage1Response, 0, len(slots))
	for _, idx := range order {
		ordered = append(ordered, slots[idx])
	}
	return ordered
}

// emitMemberEvent publishes the settle event for one member, success or
// error variant. Caller holds the completion mutex so event order matches
// the recorded completion order.
func (p *Pipeline) emitMemberEvent(deliberationID string, okType, errType EventType, model, displayName, response, errText string, err error, emit Emitter) {
	ev := Event{
		Type:           okType,
		DeliberationID: deliberationID,
		Timestamp:      time.Now().UTC(),
		Model:          model,
		DisplayName:    displayName,
		Response:       response,
	}
	if err != nil {
		ev.Type = errType
		ev.Response = ""
		ev.Error = errText
	}
	emit.Emit(ev)
}

// recordUsage informs the metering guard about billable output. Recording
// failures are logged, never treated as pipeline failures.
func (p *Pipeline) recordUsage(ctx context.Context, userID, model, promptText, generatedText, feature string) {
	err := p.guard.Record(ctx, metering.Usage{
		UserID:        userID,
		Model:         model,
		PromptText:    promptText,
		GeneratedText: generatedText,
		Feature:       feature,
	})
	if err != nil {
		p.logger.Warn("metering record failed",
			zap.String("model", model),
			zap.String("feature", feature),
			zap.Error(err),
		)
	}
}
