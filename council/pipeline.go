package council

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/councilflow/gateway"
	"github.com/BaSui01/councilflow/metering"
	"github.com/BaSui01/councilflow/types"
)

// Metrics receives pipeline observations. internal/metrics provides the
// Prometheus implementation; tests use the nop default.
type Metrics interface {
	ObserveStage(stage string, elapsed time.Duration)
	ObserveModelCall(model, stage, status string, elapsed time.Duration)
	ObserveDeliberation(state string, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveStage(string, time.Duration)              {}
func (nopMetrics) ObserveModelCall(string, string, string, time.Duration) {}
func (nopMetrics) ObserveDeliberation(string, time.Duration)       {}

// Pipeline drives one deliberation through the state machine
// Created -> Stage1Running -> ... -> Complete/Failed. One Pipeline is safe
// for concurrent Run calls; all per-deliberation state lives on the
// Deliberation value.
type Pipeline struct {
	invoker gateway.Invoker
	tiers   *Classifier
	guard   metering.Guard
	store   Store
	metrics Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewPipeline wires the pipeline. guard and store may be nil; they default
// to metering.AllowAll and NopStore.
func NewPipeline(invoker gateway.Invoker, tiers *Classifier, guard metering.Guard, store Store, logger *zap.Logger) *Pipeline {
	if guard == nil {
		guard = metering.AllowAll{}
	}
	if store == nil {
		store = NopStore{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		invoker: invoker,
		tiers:   tiers,
		guard:   guard,
		store:   store,
		metrics: nopMetrics{},
		logger:  logger.With(zap.String("component", "council")),
		tracer:  otel.Tracer("councilflow/council"),
	}
}

// WithMetrics attaches a metrics sink. Must be called before Run.
func (p *Pipeline) WithMetrics(m Metrics) *Pipeline {
	if m != nil {
		p.metrics = m
	}
	return p
}

// Run executes one full deliberation and returns the final record. The
// returned error is non-nil only for pipeline-fatal conditions: a rejected
// request, a metering denial, or fewer than two Stage 1 successes.
// Per-call timeouts and gateway errors are recorded on the affected stage
// results and never abort the run.
//
// Run honors ctx for the model calls it issues but performs no
// caller-initiated mid-flight cancellation of its own; callers that must
// survive client disconnects pass a context detached from the request.
func (p *Pipeline) Run(ctx context.Context, req Request, emit Emitter) (*Deliberation, error) {
	if emit == nil {
		emit = NopEmitter{}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	d := newDeliberation(req)
	ctx = types.WithDeliberationID(ctx, d.ID)
	logger := p.logger.With(zap.String("deliberation_id", d.ID))

	ctx, span := p.tracer.Start(ctx, "council.deliberate", trace.WithAttributes(
		attribute.String("deliberation.id", d.ID),
		attribute.Int("council.size", len(d.Members)),
		attribute.String("council.chairman", d.ChairmanModel),
	))
	defer span.End()
	started := time.Now()

	auth, err := p.guard.Authorize(ctx, req.UserID)
	if err != nil {
		return p.fail(ctx, d, emit, types.NewError(types.ErrUnauthorized, "metering guard unavailable").WithCause(err), started)
	}
	if !auth.Allowed {
		reason := auth.Reason
		if reason == "" {
			reason = "deliberation not authorized"
		}
		return p.fail(ctx, d, emit, types.NewError(types.ErrUnauthorized, reason), started)
	}

	if err := p.store.CreateDeliberation(ctx, d); err != nil {
		// Persistence is observability, not control flow; the run proceeds
		// on in-memory state.
		logger.Warn("create deliberation record failed", zap.Error(err))
	}

	// Stage 1: initial responses.
	d.State = StateStage1Running
	emit.Emit(Event{
		Type:           EventStage1Start,
		DeliberationID: d.ID,
		Timestamp:      time.Now().UTC(),
		Members:        d.Members,
	})
	stage1Started := time.Now()
	d.Stage1 = p.stage1WithSpan(ctx, d, emit)
	p.metrics.ObserveStage("stage1", time.Since(stage1Started))
	d.State = StateStage1Done

	successes := make([]Stage1Response, 0, len(d.Stage1))
	for _, r := range d.Stage1 {
		if r.Status == StageSucceeded {
			successes = append(successes, r)
		}
	}
	logger.Info("stage1 settled",
		zap.Int("council_size", len(d.Members)),
		zap.Int("successes", len(successes)),
	)
	emit.Emit(Event{Type: EventStage1Complete, DeliberationID: d.ID, Timestamp: time.Now().UTC()})

	if len(successes) < 2 {
		return p.fail(ctx, d, emit,
			types.NewError(types.ErrInsufficientResponses, "not enough responses for ranking"), started)
	}

	// Stage 2: anonymized peer ranking.
	labeled, labelToModel := assignLabels(d.Stage1)
	d.LabelToModel = labelToModel
	d.State = StateStage2Running
	emit.Emit(Event{
		Type:           EventStage2Start,
		DeliberationID: d.ID,
		Timestamp:      time.Now().UTC(),
		LabelToModel:   labelToModel,
	})
	stage2Started := time.Now()
	d.Stage2 = p.stage2WithSpan(ctx, d, labeled, labelToModel, emit)
	p.metrics.ObserveStage("stage2", time.Since(stage2Started))
	d.State = StateStage2Done

	d.Aggregate = Aggregate(d.Stage2, successes)
	if err := p.store.SaveAggregate(ctx, d.ID, d.Aggregate, d.LabelToModel); err != nil {
		logger.Warn("persist aggregate failed", zap.Error(err))
	}
	emit.Emit(Event{
		Type:           EventStage2Complete,
		DeliberationID: d.ID,
		Timestamp:      time.Now().UTC(),
		Ranking:        d.Aggregate,
		LabelToModel:   labelToModel,
	})

	// Stage 3: chairman synthesis. Failure is recorded, never fatal.
	d.State = StateStage3Running
	emit.Emit(Event{
		Type:           EventStage3Start,
		DeliberationID: d.ID,
		Timestamp:      time.Now().UTC(),
		Model:          d.ChairmanModel,
		DisplayName:    MemberFromModel(d.ChairmanModel).DisplayName,
	})
	stage3Started := time.Now()
	stage3 := p.stage3WithSpan(ctx, d)
	p.metrics.ObserveStage("stage3", time.Since(stage3Started))
	d.Stage3 = &stage3
	if err := p.store.SaveStage3Response(ctx, d.ID, stage3); err != nil {
		logger.Warn("persist stage3 response failed", zap.Error(err))
	}
	emit.Emit(Event{
		Type:           EventStage3Complete,
		DeliberationID: d.ID,
		Timestamp:      time.Now().UTC(),
		Model:          stage3.Model,
		DisplayName:    stage3.DisplayName,
		Response:       stage3.Response,
		Error:          stage3.Error,
	})
	if stage3.Status == StageFailed {
		logger.Warn("stage3 synthesis failed", zap.String("error", stage3.Error))
	}

	d.State = StateComplete
	d.UpdatedAt = time.Now().UTC()
	if err := p.store.MarkComplete(ctx, d.ID, StateComplete, ""); err != nil {
		logger.Warn("mark complete failed", zap.Error(err))
	}
	p.metrics.ObserveDeliberation(string(StateComplete), time.Since(started))
	emit.Emit(Event{Type: EventComplete, DeliberationID: d.ID, Timestamp: time.Now().UTC()})
	logger.Info("deliberation complete", zap.Duration("elapsed", time.Since(started)))
	return d, nil
}

// fail terminates the deliberation with a top-level error. Partial results
// already recorded on the deliberation remain visible; nothing is rolled
// back.
func (p *Pipeline) fail(ctx context.Context, d *Deliberation, emit Emitter, err *types.Error, started time.Time) (*Deliberation, error) {
	d.State = StateFailed
	d.Error = err.Message
	d.UpdatedAt = time.Now().UTC()
	if serr := p.store.MarkComplete(ctx, d.ID, StateFailed, err.Message); serr != nil {
		p.logger.Warn("mark failed state failed",
			zap.String("deliberation_id", d.ID),
			zap.Error(serr),
		)
	}
	p.metrics.ObserveDeliberation(string(StateFailed), time.Since(started))
	emit.Emit(Event{
		Type:           EventError,
		DeliberationID: d.ID,
		Timestamp:      time.Now().UTC(),
		Error:          err.Message,
	})
	p.logger.Warn("deliberation failed",
		zap.String("deliberation_id", d.ID),
		zap.String("code", string(err.Code)),
		zap.String("error", err.Message),
	)
	return d, err
}

func (p *Pipeline) stage1WithSpan(ctx context.Context, d *Deliberation, emit Emitter) []Stage1Response {
	ctx, span := p.tracer.Start(ctx, "council.stage1")
	defer span.End()
	return p.runStage1(ctx, d, emit)
}

func (p *Pipeline) stage2WithSpan(ctx context.Context, d *Deliberation, labeled []labeledResponse, labelToModel map[string]string, emit Emitter) []Stage2Evaluation {
	ctx, span := p.tracer.Start(ctx, "council.stage2")
	defer span.End()
	return p.runStage2(ctx, d, labeled, labelToModel, emit)
}

func (p *Pipeline) stage3WithSpan(ctx context.Context, d *Deliberation) Stage3Response {
	ctx, span := p.tracer.Start(ctx, "council.stage3")
	defer span.End()
	return p.runStage3(ctx, d)
}

func (p *Pipeline) observeCall(model, stage string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = string(types.GetErrorCode(err))
	}
	p.metrics.ObserveModelCall(model, stage, status, elapsed)
}
