package council

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/councilflow/config"
	"github.com/BaSui01/councilflow/metering"
	"github.com/BaSui01/councilflow/types"
)

// fakeInvoker scripts per-model behavior through fn and records every call.
type fakeInvoker struct {
	mu    sync.Mutex
	calls []fakeCall
	fn    func(model, prompt string) (string, error)
}

type fakeCall struct {
	Model  string
	Prompt string
}

func (f *fakeInvoker) Invoke(ctx context.Context, model string, messages []types.Message, timeout time.Duration) (string, error) {
	prompt := messages[len(messages)-1].Content
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{Model: model, Prompt: prompt})
	f.mu.Unlock()
	return f.fn(model, prompt)
}

func (f *fakeInvoker) callsFor(predicate func(fakeCall) bool) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if predicate(c) {
			out = append(out, c)
		}
	}
	return out
}

func isEvaluationCall(c fakeCall) bool { return strings.Contains(c.Prompt, "FINAL RANKING:") }
func isSynthesisCall(c fakeCall) bool  { return strings.Contains(c.Prompt, "chairman") }
func isQueryCall(c fakeCall) bool      { return !isEvaluationCall(c) && !isSynthesisCall(c) }

// fakeGuard scripts the authorization result and counts usage records.
type fakeGuard struct {
	mu      sync.Mutex
	auth    metering.Authorization
	authErr error
	usages  []metering.Usage
}

func (f *fakeGuard) Authorize(ctx context.Context, userID string) (metering.Authorization, error) {
	return f.auth, f.authErr
}

func (f *fakeGuard) Record(ctx context.Context, usage metering.Usage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usages = append(f.usages, usage)
	return nil
}

func (f *fakeGuard) recorded() []metering.Usage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]metering.Usage(nil), f.usages...)
}

// fakeStore counts persistence calls.
type fakeStore struct {
	mu         sync.Mutex
	created    int
	stage1     []Stage1Response
	stage2     []Stage2Evaluation
	stage3     []Stage3Response
	aggregates int
	finalState State
	finalErr   string
	completed  int
}

func (f *fakeStore) CreateDeliberation(ctx context.Context, d *Deliberation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return nil
}

func (f *fakeStore) SaveStage1Response(ctx context.Context, id string, r Stage1Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stage1 = append(f.stage1, r)
	return nil
}

func (f *fakeStore) SaveStage2Evaluation(ctx context.Context, id string, e Stage2Evaluation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stage2 = append(f.stage2, e)
	return nil
}

func (f *fakeStore) SaveAggregate(ctx context.Context, id string, entries []AggregateEntry, labelToModel map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggregates++
	return nil
}

func (f *fakeStore) SaveStage3Response(ctx context.Context, id string, r Stage3Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stage3 = append(f.stage3, r)
	return nil
}

func (f *fakeStore) MarkComplete(ctx context.Context, id string, state State, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed++
	f.finalState = state
	f.finalErr = errText
	return nil
}

// eventRecorder collects events in emission order.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) types() []EventType {
	out := make([]EventType, 0)
	for _, e := range r.all() {
		out = append(out, e.Type)
	}
	return out
}

func newTestPipeline(inv *fakeInvoker, guard metering.Guard, store Store) *Pipeline {
	return NewPipeline(inv, NewClassifier(config.DefaultCouncilConfig()), guard, store, zap.NewNop())
}

func validRequest() Request {
	return Request{
		ConversationID: "conv-1",
		QueryID:        "q-1",
		UserID:         "user-1",
		Query:          "how should I shard this table?",
		CouncilModels:  []string{"vendor/one", "vendor/two", "vendor/three"},
		ChairmanModel:  "vendor/chairman",
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	// Three members: two answer, one times out. Both evaluators agree on
	// A > B. The chairman is invoked exactly once and the deliberation
	// completes with no top-level error.
	inv := &fakeInvoker{fn: func(model, prompt string) (string, error) {
		switch {
		case isSynthesisCall(fakeCall{Prompt: prompt}):
			return "the synthesized answer", nil
		case isEvaluationCall(fakeCall{Prompt: prompt}):
			return "Both are strong.\n\nFINAL RANKING: A > B", nil
		case model == "vendor/three":
			return "", types.NewTimeoutError(model, 4*time.Minute)
		case model == "vendor/two":
			// Settles after vendor/one so the completion order, and with it
			// the label assignment, is deterministic.
			time.Sleep(30 * time.Millisecond)
			return "answer two", nil
		default:
			return "answer one", nil
		}
	}}
	guard := &fakeGuard{auth: metering.Authorization{Allowed: true}}
	store := &fakeStore{}
	rec := &eventRecorder{}

	d, err := newTestPipeline(inv, guard, store).Run(context.Background(), validRequest(), rec)
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, StateComplete, d.State)
	assert.Empty(t, d.Error)

	// One Stage 1 entry per council member, the timed-out one settled with
	// an error and an empty response.
	require.Len(t, d.Stage1, 3)
	byModel := make(map[string]Stage1Response, 3)
	for _, r := range d.Stage1 {
		byModel[r.Model] = r
	}
	assert.Equal(t, StageFailed, byModel["vendor/three"].Status)
	assert.Empty(t, byModel["vendor/three"].Response)
	assert.Contains(t, byModel["vendor/three"].Error, "TIMEOUT")
	assert.Equal(t, StageSucceeded, byModel["vendor/one"].Status)
	assert.Equal(t, StageSucceeded, byModel["vendor/two"].Status)

	// Labels cover the two successes in completion order.
	require.Equal(t, map[string]string{"A": "vendor/one", "B": "vendor/two"}, d.LabelToModel)

	// Two evaluators, both parsed A > B.
	require.Len(t, d.Stage2, 2)
	for _, ev := range d.Stage2 {
		assert.Equal(t, []string{"vendor/one", "vendor/two"}, ev.ParsedRanking)
	}

	require.Len(t, d.Aggregate, 2)
	assert.Equal(t, "vendor/one", d.Aggregate[0].Model)
	assert.Equal(t, 1.0, d.Aggregate[0].AverageRank)
	assert.Equal(t, "vendor/two", d.Aggregate[1].Model)
	assert.Equal(t, 2.0, d.Aggregate[1].AverageRank)

	require.NotNil(t, d.Stage3)
	assert.Equal(t, StageSucceeded, d.Stage3.Status)
	assert.Equal(t, "the synthesized answer", d.Stage3.Response)
	assert.Len(t, inv.callsFor(isSynthesisCall), 1)

	// Persistence saw every logical update exactly once.
	assert.Equal(t, 1, store.created)
	assert.Len(t, store.stage1, 3)
	assert.Len(t, store.stage2, 2)
	assert.Equal(t, 1, store.aggregates)
	assert.Len(t, store.stage3, 1)
	assert.Equal(t, 1, store.completed)
	assert.Equal(t, StateComplete, store.finalState)

	// Metering: one record per model call with non-empty output.
	assert.Len(t, guard.recorded(), 5)

	assertEventOrdering(t, rec.types())
	last := rec.types()[len(rec.types())-1]
	assert.Equal(t, EventComplete, last)
}

// assertEventOrdering checks the inter-stage ordering contract: stage events
// never precede their stage start and never follow their stage complete.
func assertEventOrdering(t *testing.T, seq []EventType) {
	t.Helper()
	pos := func(et EventType) int {
		for i, e := range seq {
			if e == et {
				return i
			}
		}
		return -1
	}
	require.Equal(t, 0, pos(EventStage1Start))
	require.Less(t, pos(EventStage1Start), pos(EventStage1Complete))
	require.Less(t, pos(EventStage1Complete), pos(EventStage2Start))
	require.Less(t, pos(EventStage2Start), pos(EventStage2Complete))
	require.Less(t, pos(EventStage2Complete), pos(EventStage3Start))
	require.Less(t, pos(EventStage3Start), pos(EventStage3Complete))
	require.Less(t, pos(EventStage3Complete), pos(EventComplete))

	for i, e := range seq {
		switch e {
		case EventStage1ModelComplete, EventStage1ModelError:
			assert.Greater(t, i, pos(EventStage1Start))
			assert.Less(t, i, pos(EventStage1Complete))
		case EventStage2ModelComplete, EventStage2ModelError:
			assert.Greater(t, i, pos(EventStage2Start))
			assert.Less(t, i, pos(EventStage2Complete))
		}
	}
}

func TestPipeline_InsufficientResponses(t *testing.T) {
	inv := &fakeInvoker{fn: func(model, prompt string) (string, error) {
		if model == "vendor/one" {
			return "only answer", nil
		}
		return "", types.NewGatewayError(model, 502, "bad gateway")
	}}
	store := &fakeStore{}
	rec := &eventRecorder{}

	d, err := newTestPipeline(inv, &fakeGuard{auth: metering.Authorization{Allowed: true}}, store).
		Run(context.Background(), validRequest(), rec)

	require.Error(t, err)
	assert.Equal(t, types.ErrInsufficientResponses, types.GetErrorCode(err))
	assert.Equal(t, StateFailed, d.State)
	assert.Equal(t, "not enough responses for ranking", d.Error)

	// Stage 1 results remain visible; Stage 2 never started.
	assert.Len(t, d.Stage1, 3)
	assert.Empty(t, d.Stage2)
	assert.Empty(t, inv.callsFor(isEvaluationCall))
	assert.Empty(t, inv.callsFor(isSynthesisCall))

	assert.Equal(t, StateFailed, store.finalState)
	assert.Equal(t, "not enough responses for ranking", store.finalErr)

	seq := rec.types()
	assert.Equal(t, EventError, seq[len(seq)-1])
	for _, e := range seq {
		assert.NotEqual(t, EventStage2Start, e)
		assert.NotEqual(t, EventComplete, e)
	}
}

func TestPipeline_Unauthorized(t *testing.T) {
	inv := &fakeInvoker{fn: func(model, prompt string) (string, error) {
		t.Fatal("no model may be called after a metering denial")
		return "", nil
	}}
	guard := &fakeGuard{auth: metering.Authorization{Allowed: false, Reason: "insufficient credits"}}
	rec := &eventRecorder{}

	d, err := newTestPipeline(inv, guard, &fakeStore{}).Run(context.Background(), validRequest(), rec)

	require.Error(t, err)
	assert.Equal(t, types.ErrUnauthorized, types.GetErrorCode(err))
	assert.Equal(t, StateFailed, d.State)
	assert.Equal(t, "insufficient credits", d.Error)
	assert.Empty(t, inv.calls)

	seq := rec.types()
	require.NotEmpty(t, seq)
	assert.Equal(t, EventError, seq[len(seq)-1])
}

func TestPipeline_Stage3FailureStillCompletes(t *testing.T) {
	inv := &fakeInvoker{fn: func(model, prompt string) (string, error) {
		switch {
		case isSynthesisCall(fakeCall{Prompt: prompt}):
			return "", types.NewTimeoutError(model, 10*time.Minute)
		case isEvaluationCall(fakeCall{Prompt: prompt}):
			return "FINAL RANKING: A > B", nil
		default:
			return "an answer", nil
		}
	}}
	store := &fakeStore{}

	d, err := newTestPipeline(inv, &fakeGuard{auth: metering.Authorization{Allowed: true}}, store).
		Run(context.Background(), validRequest(), &eventRecorder{})

	require.NoError(t, err)
	assert.Equal(t, StateComplete, d.State)
	assert.Empty(t, d.Error)
	require.NotNil(t, d.Stage3)
	assert.Equal(t, StageFailed, d.Stage3.Status)
	assert.NotEmpty(t, d.Stage3.Error)
	// Stage 1/2 data survives the synthesis failure.
	assert.Len(t, d.Stage1, 3)
	assert.NotEmpty(t, d.Aggregate)
	assert.Equal(t, StateComplete, store.finalState)
}

func TestPipeline_RejectsInvalidRequest(t *testing.T) {
	p := newTestPipeline(&fakeInvoker{fn: func(string, string) (string, error) { return "", nil }},
		&fakeGuard{auth: metering.Authorization{Allowed: true}}, &fakeStore{})

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"empty query", func(r *Request) { r.Query = "   " }},
		{"no council models", func(r *Request) { r.CouncilModels = nil }},
		{"no chairman", func(r *Request) { r.ChairmanModel = "" }},
		{"duplicate members", func(r *Request) { r.CouncilModels = []string{"vendor/one", "vendor/one"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := p.Run(context.Background(), req, nil)
			assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
		})
	}
}
