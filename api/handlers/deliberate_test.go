package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/councilflow/council"
	"github.com/BaSui01/councilflow/types"
)

// scriptedRunner emits a fixed event sequence and captures the request it
// was started with.
type scriptedRunner struct {
	events []council.Event
	err    error
	gotReq council.Request
}

func (s *scriptedRunner) Run(ctx context.Context, req council.Request, emit council.Emitter) (*council.Deliberation, error) {
	s.gotReq = req
	for _, ev := range s.events {
		emit.Emit(ev)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &council.Deliberation{ID: "d-1", State: council.StateComplete}, nil
}

func streamRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deliberations/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// sseFrames splits the recorded body into the JSON payloads of its data:
// frames, keeping [DONE] as a literal.
func sseFrames(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if after, ok := strings.CutPrefix(line, "data: "); ok {
			frames = append(frames, after)
		}
	}
	require.NoError(t, scanner.Err())
	return frames
}

func TestHandleStream(t *testing.T) {
	runner := &scriptedRunner{
		events: []council.Event{
			{Type: council.EventStage1Start, DeliberationID: "d-1"},
			{Type: council.EventStage1Complete, DeliberationID: "d-1"},
			{Type: council.EventComplete, DeliberationID: "d-1"},
		},
	}
	h := NewDeliberateHandler(runner, zap.NewNop())

	req := streamRequest(t, `{"conversation_id":"c-1","query":"compare the options"}`)
	req = req.WithContext(types.WithUserID(req.Context(), "user-9"))
	rec := httptest.NewRecorder()

	h.HandleStream(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	frames := sseFrames(t, rec.Body.String())
	require.Len(t, frames, 4)
	assert.Equal(t, "[DONE]", frames[3])

	var first council.Event
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &first))
	assert.Equal(t, council.EventStage1Start, first.Type)
	assert.Equal(t, "d-1", first.DeliberationID)

	var last council.Event
	require.NoError(t, json.Unmarshal([]byte(frames[2]), &last))
	assert.Equal(t, council.EventComplete, last.Type)

	// The authenticated user and the default roster flow into the request.
	assert.Equal(t, "user-9", runner.gotReq.UserID)
	assert.Equal(t, council.DefaultCouncilModels, runner.gotReq.CouncilModels)
	assert.Equal(t, council.DefaultChairmanModel, runner.gotReq.ChairmanModel)
}

func TestHandleStream_PipelineErrorStillEndsStream(t *testing.T) {
	runner := &scriptedRunner{
		events: []council.Event{
			{Type: council.EventStage1Start, DeliberationID: "d-2"},
			{Type: council.EventError, DeliberationID: "d-2", Error: "not enough responses for ranking"},
		},
		err: types.NewError(types.ErrInsufficientResponses, "not enough responses for ranking"),
	}
	h := NewDeliberateHandler(runner, zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleStream(rec, streamRequest(t, `{"conversation_id":"c-1","query":"q"}`))

	// The stream stays 200: failures arrive as error events, then [DONE].
	assert.Equal(t, http.StatusOK, rec.Code)
	frames := sseFrames(t, rec.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, "[DONE]", frames[2])

	var errEvent council.Event
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &errEvent))
	assert.Equal(t, council.EventError, errEvent.Type)
	assert.Contains(t, errEvent.Error, "not enough responses")
}

func TestHandleStream_InvalidBody(t *testing.T) {
	h := NewDeliberateHandler(&scriptedRunner{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleStream(rec, streamRequest(t, `{"query":`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestHandleStream_InvalidRequest(t *testing.T) {
	h := NewDeliberateHandler(&scriptedRunner{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleStream(rec, streamRequest(t, `{"conversation_id":"c-1","query":""}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
}

func TestHandleStream_CustomRoster(t *testing.T) {
	runner := &scriptedRunner{}
	h := NewDeliberateHandler(runner, zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleStream(rec, streamRequest(t,
		`{"conversation_id":"c-1","query":"q","council_models":["vendor/a","vendor/b"],"chairman_model":"vendor/chair"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"vendor/a", "vendor/b"}, runner.gotReq.CouncilModels)
	assert.Equal(t, "vendor/chair", runner.gotReq.ChairmanModel)
}
