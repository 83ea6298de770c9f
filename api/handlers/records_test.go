package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/councilflow/api"
	"github.com/BaSui01/councilflow/council"
	"github.com/BaSui01/councilflow/types"
)

type fakeReader struct {
	records  map[string]*council.Deliberation
	listed   []council.Deliberation
	gotLimit int
}

func (f *fakeReader) GetDeliberation(ctx context.Context, id string) (*council.Deliberation, error) {
	if d, ok := f.records[id]; ok {
		return d, nil
	}
	return nil, types.NewError(types.ErrNotFound, "deliberation not found")
}

func (f *fakeReader) ListByConversation(ctx context.Context, conversationID string, limit int) ([]council.Deliberation, error) {
	f.gotLimit = limit
	return f.listed, nil
}

func recordsMux(h *RecordsHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/deliberations/{id}", h.HandleGet)
	mux.HandleFunc("GET /api/v1/conversations/{id}/deliberations", h.HandleList)
	return mux
}

func TestRecordsHandler_Get(t *testing.T) {
	reader := &fakeReader{records: map[string]*council.Deliberation{
		"d-1": {
			ID:             "d-1",
			ConversationID: "c-1",
			Query:          "what changed",
			State:          council.StateComplete,
		},
	}}
	mux := recordsMux(NewRecordsHandler(reader, zap.NewNop()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/deliberations/d-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.True(t, resp.Success)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var got council.Deliberation
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "d-1", got.ID)
	assert.Equal(t, council.StateComplete, got.State)
}

func TestRecordsHandler_GetNotFound(t *testing.T) {
	mux := recordsMux(NewRecordsHandler(&fakeReader{}, zap.NewNop()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/deliberations/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrNotFound), resp.Error.Code)
}

func TestRecordsHandler_List(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	reader := &fakeReader{listed: []council.Deliberation{
		{ID: "d-2", ConversationID: "c-1", Query: "later", State: council.StateComplete, CreatedAt: now, UpdatedAt: now},
		{ID: "d-1", ConversationID: "c-1", Query: "earlier", State: council.StateFailed, Error: "timed out", CreatedAt: now, UpdatedAt: now},
	}}
	mux := recordsMux(NewRecordsHandler(reader, zap.NewNop()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/c-1/deliberations?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, reader.gotLimit)

	resp := decodeEnvelope(t, rec)
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var got []api.DeliberationSummary
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "d-2", got[0].ID)
	assert.Equal(t, "failed", got[1].State)
	assert.Equal(t, "timed out", got[1].Error)
}

func TestRecordsHandler_ListBadLimit(t *testing.T) {
	mux := recordsMux(NewRecordsHandler(&fakeReader{}, zap.NewNop()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/c-1/deliberations?limit=nope", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
