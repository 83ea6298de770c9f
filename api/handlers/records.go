package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/councilflow/api"
	"github.com/BaSui01/councilflow/council"
	"github.com/BaSui01/councilflow/types"
)

// DeliberationReader is the read side of the record store. store.Gorm
// implements it.
type DeliberationReader interface {
	GetDeliberation(ctx context.Context, id string) (*council.Deliberation, error)
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]council.Deliberation, error)
}

// RecordsHandler serves persisted deliberation records.
type RecordsHandler struct {
	reader DeliberationReader
	logger *zap.Logger
}

// NewRecordsHandler creates the read handler.
func NewRecordsHandler(reader DeliberationReader, logger *zap.Logger) *RecordsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordsHandler{
		reader: reader,
		logger: logger.With(zap.String("component", "records_handler")),
	}
}

// HandleGet implements GET /api/v1/deliberations/{id}: the full record with
// every stage payload.
func (h *RecordsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, "deliberation id is required"), h.logger)
		return
	}

	d, err := h.reader.GetDeliberation(r.Context(), id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, d)
}

// HandleList implements GET /api/v1/conversations/{id}/deliberations: a
// newest-first page of summaries without stage payloads.
func (h *RecordsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if conversationID == "" {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, "conversation id is required"), h.logger)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, r, types.NewError(types.ErrInvalidRequest, "limit must be a non-negative integer"), h.logger)
			return
		}
		limit = n
	}

	records, err := h.reader.ListByConversation(r.Context(), conversationID, limit)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	summaries := make([]api.DeliberationSummary, 0, len(records))
	for _, d := range records {
		summaries = append(summaries, api.SummaryFromDeliberation(d))
	}
	WriteSuccess(w, r, summaries)
}
