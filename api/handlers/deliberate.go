package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/councilflow/api"
	"github.com/BaSui01/councilflow/council"
	"github.com/BaSui01/councilflow/types"
)

// Runner starts one deliberation and pushes progress to the emitter. The
// council pipeline implements it; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, req council.Request, emit council.Emitter) (*council.Deliberation, error)
}

// DeliberateHandler serves the deliberation stream over SSE and WebSocket.
type DeliberateHandler struct {
	runner Runner
	logger *zap.Logger
}

// NewDeliberateHandler creates the stream handler.
func NewDeliberateHandler(runner Runner, logger *zap.Logger) *DeliberateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliberateHandler{
		runner: runner,
		logger: logger.With(zap.String("component", "deliberate_handler")),
	}
}

// eventBuffer sizes the channel between the pipeline and the stream writer.
// Large enough that a briefly stalled consumer never backpressures a stage
// fan-out.
const eventBuffer = 256

// startRun launches the pipeline on a context detached from the request so
// a client disconnect never cancels backend work. The returned channel
// closes when the run is over.
func (h *DeliberateHandler) startRun(r *http.Request, req council.Request) <-chan council.Event {
	events := make(chan council.Event, eventBuffer)
	detached := context.WithoutCancel(r.Context())

	go func() {
		defer close(events)
		if _, err := h.runner.Run(detached, req, council.EmitterFunc(func(e council.Event) {
			events <- e
		})); err != nil {
			// Terminal failures were already emitted as error events; this
			// log is for operators, not for the stream.
			h.logger.Warn("deliberation run failed", zap.Error(err))
		}
	}()
	return events
}

// HandleStream implements POST /api/v1/deliberations/stream: an SSE stream
// of progress events ending in [DONE].
func (h *DeliberateHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	var body api.DeliberateRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}

	userID, _ := types.UserID(r.Context())
	req := body.ToCouncilRequest(userID)
	if err := req.Validate(); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, r, types.NewError(types.ErrInternalError, "streaming unsupported"), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := h.startRun(r, req)

	// After a write failure the loop keeps draining so the pipeline can
	// finish and persist; the stream is single-pass with no replay.
	writable := true
	for ev := range events {
		if !writable {
			continue
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("encode event", zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			h.logger.Debug("client disconnected mid-stream", zap.Error(err))
			writable = false
			continue
		}
		flusher.Flush()
	}

	if writable {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

// HandleWebSocket implements GET /api/v1/deliberations/stream/ws: the same
// event stream over a WebSocket. The first client message carries the
// DeliberateRequest JSON.
func (h *DeliberateHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	var body api.DeliberateRequest
	readCtx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	err = wsjson.Read(readCtx, conn, &body)
	cancel()
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "expected a deliberate request")
		return
	}

	userID, _ := types.UserID(r.Context())
	req := body.ToCouncilRequest(userID)
	if err := req.Validate(); err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	events := h.startRun(r, req)
	detached := context.WithoutCancel(r.Context())

	writable := true
	for ev := range events {
		if !writable {
			continue
		}
		writeCtx, cancel := context.WithTimeout(detached, 10*time.Second)
		err := wsjson.Write(writeCtx, conn, ev)
		cancel()
		if err != nil {
			h.logger.Debug("websocket client gone mid-stream", zap.Error(err))
			writable = false
		}
	}

	if writable {
		conn.Close(websocket.StatusNormalClosure, "")
	}
}
