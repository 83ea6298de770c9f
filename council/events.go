package council

import "time"

// EventType names one progress event. Events are emitted in the order they
// are determined, push-based and single-pass; there is no replay.
type EventType string

const (
	EventStage1Start         EventType = "stage1_start"
	EventStage1ModelComplete EventType = "stage1_model_complete"
	EventStage1ModelError    EventType = "stage1_model_error"
	EventStage1Complete      EventType = "stage1_complete"
	EventStage2Start         EventType = "stage2_start"
	EventStage2ModelComplete EventType = "stage2_model_complete"
	EventStage2ModelError    EventType = "stage2_model_error"
	EventStage2Complete      EventType = "stage2_complete"
	EventStage3Start         EventType = "stage3_start"
	EventStage3Complete      EventType = "stage3_complete"
	EventComplete            EventType = "complete"
	EventError               EventType = "error"
)

// Event is one progress notification. Only the fields relevant to the event
// type are populated.
type Event struct {
	Type           EventType         `json:"type"`
	DeliberationID string            `json:"deliberation_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Model          string            `json:"model,omitempty"`
	DisplayName    string            `json:"display_name,omitempty"`
	Response       string            `json:"response,omitempty"`
	Error          string            `json:"error,omitempty"`
	Members        []Member          `json:"members,omitempty"`
	Ranking        []AggregateEntry  `json:"ranking,omitempty"`
	LabelToModel   map[string]string `json:"label_to_model,omitempty"`
}

// Emitter receives progress events. Implementations must be safe for
// concurrent use: per-member events are emitted from concurrent fan-out
// goroutines. A slow or broken consumer must not block the pipeline.
type Emitter interface {
	Emit(event Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(event Event)

func (f EmitterFunc) Emit(event Event) { f(event) }

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}
