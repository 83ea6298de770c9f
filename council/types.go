// Package council implements the multi-model deliberation pipeline: one user
// query fanned out to a council of models, anonymous peer ranking of the
// answers, statistical aggregation of the rankings, and a chairman synthesis
// of the final answer, with incremental progress events throughout.
package council

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/councilflow/types"
)

// StageStatus is the lifecycle of one stage result. A result starts pending,
// settles exactly once, and is never updated again.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
)

// State is the pipeline state machine. Transitions are monotonic; a
// deliberation is never rolled back to an earlier stage.
type State string

const (
	StateCreated       State = "created"
	StateStage1Running State = "stage1_running"
	StateStage1Done    State = "stage1_done"
	StateStage2Running State = "stage2_running"
	StateStage2Done    State = "stage2_done"
	StateStage3Running State = "stage3_running"
	StateComplete      State = "complete"
	StateFailed        State = "failed"
)

// Member identifies one council participant. Membership is fixed for the
// lifetime of a deliberation.
type Member struct {
	Model       string `json:"model"`
	DisplayName string `json:"display_name"`
}

// MemberFromModel derives a display name from a model slug, e.g.
// "anthropic/claude-opus-4-5" becomes "claude-opus-4-5".
func MemberFromModel(model string) Member {
	name := model
	if i := strings.LastIndex(model, "/"); i >= 0 && i+1 < len(model) {
		name = model[i+1:]
	}
	return Member{Model: model, DisplayName: name}
}

// Stage1Response is one member's answer to the original query. Response is
// empty when the call failed.
type Stage1Response struct {
	Model       string      `json:"model"`
	DisplayName string      `json:"display_name"`
	Response    string      `json:"response"`
	Status      StageStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
}

// Stage2Evaluation is one evaluator's critique of all labeled Stage 1
// answers. ParsedRanking is empty, not an error, when no ranking line could
// be recovered from the evaluation text.
type Stage2Evaluation struct {
	Model         string      `json:"model"`
	DisplayName   string      `json:"display_name"`
	Evaluation    string      `json:"evaluation"`
	ParsedRanking []string    `json:"parsed_ranking"`
	Status        StageStatus `json:"status"`
	Error         string      `json:"error,omitempty"`
}

// AggregateEntry is the consensus standing of one Stage 1 model.
type AggregateEntry struct {
	Model         string  `json:"model"`
	DisplayName   string  `json:"display_name"`
	AverageRank   float64 `json:"average_rank"`
	RankingsCount int     `json:"rankings_count"`
}

// Stage3Response is the chairman's synthesized answer.
type Stage3Response struct {
	Model       string      `json:"model"`
	DisplayName string      `json:"display_name"`
	Response    string      `json:"response"`
	Status      StageStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
}

// Deliberation is the unit of work for one query within one conversation.
// It is created once, mutated exclusively by the pipeline driver, and never
// deleted by this engine.
type Deliberation struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	QueryID        string            `json:"query_id,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	Query          string            `json:"query"`
	ChairmanModel  string            `json:"chairman_model"`
	Members        []Member          `json:"members"`
	Stage1         []Stage1Response  `json:"stage1,omitempty"`
	Stage2         []Stage2Evaluation `json:"stage2,omitempty"`
	Aggregate      []AggregateEntry  `json:"aggregate,omitempty"`
	LabelToModel   map[string]string `json:"label_to_model,omitempty"`
	Stage3         *Stage3Response   `json:"stage3,omitempty"`
	State          State             `json:"state"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Request starts one deliberation.
type Request struct {
	ConversationID string   `json:"conversation_id"`
	QueryID        string   `json:"query_id,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
	Query          string   `json:"query"`
	CouncilModels  []string `json:"council_models"`
	ChairmanModel  string   `json:"chairman_model"`
}

// Validate checks the request invariants. Ranking needs two council members
// in practice, but a single-member council is accepted and fails later with
// INSUFFICIENT_RESPONSES so the failure is observable on the stream.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return types.NewError(types.ErrInvalidRequest, "query is required")
	}
	if len(r.CouncilModels) == 0 {
		return types.NewError(types.ErrInvalidRequest, "at least one council model is required")
	}
	if r.ChairmanModel == "" {
		return types.NewError(types.ErrInvalidRequest, "chairman model is required")
	}
	seen := make(map[string]struct{}, len(r.CouncilModels))
	for _, m := range r.CouncilModels {
		if m == "" {
			return types.NewError(types.ErrInvalidRequest, "council model slug cannot be empty")
		}
		if _, dup := seen[m]; dup {
			return types.NewError(types.ErrInvalidRequest, "duplicate council model: "+m)
		}
		seen[m] = struct{}{}
	}
	return nil
}

func newDeliberation(req Request) *Deliberation {
	members := make([]Member, len(req.CouncilModels))
	for i, m := range req.CouncilModels {
		members[i] = MemberFromModel(m)
	}
	now := time.Now().UTC()
	return &Deliberation{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		QueryID:        req.QueryID,
		UserID:         req.UserID,
		Query:          req.Query,
		ChairmanModel:  req.ChairmanModel,
		Members:        members,
		State:          StateCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Store persists deliberation progress. Each method is idempotent with
// respect to being called once per logical update. The pipeline never reads
// back its own writes to decide control flow; all state stays in memory for
// the duration of a run.
type Store interface {
	CreateDeliberation(ctx context.Context, d *Deliberation) error
	SaveStage1Response(ctx context.Context, deliberationID string, r Stage1Response) error
	SaveStage2Evaluation(ctx context.Context, deliberationID string, e Stage2Evaluation) error
	SaveAggregate(ctx context.Context, deliberationID string, entries []AggregateEntry, labelToModel map[string]string) error
	SaveStage3Response(ctx context.Context, deliberationID string, r Stage3Response) error
	MarkComplete(ctx context.Context, deliberationID string, state State, errText string) error
}

// NopStore discards everything. Useful for tests and for running the engine
// without a database.
type NopStore struct{}

func (NopStore) CreateDeliberation(context.Context, *Deliberation) error         { return nil }
func (NopStore) SaveStage1Response(context.Context, string, Stage1Response) error { return nil }
func (NopStore) SaveStage2Evaluation(context.Context, string, Stage2Evaluation) error {
	return nil
}
func (NopStore) SaveAggregate(context.Context, string, []AggregateEntry, map[string]string) error {
	return nil
}
func (NopStore) SaveStage3Response(context.Context, string, Stage3Response) error { return nil }
func (NopStore) MarkComplete(context.Context, string, State, string) error        { return nil }
