// Package api defines the HTTP request and response shapes for the
// deliberation service.
package api

import (
	"github.com/BaSui01/councilflow/council"
)

// DeliberateRequest starts one deliberation. CouncilModels and
// ChairmanModel fall back to the default roster when omitted.
type DeliberateRequest struct {
	ConversationID string   `json:"conversation_id"`
	QueryID        string   `json:"query_id,omitempty"`
	Query          string   `json:"query"`
	CouncilModels  []string `json:"council_models,omitempty"`
	ChairmanModel  string   `json:"chairman_model,omitempty"`
}

// ToCouncilRequest resolves defaults and attaches the authenticated user.
func (r DeliberateRequest) ToCouncilRequest(userID string) council.Request {
	models := r.CouncilModels
	if len(models) == 0 {
		models = append([]string(nil), council.DefaultCouncilModels...)
	}
	chairman := r.ChairmanModel
	if chairman == "" {
		chairman = council.DefaultChairmanModel
	}
	return council.Request{
		ConversationID: r.ConversationID,
		QueryID:        r.QueryID,
		UserID:         userID,
		Query:          r.Query,
		CouncilModels:  models,
		ChairmanModel:  chairman,
	}
}

// DeliberationSummary is the list-view shape: the root record without stage
// payloads.
type DeliberationSummary struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
	State          string `json:"state"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// SummaryFromDeliberation projects a full record to its summary.
func SummaryFromDeliberation(d council.Deliberation) DeliberationSummary {
	return DeliberationSummary{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		Query:          d.Query,
		State:          string(d.State),
		Error:          d.Error,
		CreatedAt:      d.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt:      d.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

// VersionInfo reports build metadata on /version.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
}
