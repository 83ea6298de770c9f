// Package metering implements the credit guard consulted by the deliberation
// pipeline. Authorize gates a deliberation before any model is called; Record
// accounts for every model call that produced billable output.
package metering

import "context"

// Authorization is the result of an Authorize call.
type Authorization struct {
	Allowed            bool   `json:"allowed"`
	HasUnlimitedAccess bool   `json:"has_unlimited_access"`
	Reason             string `json:"reason,omitempty"`
}

// Usage describes one billable model call.
type Usage struct {
	UserID        string
	Model         string
	PromptText    string
	GeneratedText string
	// Feature tags the pipeline stage that produced the output.
	Feature string
}

// Guard authorizes work and records usage. Implementations must be safe for
// concurrent use; Record is called from concurrent stage fan-outs.
type Guard interface {
	Authorize(ctx context.Context, userID string) (Authorization, error)
	Record(ctx context.Context, usage Usage) error
}

// AllowAll is a Guard that admits everything and records nothing. Used when
// metering is disabled.
type AllowAll struct{}

// Authorize always allows.
func (AllowAll) Authorize(ctx context.Context, userID string) (Authorization, error) {
	return Authorization{Allowed: true, HasUnlimitedAccess: true}, nil
}

// Record is a no-op.
func (AllowAll) Record(ctx context.Context, usage Usage) error { return nil }
