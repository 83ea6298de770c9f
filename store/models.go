// Package store persists deliberation records and per-stage results with
// gorm. It implements the council.Store write interface plus the read
// queries behind the record API. Stage writes are upserts keyed by the
// deliberation and model, so retried saves stay idempotent.
package store

import "time"

// DeliberationRecord is the root row, one per deliberation. Aggregate and
// label map are JSON-encoded columns; they are derived data rendered for
// readers, never consulted by the pipeline.
type DeliberationRecord struct {
	ID             string `gorm:"primaryKey;size:36"`
	ConversationID string `gorm:"size:64;index:idx_deliberations_conversation"`
	QueryID        string `gorm:"size:64"`
	UserID         string `gorm:"size:64;index:idx_deliberations_user"`
	Query          string `gorm:"type:text"`
	ChairmanModel  string `gorm:"size:128"`
	MembersJSON    string `gorm:"type:text;column:members_json"`
	AggregateJSON  string `gorm:"type:text;column:aggregate_json"`
	LabelMapJSON   string `gorm:"type:text;column:label_map_json"`
	State          string `gorm:"size:32;index:idx_deliberations_state"`
	Error          string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (DeliberationRecord) TableName() string { return "deliberations" }

// Stage1ResponseRecord is one member's settled answer. Unique per
// (deliberation, model) so saving the same settle twice is a no-op update.
type Stage1ResponseRecord struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	DeliberationID string `gorm:"size:36;uniqueIndex:uq_stage1_deliberation_model,priority:1"`
	Model          string `gorm:"size:128;uniqueIndex:uq_stage1_deliberation_model,priority:2"`
	DisplayName    string `gorm:"size:128"`
	Response       string `gorm:"type:text"`
	Status         string `gorm:"size:16"`
	Error          string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (Stage1ResponseRecord) TableName() string { return "stage1_responses" }

// Stage2EvaluationRecord is one evaluator's critique with its parsed
// ranking JSON-encoded alongside the raw text.
type Stage2EvaluationRecord struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	DeliberationID string `gorm:"size:36;uniqueIndex:uq_stage2_deliberation_model,priority:1"`
	Model          string `gorm:"size:128;uniqueIndex:uq_stage2_deliberation_model,priority:2"`
	DisplayName    string `gorm:"size:128"`
	Evaluation     string `gorm:"type:text"`
	RankingJSON    string `gorm:"type:text;column:ranking_json"`
	Status         string `gorm:"size:16"`
	Error          string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (Stage2EvaluationRecord) TableName() string { return "stage2_evaluations" }

// Stage3ResponseRecord is the chairman synthesis, exactly one per
// deliberation.
type Stage3ResponseRecord struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	DeliberationID string `gorm:"size:36;uniqueIndex:uq_stage3_deliberation"`
	Model          string `gorm:"size:128"`
	DisplayName    string `gorm:"size:128"`
	Response       string `gorm:"type:text"`
	Status         string `gorm:"size:16"`
	Error          string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (Stage3ResponseRecord) TableName() string { return "stage3_responses" }
