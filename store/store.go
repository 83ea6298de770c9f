package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/councilflow/config"
	"github.com/BaSui01/councilflow/council"
	"github.com/BaSui01/councilflow/types"
)

// Gorm is the gorm-backed store. It implements council.Store for the
// pipeline's writes and the read queries behind the record API.
type Gorm struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects per the configured driver and applies the pool settings.
// Writes here are single statements, so the default per-write transaction
// is skipped.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.DSN()), gormCfg)
	case "mysql":
		db, err = gorm.Open(mysql.Open(cfg.DSN()), gormCfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(cfg.DSN()), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access connection pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// New wraps an open gorm handle.
func New(db *gorm.DB, logger *zap.Logger) *Gorm {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gorm{db: db, logger: logger.With(zap.String("component", "store"))}
}

// AutoMigrate creates the schema directly from the models. Production
// deployments run the versioned migrations instead; this path serves sqlite
// and tests.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&DeliberationRecord{},
		&Stage1ResponseRecord{},
		&Stage2EvaluationRecord{},
		&Stage3ResponseRecord{},
	)
}

// CreateDeliberation inserts the root row. Re-creating an existing
// deliberation is a no-op.
func (g *Gorm) CreateDeliberation(ctx context.Context, d *council.Deliberation) error {
	members, err := json.Marshal(d.Members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	rec := DeliberationRecord{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		QueryID:        d.QueryID,
		UserID:         d.UserID,
		Query:          d.Query,
		ChairmanModel:  d.ChairmanModel,
		MembersJSON:    string(members),
		State:          string(d.State),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
}

// SaveStage1Response upserts one member's settled answer.
func (g *Gorm) SaveStage1Response(ctx context.Context, deliberationID string, r council.Stage1Response) error {
	rec := Stage1ResponseRecord{
		DeliberationID: deliberationID,
		Model:          r.Model,
		DisplayName:    r.DisplayName,
		Response:       r.Response,
		Status:         string(r.Status),
		Error:          r.Error,
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "deliberation_id"}, {Name: "model"}},
			DoUpdates: clause.AssignmentColumns([]string{"response", "status", "error", "updated_at"}),
		}).
		Create(&rec).Error
}

// SaveStage2Evaluation upserts one evaluator's critique.
func (g *Gorm) SaveStage2Evaluation(ctx context.Context, deliberationID string, e council.Stage2Evaluation) error {
	ranking, err := json.Marshal(e.ParsedRanking)
	if err != nil {
		return fmt.Errorf("encode parsed ranking: %w", err)
	}
	rec := Stage2EvaluationRecord{
		DeliberationID: deliberationID,
		Model:          e.Model,
		DisplayName:    e.DisplayName,
		Evaluation:     e.Evaluation,
		RankingJSON:    string(ranking),
		Status:         string(e.Status),
		Error:          e.Error,
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "deliberation_id"}, {Name: "model"}},
			DoUpdates: clause.AssignmentColumns([]string{"evaluation", "ranking_json", "status", "error", "updated_at"}),
		}).
		Create(&rec).Error
}

// SaveAggregate stores the rendered consensus and label map on the root row.
func (g *Gorm) SaveAggregate(ctx context.Context, deliberationID string, entries []council.AggregateEntry, labelToModel map[string]string) error {
	aggregate, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode aggregate: %w", err)
	}
	labels, err := json.Marshal(labelToModel)
	if err != nil {
		return fmt.Errorf("encode label map: %w", err)
	}
	return g.db.WithContext(ctx).
		Model(&DeliberationRecord{}).
		Where("id = ?", deliberationID).
		Updates(map[string]any{
			"aggregate_json": string(aggregate),
			"label_map_json": string(labels),
			"updated_at":     time.Now().UTC(),
		}).Error
}

// SaveStage3Response upserts the chairman synthesis.
func (g *Gorm) SaveStage3Response(ctx context.Context, deliberationID string, r council.Stage3Response) error {
	rec := Stage3ResponseRecord{
		DeliberationID: deliberationID,
		Model:          r.Model,
		DisplayName:    r.DisplayName,
		Response:       r.Response,
		Status:         string(r.Status),
		Error:          r.Error,
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "deliberation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"model", "display_name", "response", "status", "error", "updated_at"}),
		}).
		Create(&rec).Error
}

// MarkComplete records the terminal state and top-level error.
func (g *Gorm) MarkComplete(ctx context.Context, deliberationID string, state council.State, errText string) error {
	return g.db.WithContext(ctx).
		Model(&DeliberationRecord{}).
		Where("id = ?", deliberationID).
		Updates(map[string]any{
			"state":      string(state),
			"error":      errText,
			"updated_at": time.Now().UTC(),
		}).Error
}

// GetDeliberation loads one full deliberation with all stage results.
func (g *Gorm) GetDeliberation(ctx context.Context, id string) (*council.Deliberation, error) {
	var rec DeliberationRecord
	if err := g.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrNotFound, "deliberation not found")
		}
		return nil, fmt.Errorf("load deliberation: %w", err)
	}

	d, err := hydrate(rec)
	if err != nil {
		return nil, err
	}

	var stage1 []Stage1ResponseRecord
	if err := g.db.WithContext(ctx).
		Where("deliberation_id = ?", id).Order("id").Find(&stage1).Error; err != nil {
		return nil, fmt.Errorf("load stage1 responses: %w", err)
	}
	for _, r := range stage1 {
		d.Stage1 = append(d.Stage1, council.Stage1Response{
			Model:       r.Model,
			DisplayName: r.DisplayName,
			Response:    r.Response,
			Status:      council.StageStatus(r.Status),
			Error:       r.Error,
		})
	}

	var stage2 []Stage2EvaluationRecord
	if err := g.db.WithContext(ctx).
		Where("deliberation_id = ?", id).Order("id").Find(&stage2).Error; err != nil {
		return nil, fmt.Errorf("load stage2 evaluations: %w", err)
	}
	for _, e := range stage2 {
		eval := council.Stage2Evaluation{
			Model:       e.Model,
			DisplayName: e.DisplayName,
			Evaluation:  e.Evaluation,
			Status:      council.StageStatus(e.Status),
			Error:       e.Error,
		}
		if e.RankingJSON != "" {
			if err := json.Unmarshal([]byte(e.RankingJSON), &eval.ParsedRanking); err != nil {
				return nil, fmt.Errorf("decode parsed ranking: %w", err)
			}
		}
		d.Stage2 = append(d.Stage2, eval)
	}

	var stage3 []Stage3ResponseRecord
	if err := g.db.WithContext(ctx).
		Where("deliberation_id = ?", id).Limit(1).Find(&stage3).Error; err != nil {
		return nil, fmt.Errorf("load stage3 response: %w", err)
	}
	if len(stage3) > 0 {
		r := stage3[0]
		d.Stage3 = &council.Stage3Response{
			Model:       r.Model,
			DisplayName: r.DisplayName,
			Response:    r.Response,
			Status:      council.StageStatus(r.Status),
			Error:       r.Error,
		}
	}
	return d, nil
}

// ListByConversation returns deliberation summaries for one conversation,
// newest first. Stage rows are not loaded.
func (g *Gorm) ListByConversation(ctx context.Context, conversationID string, limit int) ([]council.Deliberation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var recs []DeliberationRecord
	if err := g.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list deliberations: %w", err)
	}

	out := make([]council.Deliberation, 0, len(recs))
	for _, rec := range recs {
		d, err := hydrate(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func hydrate(rec DeliberationRecord) (*council.Deliberation, error) {
	d := &council.Deliberation{
		ID:             rec.ID,
		ConversationID: rec.ConversationID,
		QueryID:        rec.QueryID,
		UserID:         rec.UserID,
		Query:          rec.Query,
		ChairmanModel:  rec.ChairmanModel,
		State:          council.State(rec.State),
		Error:          rec.Error,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
	if rec.MembersJSON != "" {
		if err := json.Unmarshal([]byte(rec.MembersJSON), &d.Members); err != nil {
			return nil, fmt.Errorf("decode members: %w", err)
		}
	}
	if rec.AggregateJSON != "" {
		if err := json.Unmarshal([]byte(rec.AggregateJSON), &d.Aggregate); err != nil {
			return nil, fmt.Errorf("decode aggregate: %w", err)
		}
	}
	if rec.LabelMapJSON != "" {
		if err := json.Unmarshal([]byte(rec.LabelMapJSON), &d.LabelToModel); err != nil {
			return nil, fmt.Errorf("decode label map: %w", err)
		}
	}
	return d, nil
}

var _ council.Store = (*Gorm)(nil)
