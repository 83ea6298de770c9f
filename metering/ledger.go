package metering

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/councilflow/config"
)

// Ledger is the Redis-backed Guard implementation. Balances are debited in
// credits priced per thousand metered tokens; users flagged unlimited are
// admitted without a balance check and without debits, but their usage is
// still recorded.
type Ledger struct {
	client  *redis.Client
	cfg     config.MeteringConfig
	logger  *zap.Logger
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
}

// usageRecord is the JSON shape pushed onto the per-user usage list.
type usageRecord struct {
	Model      string    `json:"model"`
	Feature    string    `json:"feature"`
	Tokens     int       `json:"tokens"`
	Credits    float64   `json:"credits"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewLedger creates a ledger on an existing Redis client. The tiktoken
// encoding is initialized lazily on first Record; it may download encoding
// data.
func NewLedger(client *redis.Client, cfg config.MeteringConfig, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "councilflow:"
	}
	if cfg.CreditsPerKiloToken <= 0 {
		cfg.CreditsPerKiloToken = 1.0
	}
	return &Ledger{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "metering")),
	}
}

func (l *Ledger) creditsKey(userID string) string   { return l.cfg.KeyPrefix + "credits:" + userID }
func (l *Ledger) unlimitedKey(userID string) string { return l.cfg.KeyPrefix + "unlimited:" + userID }
func (l *Ledger) usageKey(userID string) string     { return l.cfg.KeyPrefix + "usage:" + userID }
func (l *Ledger) tokensKey(userID string) string    { return l.cfg.KeyPrefix + "tokens:" + userID }

// Authorize admits unlimited users unconditionally and everyone else only
// while their balance is positive. A missing balance reads as zero.
func (l *Ledger) Authorize(ctx context.Context, userID string) (Authorization, error) {
	if userID == "" {
		return Authorization{Allowed: false, Reason: "no user identity"}, nil
	}

	unlimited, err := l.client.Get(ctx, l.unlimitedKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return Authorization{}, fmt.Errorf("read unlimited flag: %w", err)
	}
	if unlimited == "1" {
		return Authorization{Allowed: true, HasUnlimitedAccess: true}, nil
	}

	balance, err := l.Balance(ctx, userID)
	if err != nil {
		return Authorization{}, err
	}
	if balance <= 0 {
		return Authorization{Allowed: false, Reason: "insufficient credits"}, nil
	}
	return Authorization{Allowed: true}, nil
}

// Record accounts for one billable model call: counts prompt and completion
// tokens, debits the priced credits, and appends a usage record. Unlimited
// users are not debited.
func (l *Ledger) Record(ctx context.Context, usage Usage) error {
	if usage.UserID == "" {
		return nil
	}

	tokens := l.countTokens(usage.PromptText) + l.countTokens(usage.GeneratedText)
	credits := float64(tokens) / 1000.0 * l.cfg.CreditsPerKiloToken

	unlimited, err := l.client.Get(ctx, l.unlimitedKey(usage.UserID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("read unlimited flag: %w", err)
	}

	rec, err := json.Marshal(usageRecord{
		Model:      usage.Model,
		Feature:    usage.Feature,
		Tokens:     tokens,
		Credits:    credits,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal usage record: %w", err)
	}

	pipe := l.client.TxPipeline()
	if unlimited != "1" {
		pipe.IncrByFloat(ctx, l.creditsKey(usage.UserID), -credits)
	}
	pipe.IncrBy(ctx, l.tokensKey(usage.UserID), int64(tokens))
	pipe.LPush(ctx, l.usageKey(usage.UserID), rec)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}

	l.logger.Debug("usage recorded",
		zap.String("user_id", usage.UserID),
		zap.String("model", usage.Model),
		zap.String("feature", usage.Feature),
		zap.Int("tokens", tokens),
	)
	return nil
}

// Balance returns the user's current credit balance; zero when no balance
// key exists.
func (l *Ledger) Balance(ctx context.Context, userID string) (float64, error) {
	raw, err := l.client.Get(ctx, l.creditsKey(userID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	balance, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", raw, err)
	}
	return balance, nil
}

// Grant adds credits to a user's balance.
func (l *Ledger) Grant(ctx context.Context, userID string, credits float64) error {
	return l.client.IncrByFloat(ctx, l.creditsKey(userID), credits).Err()
}

// SetUnlimited flips the user's unlimited-access flag.
func (l *Ledger) SetUnlimited(ctx context.Context, userID string, unlimited bool) error {
	if unlimited {
		return l.client.Set(ctx, l.unlimitedKey(userID), "1", 0).Err()
	}
	return l.client.Del(ctx, l.unlimitedKey(userID)).Err()
}

// countTokens measures text with the configured tiktoken encoding. When the
// encoding cannot be initialized the byte-length/4 estimate keeps accounting
// alive rather than silently metering zero.
func (l *Ledger) countTokens(text string) int {
	if text == "" {
		return 0
	}
	l.encOnce.Do(func() {
		enc, err := tiktoken.EncodingForModel(l.cfg.TokenizerModel)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		l.enc, l.encErr = enc, err
		if err != nil {
			l.logger.Warn("tokenizer init failed, falling back to byte estimate", zap.Error(err))
		}
	})
	if l.encErr != nil || l.enc == nil {
		return len(text) / 4
	}
	return len(l.enc.Encode(text, nil, nil))
}

// Guard interface conformance.
var _ Guard = (*Ledger)(nil)
