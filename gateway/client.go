// Package gateway implements the model invocation client. It sends one
// prompt to one named model through an OpenAI-compatible gateway and
// normalizes gateway failures into the unified error type.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/councilflow/config"
	"github.com/BaSui01/councilflow/types"
)

// Invoker is the single-call contract consumed by the council orchestrators.
// Implementations must abort the in-flight request when the timeout expires
// and must never retry; retry policy belongs to the caller.
type Invoker interface {
	Invoke(ctx context.Context, model string, messages []types.Message, timeout time.Duration) (string, error)
}

// Client invokes models through an OpenAI-compatible chat completions
// endpoint (OpenRouter and compatible gateways).
type Client struct {
	cfg     config.GatewayConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a gateway client. The underlying http.Client carries no global
// timeout; every call is bounded by its own context deadline.
func New(cfg config.GatewayConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.RequestBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: limiter,
		logger:  logger.With(zap.String("component", "gateway")),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type gatewayErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Invoke sends one prompt to one model and returns the completion text.
// A deadline overrun yields a TIMEOUT error carrying the budget; a non-2xx
// gateway response yields a GATEWAY_ERROR carrying status and body text.
func (c *Client) Invoke(ctx context.Context, model string, messages []types.Message, timeout time.Duration) (string, error) {
	if model == "" {
		return "", types.NewError(types.ErrInvalidRequest, "model is required")
	}
	if len(messages) == 0 {
		return "", types.NewError(types.ErrInvalidRequest, "messages cannot be empty")
	}
	if timeout <= 0 {
		return "", types.NewError(types.ErrInvalidRequest, "timeout must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", c.mapTransportError(model, timeout, err)
		}
	}

	body := chatRequest{
		Model:     model,
		Messages:  toChatMessages(messages),
		MaxTokens: c.cfg.MaxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", types.NewError(types.ErrInternalError, "encode gateway request").WithCause(err)
	}

	endpoint := fmt.Sprintf("%s/chat/completions", strings.TrimRight(c.cfg.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", types.NewError(types.ErrInternalError, "build gateway request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", c.mapTransportError(model, timeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := readErrMsg(resp.Body)
		c.logger.Warn("gateway error",
			zap.String("model", model),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", time.Since(start)),
		)
		return "", types.NewGatewayError(model, resp.StatusCode, msg)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", types.NewGatewayError(model, resp.StatusCode, "malformed response body").WithCause(err)
	}
	if len(cr.Choices) == 0 {
		return "", types.NewGatewayError(model, resp.StatusCode, "response contained no choices")
	}

	c.logger.Debug("gateway completion",
		zap.String("model", model),
		zap.Int("completion_tokens", cr.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)),
	)

	return cr.Choices[0].Message.Content, nil
}

// mapTransportError distinguishes our own deadline expiring from other
// network failures. Cancellation of the parent context is surfaced as-is.
func (c *Client) mapTransportError(model string, budget time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewTimeoutError(model, budget).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// url.Error wraps the context error for aborted requests.
	if strings.Contains(err.Error(), context.DeadlineExceeded.Error()) {
		return types.NewTimeoutError(model, budget).WithCause(err)
	}
	return types.NewGatewayError(model, http.StatusBadGateway, err.Error()).WithCause(err)
}

func toChatMessages(messages []types.Message) []chatMessage {
	out := make([]chatMessage, len(messages))
	for i, m := range messages {
		out[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	var errResp gatewayErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}
