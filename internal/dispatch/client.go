// Package dispatch delivers queued operations to the messaging backend over
// HTTP and decides which failures are worth retrying.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/outbox/internal/core/clock"
	"github.com/vietddude/outbox/internal/core/domain"
	"github.com/vietddude/outbox/internal/metrics"
	"github.com/vietddude/outbox/internal/queue"
)

// IdempotencyHeader carries the queue entry id so retried deliveries can be
// deduplicated server side.
const IdempotencyHeader = "Idempotency-Key"

// ErrThrottled is returned while the backend has asked the client to wait.
var ErrThrottled = errors.New("dispatch throttled by server")

// Config configures the HTTP dispatcher.
type Config struct {
	BaseURL   string            `yaml:"base_url"`
	Timeout   time.Duration     `yaml:"timeout"`
	AuthToken string            `yaml:"auth_token"`
	Headers   map[string]string `yaml:"headers"`
}

// Client posts operation payloads to BaseURL/<operation_type>.
type Client struct {
	cfg        Config
	httpClient *http.Client
	throttle   *Throttle
	log        *slog.Logger
}

// NewClient creates a dispatcher.
func NewClient(cfg Config, clk clock.Clock, log *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("dispatch base_url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		throttle: NewThrottle(clk),
		log:      log,
	}, nil
}

// Register installs a processor for every operation type.
func (c *Client) Register(q *queue.Queue) error {
	return errors.Join(
		queue.Handle(q, deliver[domain.StatusUpdate](c)),
		queue.Handle(q, deliver[domain.ReadReceiptBatch](c)),
		queue.Handle(q, deliver[domain.MessageDelivered](c)),
		queue.Handle(q, deliver[domain.PresencePulse](c)),
		queue.Handle(q, deliver[domain.TypingPulse](c)),
	)
}

func deliver[P domain.Payload](c *Client) func(context.Context, domain.QueueEntry, P) (bool, error) {
	return func(ctx context.Context, entry domain.QueueEntry, payload P) (bool, error) {
		return c.Send(ctx, entry.ID, payload)
	}
}

// Send delivers payload. It reports true when the entry is settled, either
// delivered or permanently rejected, and false when it should be retried.
func (c *Client) Send(ctx context.Context, id string, payload domain.Payload) (bool, error) {
	op := payload.OperationType()

	if wait := c.throttle.Remaining(); wait > 0 {
		metrics.DispatchRequests.WithLabelValues(string(op), "throttled").Inc()
		return false, fmt.Errorf("%w: retry in %s", ErrThrottled, wait.Round(time.Second))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal %s payload: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/"+string(op), bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, id)
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.DispatchRequests.WithLabelValues(string(op), "error").Inc()
		return false, fmt.Errorf("dispatch %s: %w", op, err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	action := ClassifyStatus(resp.StatusCode)
	if action == ActionRetry && (resp.StatusCode == http.StatusTooManyRequests || DetectThrottlePattern(string(snippet))) {
		c.throttle.Record(resp.Header.Get("Retry-After"))
	}
	metrics.DispatchRequests.WithLabelValues(string(op), action.String()).Inc()

	switch action {
	case ActionDone:
		return true, nil
	case ActionDrop:
		c.log.Warn("Backend rejected operation, dropping",
			"operation", op,
			"id", id,
			"status", resp.StatusCode,
			"body", string(snippet))
		return true, nil
	default:
		return false, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}

// Throttle exposes the server back-pressure state.
func (c *Client) Throttle() *Throttle {
	return c.throttle
}
