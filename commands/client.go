// Package commands is the mutation side of the board contract: it builds
// idempotent command payloads and submits them to the board API. Calls are
// success/failure only; there is no partial-success contract.
package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

const commandsPath = "/api/commands"

// Client issues board mutations over HTTP. It implements the board package's
// MoveMutator, ReorderMutator and DependencyMutator interfaces.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *log.Logger

	maxAttempts  int
	retryInitial time.Duration
	retryMax     time.Duration
}

// Option adjusts a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets the transient-failure retry budget and backoff window.
func WithRetry(maxAttempts int, initial, max time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.retryInitial = initial
		c.retryMax = max
	}
}

// New creates a Client for the board API at baseURL. The bearer token is
// passed through opaquely; verifying it is the server's job.
func New(baseURL, token string, logger *log.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = log.StandardLogger()
	}
	c := &Client{
		baseURL:      baseURL,
		token:        token,
		http:         &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
		maxAttempts:  3,
		retryInitial: 250 * time.Millisecond,
		retryMax:     2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MoveTask moves a task to another column. No destination index travels with
// the move.
func (c *Client) MoveTask(ctx context.Context, taskID string, target domain.Status) error {
	return c.submit(ctx, domain.CommandMoveTask, domain.MoveTaskPayload{
		TaskID:       taskID,
		TargetStatus: target,
	})
}

// ReorderTask repositions a task within its column; the server recomputes
// ordinal positions for the affected range.
func (c *Client) ReorderTask(ctx context.Context, taskID string, status domain.Status, newIndex int) error {
	return c.submit(ctx, domain.CommandReorderTask, domain.ReorderTaskPayload{
		TaskID:   taskID,
		Status:   status,
		NewIndex: newIndex,
	})
}

// AddDependency records that taskID depends on dependsOnID.
func (c *Client) AddDependency(ctx context.Context, taskID, dependsOnID string) error {
	return c.submit(ctx, domain.CommandAddDependency, domain.DependencyPayload{
		TaskID:      taskID,
		DependsOnID: dependsOnID,
	})
}

// RemoveDependency deletes the depends-on edge.
func (c *Client) RemoveDependency(ctx context.Context, taskID, dependsOnID string) error {
	return c.submit(ctx, domain.CommandRemoveDependency, domain.DependencyPayload{
		TaskID:      taskID,
		DependsOnID: dependsOnID,
	})
}

func (c *Client) submit(ctx context.Context, cmdType string, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", cmdType, err)
	}
	key := uuid.NewString()
	cmd := domain.Command{
		ID:             key,
		IdempotencyKey: key,
		EntityType:     domain.EntityTypeTask,
		Type:           cmdType,
		Data:           data,
		Timestamp:      nextTimestamp(),
	}
	body, err := sonic.Marshal([]domain.Command{cmd})
	if err != nil {
		return fmt.Errorf("encode command batch: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := retryBackoff(attempt-1, c.retryInitial, c.retryMax)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		retryable, err := c.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		c.logger.WithError(err).WithFields(log.Fields{
			"type":    cmdType,
			"attempt": attempt,
		}).Warn("command submission failed")
	}
	return fmt.Errorf("%s: %w", cmdType, lastErr)
}

// post returns whether the failure is worth retrying. 4xx responses are
// terminal; 5xx and transport errors are transient.
func (c *Client) post(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+commandsPath, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("command API returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	return resp.StatusCode >= 500, err
}

// retryBackoff doubles the initial delay per attempt, caps it at max and
// spreads submissions out with up to 20% jitter.
func retryBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
