package commands

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"board-sync/domain"
)

// wireCommand mirrors the command envelope as the server decodes it.
type wireCommand struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotencyKey"`
	EntityType     string          `json:"entityType"`
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
	Timestamp      int64           `json:"timestamp"`
}

type capturedRequest struct {
	path     string
	headers  http.Header
	commands []wireCommand
}

func newCaptureServer(t *testing.T, statuses ...int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var captured []capturedRequest
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}
		var cmds []wireCommand
		if err := json.Unmarshal(body, &cmds); err != nil {
			t.Errorf("decode command batch: %v", err)
		}
		mu.Lock()
		captured = append(captured, capturedRequest{
			path:     r.URL.Path,
			headers:  r.Header.Clone(),
			commands: cmds,
		})
		idx := len(captured) - 1
		mu.Unlock()
		status := statuses[len(statuses)-1]
		if idx < len(statuses) {
			status = statuses[idx]
		}
		w.WriteHeader(status)
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), captured...)
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return New(baseURL, "test-token", logger, WithRetry(3, time.Millisecond, 5*time.Millisecond))
}

func TestMoveTaskEncodesCommandBatch(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusAccepted)
	c := newTestClient(t, srv.URL)

	if err := c.MoveTask(context.Background(), "t1", domain.StatusReady); err != nil {
		t.Fatalf("move task: %v", err)
	}

	got := requests()
	if len(got) != 1 {
		t.Fatalf("expected one request, got %d", len(got))
	}
	req := got[0]
	if req.path != commandsPath {
		t.Fatalf("unexpected path: %s", req.path)
	}
	if ct := req.headers.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type: %s", ct)
	}
	if auth := req.headers.Get("Authorization"); auth != "Bearer test-token" {
		t.Fatalf("unexpected authorization header: %s", auth)
	}
	if len(req.commands) != 1 {
		t.Fatalf("expected batch of one, got %d", len(req.commands))
	}
	cmd := req.commands[0]
	if cmd.Type != domain.CommandMoveTask || cmd.EntityType != domain.EntityTypeTask {
		t.Fatalf("unexpected command envelope: %#v", cmd)
	}
	if cmd.IdempotencyKey == "" || cmd.IdempotencyKey != cmd.ID {
		t.Fatalf("expected idempotency key matching id, got %#v", cmd)
	}
	if cmd.Timestamp <= 0 {
		t.Fatalf("expected positive timestamp, got %d", cmd.Timestamp)
	}
	var payload domain.MoveTaskPayload
	if err := json.Unmarshal(cmd.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.TaskID != "t1" || payload.TargetStatus != domain.StatusReady {
		t.Fatalf("unexpected payload: %#v", payload)
	}
}

func TestReorderTaskPayload(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusAccepted)
	c := newTestClient(t, srv.URL)

	if err := c.ReorderTask(context.Background(), "t1", domain.StatusBacklog, 2); err != nil {
		t.Fatalf("reorder task: %v", err)
	}

	cmd := requests()[0].commands[0]
	if cmd.Type != domain.CommandReorderTask {
		t.Fatalf("unexpected command type: %s", cmd.Type)
	}
	var payload domain.ReorderTaskPayload
	if err := json.Unmarshal(cmd.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.TaskID != "t1" || payload.Status != domain.StatusBacklog || payload.NewIndex != 2 {
		t.Fatalf("unexpected payload: %#v", payload)
	}
}

func TestDependencyCommands(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusAccepted)
	c := newTestClient(t, srv.URL)

	if err := c.AddDependency(context.Background(), "t1", "t2"); err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	if err := c.RemoveDependency(context.Background(), "t1", "t2"); err != nil {
		t.Fatalf("remove dependency: %v", err)
	}

	got := requests()
	if len(got) != 2 {
		t.Fatalf("expected two requests, got %d", len(got))
	}
	if got[0].commands[0].Type != domain.CommandAddDependency {
		t.Fatalf("unexpected first command: %s", got[0].commands[0].Type)
	}
	if got[1].commands[0].Type != domain.CommandRemoveDependency {
		t.Fatalf("unexpected second command: %s", got[1].commands[0].Type)
	}
}

func TestServerErrorIsRetriedUntilSuccess(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusInternalServerError, http.StatusAccepted)
	c := newTestClient(t, srv.URL)

	if err := c.MoveTask(context.Background(), "t1", domain.StatusDone); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	got := requests()
	if len(got) != 2 {
		t.Fatalf("expected two attempts, got %d", len(got))
	}
	// Each retry resubmits the identical command, key included.
	if got[0].commands[0].IdempotencyKey != got[1].commands[0].IdempotencyKey {
		t.Fatal("expected stable idempotency key across retries")
	}
}

func TestClientErrorIsTerminal(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusBadRequest)
	c := newTestClient(t, srv.URL)

	if err := c.MoveTask(context.Background(), "t1", domain.StatusDone); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if got := requests(); len(got) != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", len(got))
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusInternalServerError)
	logger, _ := test.NewNullLogger()
	c := New(srv.URL, "", logger, WithRetry(2, time.Millisecond, 5*time.Millisecond))

	if err := c.MoveTask(context.Background(), "t1", domain.StatusDone); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := requests(); len(got) != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", len(got))
	}
}

func TestContextCancellationStopsRetries(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusInternalServerError)
	logger, _ := test.NewNullLogger()
	c := New(srv.URL, "", logger, WithRetry(5, time.Hour, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.MoveTask(ctx, "t1", domain.StatusDone) }()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled submit did not return")
	}
}

func TestNextTimestampIsMonotonic(t *testing.T) {
	prev := nextTimestamp()
	for i := 0; i < 1000; i++ {
		next := nextTimestamp()
		if next <= prev {
			t.Fatalf("timestamp went backwards: %d then %d", prev, next)
		}
		prev = next
	}
}

func TestRetryBackoffCapsAtMax(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryBackoff(attempt, 100*time.Millisecond, time.Second)
		if d > 1200*time.Millisecond {
			t.Fatalf("attempt %d exceeded cap with jitter: %v", attempt, d)
		}
		if d <= 0 {
			t.Fatalf("attempt %d produced non-positive delay: %v", attempt, d)
		}
	}
}
