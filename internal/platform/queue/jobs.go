// Package queue runs diagnosis analysis in the background on asynq.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// TypeAnalyze is enqueued for each diagnosis submitted in async mode.
	TypeAnalyze = "diagnosis:analyze"

	maxRetry = 5
)

type AnalyzePayload struct {
	DiagnosisID string `json:"diagnosis_id"`
}

// enqueuer is satisfied by *asynq.Client.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client enqueues analysis tasks.
type Client struct {
	q       enqueuer
	timeout time.Duration
}

// NewClient wraps an asynq client. timeout bounds a single task run and
// should exceed the inference timeout.
func NewClient(q enqueuer, timeout time.Duration) *Client {
	return &Client{q: q, timeout: timeout}
}

func RedisOpt(addr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: addr, Password: password, DB: db}
}

func (c *Client) EnqueueAnalysis(ctx context.Context, diagnosisID uuid.UUID) error {
	data, err := json.Marshal(AnalyzePayload{DiagnosisID: diagnosisID.String()})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	opts := []asynq.Option{asynq.MaxRetry(maxRetry)}
	if c.timeout > 0 {
		opts = append(opts, asynq.Timeout(c.timeout))
	}
	if _, err := c.q.EnqueueContext(ctx, asynq.NewTask(TypeAnalyze, data), opts...); err != nil {
		return fmt.Errorf("enqueue analysis %s: %w", diagnosisID, err)
	}
	return nil
}
