package jobs

import (
	"context"

	"github.com/hibiken/asynq"
)

// Enqueuer is the part of asynq.Client the jobs client needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client submits stock maintenance tasks to the default queue.
type Client struct {
	enqueuer Enqueuer
}

// NewClient constructs a client over a Redis-backed asynq connection.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{enqueuer: asynq.NewClient(redisOpts)}
}

// NewClientWith wraps an existing enqueuer.
func NewClientWith(enqueuer Enqueuer) *Client {
	return &Client{enqueuer: enqueuer}
}

// EnqueueProjectionRebuild queues a rebuild for one tenant, or all when zero.
func (c *Client) EnqueueProjectionRebuild(ctx context.Context, tenantID int64) (*asynq.TaskInfo, error) {
	task, err := NewProjectionRebuildTask(tenantID)
	if err != nil {
		return nil, err
	}
	return c.enqueuer.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}

// EnqueueLowStockScan queues a low-stock scan for one tenant, or all when zero.
func (c *Client) EnqueueLowStockScan(ctx context.Context, tenantID int64) (*asynq.TaskInfo, error) {
	task, err := NewLowStockScanTask(tenantID)
	if err != nil {
		return nil, err
	}
	return c.enqueuer.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.enqueuer.Close()
}
