package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ilovetoast/brandlens/internal/config"
)

// Enqueuer is the narrow interface pipeline code depends on; the asynq
// Client below is the production implementation.
type Enqueuer interface {
	EnqueueStage(taskType string, payload AssetStagePayload) error
	EnqueueTagging(payload AssetTagPayload) error
}

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueStage dispatches one pipeline stage task. Stage work is retried by
// asynq on transient failure; precondition mismatches inside the worker are
// not failures and never reach the retry path.
func (c *Client) EnqueueStage(taskType string, payload AssetStagePayload) error {
	switch taskType {
	case TypeAssetProcess, TypeAssetExtractMetadata, TypeAssetGenerateEmbedding, TypeAssetScore:
	default:
		return fmt.Errorf("unknown stage task type %q", taskType)
	}
	return c.enqueue(taskType, payload, asynq.MaxRetry(3), asynq.Timeout(5*time.Minute))
}

func (c *Client) EnqueueTagging(payload AssetTagPayload) error {
	return c.enqueue(TypeAssetTag, payload, asynq.MaxRetry(3), asynq.Timeout(5*time.Minute), asynq.Queue("low"))
}

func (c *Client) EnqueueRecoveryScan() error {
	return c.enqueue(TypeRecoveryScan, RecoveryScanPayload{}, asynq.MaxRetry(1), asynq.Timeout(10*time.Minute), asynq.Queue("low"))
}

func (c *Client) enqueue(taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	_, err = c.client.Enqueue(task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
