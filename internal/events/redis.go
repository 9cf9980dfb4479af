// Package events mirrors job state changes to external subscribers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
)

// DefaultKeyPrefix namespaces every key and channel the notifier writes.
const DefaultKeyPrefix = "modelforge:"

// DefaultStatusTTL is how long a mirrored status survives without updates.
const DefaultStatusTTL = time.Hour

// RedisConfig locates the Redis server used for status mirroring.
type RedisConfig struct {
	Addr      string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// NewRedisClient connects to Redis and pings it once.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection to %s failed: %w", cfg.Addr, err)
	}
	return client, nil
}

// StatusMessage is what subscribers receive on the jobs channel.
type StatusMessage struct {
	ID        string     `json:"id"`
	State     core.State `json:"state"`
	Reason    string     `json:"reason,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RedisNotifier keeps <prefix>job_status:<id> set to the job's latest state and
// publishes every change on <prefix>jobs.
type RedisNotifier struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisNotifier(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisNotifier {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &RedisNotifier{client: client, prefix: prefix, ttl: ttl}
}

// StatusKey is the key holding the job's latest state.
func (n *RedisNotifier) StatusKey(jobID string) string {
	return n.prefix + "job_status:" + jobID
}

// Channel is the pub/sub channel state changes are published on.
func (n *RedisNotifier) Channel() string {
	return n.prefix + "jobs"
}

func (n *RedisNotifier) JobChanged(ctx context.Context, job core.Job) error {
	payload, err := json.Marshal(StatusMessage{
		ID:        job.ID,
		State:     job.State,
		Reason:    job.Reason,
		UpdatedAt: job.UpdatedAt,
	})
	if err != nil {
		return err
	}
	if err := n.client.Set(ctx, n.StatusKey(job.ID), string(job.State), n.ttl).Err(); err != nil {
		return fmt.Errorf("set status for %s: %w", job.ID, err)
	}
	if err := n.client.Publish(ctx, n.Channel(), payload).Err(); err != nil {
		return fmt.Errorf("publish status for %s: %w", job.ID, err)
	}
	return nil
}

// Status reads back the mirrored state of a job.
func (n *RedisNotifier) Status(ctx context.Context, jobID string) (core.State, error) {
	s, err := n.client.Get(ctx, n.StatusKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("status for %s: %w", jobID, core.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return core.State(s), nil
}

// Multi fans a state change out to several notifiers and joins their errors.
type Multi []core.Notifier

func (m Multi) JobChanged(ctx context.Context, job core.Job) error {
	var errs []error
	for _, n := range m {
		if err := n.JobChanged(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
