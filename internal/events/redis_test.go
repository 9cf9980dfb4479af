package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
)

func TestRedisNotifierNames(t *testing.T) {
	n := NewRedisNotifier(nil, "", 0)
	assert.Equal(t, "modelforge:job_status:model_1", n.StatusKey("model_1"))
	assert.Equal(t, "modelforge:jobs", n.Channel())
	assert.Equal(t, DefaultStatusTTL, n.ttl)

	n = NewRedisNotifier(nil, "test:", time.Minute)
	assert.Equal(t, "test:job_status:x", n.StatusKey("x"))
	assert.Equal(t, "test:jobs", n.Channel())
}

func TestRedisNotifierUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	n := NewRedisNotifier(client, "", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := n.JobChanged(ctx, core.Job{ID: "model_1", State: core.StateRunning})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model_1")
}

type recordingNotifier struct {
	seen []core.State
	err  error
}

func (r *recordingNotifier) JobChanged(_ context.Context, job core.Job) error {
	r.seen = append(r.seen, job.State)
	return r.err
}

func TestMultiNotifiesEveryone(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingNotifier{}
	b := &recordingNotifier{err: boom}
	c := &recordingNotifier{}

	err := Multi{a, b, c}.JobChanged(context.Background(), core.Job{ID: "j", State: core.StateSucceeded})
	require.ErrorIs(t, err, boom)
	for _, n := range []*recordingNotifier{a, b, c} {
		assert.Equal(t, []core.State{core.StateSucceeded}, n.seen)
	}

	assert.NoError(t, Multi{}.JobChanged(context.Background(), core.Job{}))
}
