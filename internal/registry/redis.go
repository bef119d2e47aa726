package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/recoverydesk/case-service/internal/types"
)

const maxUpdateAttempts = 16

// RedisOptions configures the redis registry
type RedisOptions struct {
	// Prefix is prepended to every key and channel
	Prefix string
	// TTL expires task entries; zero keeps them indefinitely
	TTL time.Duration
}

// Redis stores tasks as JSON documents so that several service instances can
// share task state. Updates use optimistic WATCH/MULTI transactions and
// publish a change notification on a per-task channel.
type Redis struct {
	client *redis.Client
	opts   RedisOptions
	logger zerolog.Logger
}

// NewRedis creates a registry on top of an existing client
func NewRedis(client *redis.Client, opts RedisOptions, logger zerolog.Logger) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "case-service"
	}
	return &Redis{
		client: client,
		opts:   opts,
		logger: logger.With().Str("component", "registry").Str("backend", "redis").Logger(),
	}
}

func (r *Redis) taskKey(id string) string { return r.opts.Prefix + ":task:" + id }
func (r *Redis) indexKey() string         { return r.opts.Prefix + ":tasks" }
func (r *Redis) channel(id string) string { return r.opts.Prefix + ":task-events:" + id }

func (r *Redis) Create(ctx context.Context, task *types.Task) (string, error) {
	t := task.Clone()
	if t.ID == "" {
		t.ID = NewTaskID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Errors == nil {
		t.Errors = []string{}
	}

	payload, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode task: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.taskKey(t.ID), payload, r.opts.TTL).Result()
	if err != nil {
		return "", fmt.Errorf("failed to store task %s: %w", t.ID, err)
	}
	if !ok {
		return "", fmt.Errorf("task %s already exists: %w", t.ID, types.ErrConflict)
	}
	if err := r.client.SAdd(ctx, r.indexKey(), t.ID).Err(); err != nil {
		return "", fmt.Errorf("failed to index task %s: %w", t.ID, err)
	}
	return t.ID, nil
}

func (r *Redis) Get(ctx context.Context, id string) (*types.Task, error) {
	data, err := r.client.Get(ctx, r.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("task %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	return decodeTask(data)
}

func (r *Redis) Update(ctx context.Context, id string, fn Mutator) (*types.Task, error) {
	key := r.taskKey(id)
	var result *types.Task

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("task %s: %w", id, types.ErrNotFound)
		}
		if err != nil {
			return err
		}

		task, err := decodeTask(data)
		if err != nil {
			return err
		}
		if err := fn(task); err != nil {
			return err
		}
		task.ID = id

		payload, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to encode task: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.opts.TTL)
			pipe.Publish(ctx, r.channel(id), string(task.Status))
			return nil
		})
		if err == nil {
			result = task
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			r.logger.Debug().Str("task_id", id).Int("attempt", attempt+1).Msg("Task update raced, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return result.Clone(), nil
	}
	return nil, fmt.Errorf("task %s: update retries exhausted", id)
}

func (r *Redis) List(ctx context.Context) ([]*types.Task, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	out := make([]*types.Task, 0, len(ids))
	for _, id := range ids {
		t, err := r.Get(ctx, id)
		if errors.Is(err, types.ErrNotFound) {
			// Expired through TTL.
			r.client.SRem(ctx, r.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, r.taskKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	r.client.SRem(ctx, r.indexKey(), id)
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// Watch subscribes to the task's change channel. When the subscription cannot
// be established the returned channel never fires and callers fall back to
// polling.
func (r *Redis) Watch(ctx context.Context, id string) (<-chan struct{}, func()) {
	out := make(chan struct{}, 1)
	ps := r.client.Subscribe(ctx, r.channel(id))
	if _, err := ps.Receive(ctx); err != nil {
		r.logger.Warn().Err(err).Str("task_id", id).Msg("Failed to subscribe to task events")
		_ = ps.Close()
		return out, func() {}
	}

	done := make(chan struct{})
	go func() {
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
}

func decodeTask(data []byte) (*types.Task, error) {
	var t types.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	if t.Errors == nil {
		t.Errors = []string{}
	}
	return &t, nil
}
