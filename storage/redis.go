package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/songzhibin97/flownet/internal/value"
	"github.com/songzhibin97/flownet/types"
	"github.com/songzhibin97/flownet/workflow"
)

const (
	definitionPrefix = "definition:"
	executionPrefix  = "execution:"
	variablePrefix   = "variable:"
)

// RedisStorage is a Redis-backed implementation of the Storage interface.
type RedisStorage struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStorage{client: client}, nil
}

func definitionKey(name string, version int) string {
	return fmt.Sprintf("%s%s:%d", definitionPrefix, name, version)
}

func definitionVersionKey(name string) string {
	return definitionPrefix + name + ":version"
}

func executionKey(id uint64) string {
	return fmt.Sprintf("%s%d", executionPrefix, id)
}

// decodeJSON keeps numbers as json.Number so integers survive the round trip.
func decodeJSON(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// getFromRedis retrieves and unmarshals a value from Redis.
func getFromRedis[T any](ctx context.Context, client *redis.Client, key string, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: key=%s", errNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("failed to get %s from Redis: %w", key, err)
		}

		var result T
		if err := decodeJSON(data, &result); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return result, nil
	})
}

// SaveDefinition stores def under the next version of its name. The version
// counter is incremented atomically so concurrent writers never collide.
func (s *RedisStorage) SaveDefinition(ctx context.Context, def types.Definition) (int, error) {
	return withContext(ctx, func() (int, error) {
		version, err := s.client.Incr(ctx, definitionVersionKey(def.Name)).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to allocate version for %s: %w", def.Name, err)
		}
		def.Version = int(version)

		data, err := json.Marshal(def)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal definition %s: %w", def.Name, err)
		}
		key := definitionKey(def.Name, def.Version)
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return 0, fmt.Errorf("failed to set %s in Redis: %w", key, err)
		}
		return def.Version, nil
	})
}

// GetDefinition retrieves a definition from Redis.
func (s *RedisStorage) GetDefinition(ctx context.Context, name string, version int) (types.Definition, error) {
	if version == 0 {
		latest, err := s.client.Get(ctx, definitionVersionKey(name)).Int()
		if errors.Is(err, redis.Nil) {
			return types.Definition{}, fmt.Errorf("%w: %s", ErrDefinitionNotFound, name)
		} else if err != nil {
			return types.Definition{}, fmt.Errorf("failed to get latest version of %s: %w", name, err)
		}
		version = latest
	}
	return getFromRedis[types.Definition](ctx, s.client, definitionKey(name, version), ErrDefinitionNotFound)
}

// SaveExecution saves an execution checkpoint to Redis.
func (s *RedisStorage) SaveExecution(ctx context.Context, st types.ExecutionState) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to marshal execution %d: %w", st.ID, err)
		}
		key := executionKey(st.ID)
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %w", key, err)
		}
		return nil
	})
}

// GetExecution retrieves an execution checkpoint from Redis.
func (s *RedisStorage) GetExecution(ctx context.Context, id uint64) (types.ExecutionState, error) {
	return getFromRedis[types.ExecutionState](ctx, s.client, executionKey(id), ErrExecutionNotFound)
}

// DeleteExecution removes an execution checkpoint from Redis.
func (s *RedisStorage) DeleteExecution(ctx context.Context, id uint64) error {
	return withContextError(ctx, func() error {
		if err := s.client.Del(ctx, executionKey(id)).Err(); err != nil {
			return fmt.Errorf("failed to delete execution %d: %w", id, err)
		}
		return nil
	})
}

// SaveDefinitions saves multiple definitions using pipelining. Versions are
// allocated up front, one INCR per definition.
func (s *RedisStorage) SaveDefinitions(ctx context.Context, defs []types.Definition) ([]int, error) {
	return withContext(ctx, func() ([]int, error) {
		incr := s.client.Pipeline()
		cmds := make([]*redis.IntCmd, len(defs))
		for i, def := range defs {
			cmds[i] = incr.Incr(ctx, definitionVersionKey(def.Name))
		}
		if _, err := incr.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to allocate versions: %w", err)
		}

		pipe := s.client.Pipeline()
		versions := make([]int, len(defs))
		for i, def := range defs {
			def.Version = int(cmds[i].Val())
			versions[i] = def.Version
			data, err := json.Marshal(def)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal definition %s: %w", def.Name, err)
			}
			pipe.Set(ctx, definitionKey(def.Name, def.Version), data, 0)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to execute pipeline for definitions: %w", err)
		}
		return versions, nil
	})
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// VariableHandler returns a handler keeping variables in Redis under
// variable:<execution id>:<name>.
func (s *RedisStorage) VariableHandler() workflow.VariableHandler {
	return redisVariables{client: s.client}
}

type redisVariables struct {
	client *redis.Client
}

func variableKey(id uint64, name string) string {
	return fmt.Sprintf("%s%d:%s", variablePrefix, id, name)
}

func (h redisVariables) Load(ctx context.Context, e *workflow.Execution, name string) (interface{}, error) {
	data, err := h.client.Get(ctx, variableKey(e.ID(), name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to load variable %s: %w", name, err)
	}
	var v interface{}
	if err := decodeJSON(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variable %s: %w", name, err)
	}
	return value.Normalize(v), nil
}

func (h redisVariables) Save(ctx context.Context, e *workflow.Execution, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal variable %s: %w", name, err)
	}
	if err := h.client.Set(ctx, variableKey(e.ID(), name), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save variable %s: %w", name, err)
	}
	return nil
}
