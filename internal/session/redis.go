package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldConnected = "connected"
	fieldLastSync  = "last_sync"
)

// Redis keeps the state in a hash so that several processes serving the same
// session see one connection flag. The key expires after ttl of inactivity.
type Redis struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, sessionID string, ttl time.Duration) *Redis {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = "default"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{rdb: rdb, key: "therapycal:session:" + sessionID, ttl: ttl}
}

func (r *Redis) Load(ctx context.Context) (State, error) {
	vals, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return State{}, fmt.Errorf("failed to read session state from redis: %w", err)
	}
	var st State
	if v, ok := vals[fieldConnected]; ok {
		st.Connected, err = strconv.ParseBool(v)
		if err != nil {
			return State{}, fmt.Errorf("invalid %s value %q: %w", fieldConnected, v, err)
		}
	}
	if v, ok := vals[fieldLastSync]; ok && v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return State{}, fmt.Errorf("invalid %s value %q: %w", fieldLastSync, v, err)
		}
		st.LastSync = &t
	}
	return st, nil
}

func (r *Redis) Save(ctx context.Context, st State) error {
	lastSync := ""
	if st.LastSync != nil {
		lastSync = st.LastSync.UTC().Format(time.RFC3339Nano)
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key, fieldConnected, strconv.FormatBool(st.Connected), fieldLastSync, lastSync)
		pipe.Expire(ctx, r.key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write session state to redis: %w", err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to clear session state in redis: %w", err)
	}
	return nil
}
