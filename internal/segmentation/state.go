package segmentation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ignite/audience-engine/internal/clustering"
)

// EngineState is the serializable snapshot of the engine's in-memory maps,
// used to rehydrate segments, clusters, and memberships across restarts.
// The engine itself holds no durable storage.
type EngineState struct {
	Segments    []*Segment        `json:"segments"`
	Runs        []*clustering.Run `json:"cluster_runs"`
	Memberships []*Membership     `json:"memberships"`
	SavedAt     time.Time         `json:"saved_at"`
}

// ExportState captures the current engine state.
func (e *Engine) ExportState() *EngineState {
	return &EngineState{
		Segments:    e.registry.Export(),
		Runs:        e.clusters.Runs(),
		Memberships: e.store.Export(),
		SavedAt:     e.now(),
	}
}

// ImportState replaces the engine's in-memory maps from a snapshot. Every
// restored active auto-updating segment is marked dirty so membership
// converges with the live population on the next drain.
func (e *Engine) ImportState(st *EngineState) {
	if st == nil {
		return
	}
	e.registry.Restore(st.Segments)
	e.clusters.Restore(st.Runs)
	e.store.Restore(st.Memberships)
}

// StateStore persists engine state snapshots between process runs.
type StateStore interface {
	Save(ctx context.Context, st *EngineState) error
	Load(ctx context.Context) (*EngineState, error)
}

// RedisStateStore keeps the engine state as a JSON blob under one key.
type RedisStateStore struct {
	client *redis.Client
	key    string
}

// NewRedisStateStore creates a store over an existing client.
func NewRedisStateStore(client *redis.Client, key string) *RedisStateStore {
	if key == "" {
		key = "audience-engine:state"
	}
	return &RedisStateStore{client: client, key: key}
}

// Save serializes and writes the snapshot.
func (s *RedisStateStore) Save(ctx context.Context, st *EngineState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal engine state: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("write engine state: %w", err)
	}
	return nil
}

// Load reads the snapshot, returning nil (no error) when none exists.
func (s *RedisStateStore) Load(ctx context.Context) (*EngineState, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read engine state: %w", err)
	}
	var st EngineState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal engine state: %w", err)
	}
	return &st, nil
}
