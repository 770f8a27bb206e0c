package driver

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/types"
)

const availableSetKey = "drivers:available"

// Mirror keeps a redis set of available driver IDs in step with the store.
// It is a best-effort read model for ops tooling; the database remains the
// source of truth, so mirror failures are logged and swallowed.
type Mirror struct {
	rdb *redis.Client
}

func NewMirror(rdb *redis.Client) *Mirror {
	return &Mirror{rdb: rdb}
}

func (m *Mirror) SetAvailable(ctx context.Context, id types.ID, available bool) {
	if m == nil || m.rdb == nil {
		return
	}
	var err error
	if available {
		err = m.rdb.SAdd(ctx, availableSetKey, string(id)).Err()
	} else {
		err = m.rdb.SRem(ctx, availableSetKey, string(id)).Err()
	}
	if err != nil {
		log.Printf("[driver] availability mirror update for %s: %v", id, err)
	}
}

func (m *Mirror) Available(ctx context.Context) ([]types.ID, error) {
	members, err := m.rdb.SMembers(ctx, availableSetKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(members))
	for i, v := range members {
		ids[i] = types.ID(v)
	}
	return ids, nil
}
