package matching

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key patterns for the waiting pool.
	keyPool       = "nemesis:pool"  // Sorted set, score = join timestamp (ms)
	keyUserPrefix = "nemesis:user:" // + <user_id> -> Hash

	// DefaultPoolTTL is how long pool metadata lives without a re-submit.
	// It must outlast the service's MaxWait so timeouts are delivered.
	DefaultPoolTTL = 20 * time.Minute
)

// PoolEntry is a user waiting for the next matching round.
type PoolEntry struct {
	User     User
	JoinedAt time.Time
}

// Pool manages the Redis data structures for users waiting to be matched.
type Pool struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPool creates a new waiting pool backed by Redis. A ttl <= 0 uses
// DefaultPoolTTL.
func NewPool(rdb *redis.Client, ttl time.Duration) *Pool {
	if ttl <= 0 {
		ttl = DefaultPoolTTL
	}
	return &Pool{rdb: rdb, ttl: ttl}
}

// TTL returns how long user metadata survives without a re-submit.
func (p *Pool) TTL() time.Duration {
	return p.ttl
}

// EncodeOpinions serializes an opinion vector as comma-separated integers.
func EncodeOpinions(opinions []int) string {
	parts := make([]string, len(opinions))
	for i, v := range opinions {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// DecodeOpinions parses the output of EncodeOpinions.
func DecodeOpinions(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	opinions := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("matching: decode opinion %d: %w", i, err)
		}
		opinions[i] = v
	}
	return opinions, nil
}

// Enqueue adds a user to the pool. Re-submitting replaces the opinions but
// keeps the original join time. The sorted-set score always mirrors the
// hash's joined_at, so a member left behind by an expired hash is re-stamped.
func (p *Pool) Enqueue(ctx context.Context, u User) error {
	now := time.Now().UnixMilli()
	userKey := keyUserPrefix + u.ID

	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, userKey, "opinions", EncodeOpinions(u.Opinions))
	pipe.HSetNX(ctx, userKey, "joined_at", strconv.FormatInt(now, 10))
	pipe.Expire(ctx, userKey, p.ttl)
	joinedCmd := pipe.HGet(ctx, userKey, "joined_at")
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	joined, err := joinedCmd.Int64()
	if err != nil {
		return fmt.Errorf("matching: read joined_at: %w", err)
	}
	return p.rdb.ZAdd(ctx, keyPool, redis.Z{Score: float64(joined), Member: u.ID}).Err()
}

// Dequeue removes a user from the pool. Removing an absent user is not an
// error.
func (p *Pool) Dequeue(ctx context.Context, userID string) error {
	pipe := p.rdb.TxPipeline()
	pipe.ZRem(ctx, keyPool, userID)
	pipe.Del(ctx, keyUserPrefix+userID)
	_, err := pipe.Exec(ctx)
	return err
}

// GetEntry retrieves a user's pool entry. Returns nil if not found.
func (p *Pool) GetEntry(ctx context.Context, userID string) (*PoolEntry, error) {
	result, err := p.rdb.HGetAll(ctx, keyUserPrefix+userID).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	return entryFromHash(userID, result)
}

func entryFromHash(userID string, h map[string]string) (*PoolEntry, error) {
	opinions, err := DecodeOpinions(h["opinions"])
	if err != nil {
		return nil, err
	}
	var joinedMs int64
	if v, ok := h["joined_at"]; ok {
		joinedMs, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("matching: decode joined_at: %w", err)
		}
	}
	return &PoolEntry{
		User:     User{ID: userID, Opinions: opinions},
		JoinedAt: time.UnixMilli(joinedMs),
	}, nil
}

// Members returns every waiting user, oldest first. Sorted-set members whose
// metadata has expired or is unreadable are skipped; cleanup removes them.
func (p *Pool) Members(ctx context.Context) ([]PoolEntry, error) {
	ids, err := p.MemberIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := p.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, keyUserPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	entries := make([]PoolEntry, 0, len(ids))
	for i, cmd := range cmds {
		h, err := cmd.Result()
		if err != nil || len(h) == 0 {
			continue
		}
		entry, err := entryFromHash(ids[i], h)
		if err != nil || len(entry.User.Opinions) == 0 {
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// MemberIDs returns the ids in the pool sorted set, oldest first.
func (p *Pool) MemberIDs(ctx context.Context) ([]string, error) {
	return p.rdb.ZRange(ctx, keyPool, 0, -1).Result()
}

// IsQueued checks if a user is currently in the pool.
func (p *Pool) IsQueued(ctx context.Context, userID string) (bool, error) {
	_, err := p.rdb.ZScore(ctx, keyPool, userID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Size returns the number of users currently in the pool.
func (p *Pool) Size(ctx context.Context) (int64, error) {
	return p.rdb.ZCard(ctx, keyPool).Result()
}
