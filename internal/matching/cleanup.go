package matching

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const cleanupInterval = 30 * time.Second

// StartCleanup runs a background loop that removes pool members whose
// metadata has expired.
func StartCleanup(ctx context.Context, pool *Pool) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	logger := log.With().Str("component", "cleanup").Logger()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("cleanup loop stopped")
			return
		case <-ticker.C:
			removed, err := pool.Prune(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("prune failed")
				continue
			}
			if removed > 0 {
				logger.Info().Int("removed", removed).Msg("removed stale entries")
			}
		}
	}
}

// Prune removes sorted-set members whose user hash no longer exists and
// returns how many were removed.
func (p *Pool) Prune(ctx context.Context) (int, error) {
	ids, err := p.MemberIDs(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		exists, err := p.rdb.Exists(ctx, keyUserPrefix+id).Result()
		if err != nil {
			continue
		}
		if exists == 0 {
			if err := p.rdb.ZRem(ctx, keyPool, id).Err(); err != nil {
				log.Warn().Err(err).Str("user_id", id).Msg("prune: zrem failed")
				continue
			}
			removed++
		}
	}
	return removed, nil
}
