package matching

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nemesis/matcher/internal/metrics"
)

// SubmitRequest is the NATS payload sent when a user finishes the
// questionnaire and joins the pool.
type SubmitRequest struct {
	UserID   string `json:"user_id"`
	Opinions []int  `json:"opinions"`
}

// WithdrawRequest is the NATS payload sent when a user leaves the pool.
type WithdrawRequest struct {
	UserID string `json:"user_id"`
}

// Bus is the messaging surface the service needs. *messaging.NATSClient
// satisfies it.
type Bus interface {
	Publisher
	SubscribeOpinionSubmit(handler func(data []byte)) error
	SubscribeOpinionWithdraw(handler func(data []byte)) error
}

// Recorder persists committed matches. It may be nil on the service.
type Recorder interface {
	Record(ctx context.Context, matchID string, m Match, diffs []Difference) error
}

// Throttle limits how often a user may submit. *ratelimit.Limiter
// satisfies it.
type Throttle interface {
	Allow(ctx context.Context, identifier string) (bool, error)
}

// Config holds matching service settings.
type Config struct {
	Scorer         Scorer
	Throttle       Throttle      // optional submission rate limit
	Workers        int           // scoring goroutines per round (<= 0: unlimited)
	RoundInterval  time.Duration // time between matching rounds
	MinPoolSize    int           // rounds with fewer waiting users are skipped
	MaxWait        time.Duration // users waiting longer are timed out
	TopDifferences int           // differences attached to each result
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Scorer:         DefaultPolarizationScorer(),
		Workers:        4,
		RoundInterval:  5 * time.Second,
		MinPoolSize:    2,
		MaxWait:        10 * time.Minute,
		TopDifferences: 3,
	}
}

// RoundResult summarizes one matching round.
type RoundResult struct {
	Matches   []Match
	Unmatched []string
	TimedOut  []string
}

// Service is the background matching service that pairs pooled users with
// maximum opposition in periodic rounds.
type Service struct {
	pool     *Pool
	bus      Bus
	recorder Recorder
	matcher  *GreedyMatcher
	cfg      Config
	log      zerolog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewService creates a new matching service. recorder may be nil.
func NewService(pool *Pool, bus Bus, recorder Recorder, cfg Config) *Service {
	if cfg.Scorer == nil {
		cfg.Scorer = DefaultPolarizationScorer()
	}
	if cfg.MinPoolSize < 2 {
		cfg.MinPoolSize = 2
	}
	logger := log.With().Str("component", "matcher").Logger()

	// Metadata that expires before MaxWait would drop users silently
	// instead of timing them out.
	if cfg.MaxWait > 0 && pool.ttl <= cfg.MaxWait {
		logger.Warn().
			Dur("pool_ttl", pool.ttl).
			Dur("max_wait", cfg.MaxWait).
			Msg("pool TTL does not outlast max wait; extending")
		pool.ttl = PoolTTLFor(cfg.MaxWait)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		pool:     pool,
		bus:      bus,
		recorder: recorder,
		matcher:  NewGreedyMatcher(cfg.Scorer),
		cfg:      cfg,
		log:      logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// PoolTTLFor returns a pool metadata TTL that outlasts maxWait, so waiting
// users are timed out before their entry expires.
func PoolTTLFor(maxWait time.Duration) time.Duration {
	if maxWait <= 0 {
		return DefaultPoolTTL
	}
	return 2 * maxWait
}

// Start subscribes to NATS subjects and starts the round and cleanup loops.
func (s *Service) Start() error {
	if err := s.bus.SubscribeOpinionSubmit(s.handleSubmit); err != nil {
		return err
	}
	if err := s.bus.SubscribeOpinionWithdraw(s.handleWithdraw); err != nil {
		return err
	}

	go s.roundLoop()
	go StartCleanup(s.ctx, s.pool)

	s.log.Info().
		Dur("round_interval", s.cfg.RoundInterval).
		Int("workers", s.cfg.Workers).
		Msg("service started")
	return nil
}

// Stop gracefully shuts down the matching service.
func (s *Service) Stop() {
	s.cancel()
	s.log.Info().Msg("service stopped")
}

func (s *Service) handleSubmit(data []byte) {
	var req SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.log.Warn().Err(err).Msg("invalid submit request")
		return
	}
	if req.UserID == "" {
		s.log.Warn().Msg("submit request without user_id")
		return
	}

	if s.cfg.Throttle != nil {
		// Errors fail open inside the limiter; only an explicit deny drops.
		if ok, _ := s.cfg.Throttle.Allow(s.ctx, req.UserID); !ok {
			s.log.Warn().Str("user_id", req.UserID).Msg("submission rate limited")
			return
		}
	}

	user, err := NewUser(req.UserID, req.Opinions)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", req.UserID).Msg("rejected submission")
		return
	}

	if err := s.pool.Enqueue(s.ctx, user); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("enqueue failed")
		return
	}

	ev := s.log.Info().Str("user_id", user.ID).Int("dimensions", len(user.Opinions))
	if size, ok := s.refreshPoolSize(s.ctx); ok {
		ev = ev.Int64("pool_size", size)
	}
	ev.Msg("enqueued")
}

// refreshPoolSize updates the pool gauge. On a Redis error the gauge keeps
// its last value.
func (s *Service) refreshPoolSize(ctx context.Context) (int64, bool) {
	size, err := s.pool.Size(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("read pool size failed")
		return 0, false
	}
	metrics.PoolSize.Set(float64(size))
	return size, true
}

func (s *Service) handleWithdraw(data []byte) {
	var req WithdrawRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.log.Warn().Err(err).Msg("invalid withdraw request")
		return
	}

	if err := s.pool.Dequeue(s.ctx, req.UserID); err != nil {
		s.log.Error().Err(err).Str("user_id", req.UserID).Msg("dequeue failed")
		return
	}

	s.log.Info().Str("user_id", req.UserID).Msg("withdrawn")
}

// roundLoop runs a matching round every RoundInterval.
func (s *Service) roundLoop() {
	ticker := time.NewTicker(s.cfg.RoundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("round loop stopped")
			return
		case <-ticker.C:
			if _, err := s.RunRound(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error().Err(err).Msg("round failed")
			}
		}
	}
}

// RunRound matches everyone currently in the pool. Users who waited longer
// than MaxWait are timed out first. Matched users leave the pool; the user
// left over from an odd pool waits for the next round.
func (s *Service) RunRound(ctx context.Context) (RoundResult, error) {
	start := time.Now()
	defer func() {
		metrics.RoundDuration.Observe(time.Since(start).Seconds())
	}()

	var result RoundResult

	entries, err := s.pool.Members(ctx)
	if err != nil {
		return result, err
	}

	users := make([]User, 0, len(entries))
	for _, e := range entries {
		if s.cfg.MaxWait > 0 && start.Sub(e.JoinedAt) >= s.cfg.MaxWait {
			s.handleTimeout(ctx, e.User.ID)
			result.TimedOut = append(result.TimedOut, e.User.ID)
			continue
		}
		users = append(users, e.User)
	}
	metrics.PoolSize.Set(float64(len(users)))

	if len(users) < s.cfg.MinPoolSize {
		result.Unmatched = userIDs(users)
		return result, nil
	}

	matches, err := s.matcher.FindMatchesContext(ctx, users, s.cfg.Workers)
	if err != nil {
		return result, err
	}

	byID := make(map[string]User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for _, m := range matches {
		s.handleMatch(ctx, m, byID[m.UserA], byID[m.UserB])
	}

	result.Matches = matches
	for _, u := range users {
		if !matchedIn(matches, u.ID) {
			result.Unmatched = append(result.Unmatched, u.ID)
		}
	}

	s.log.Info().
		Int("pool_size", len(users)).
		Int("matches", len(matches)).
		Int("timed_out", len(result.TimedOut)).
		Dur("elapsed", time.Since(start)).
		Msg("round complete")
	return result, nil
}

func (s *Service) handleMatch(ctx context.Context, m Match, a, b User) {
	matchID := uuid.New().String()
	diffs := TopDifferences(a, b, s.cfg.TopDifferences)

	if err := s.pool.Dequeue(ctx, m.UserA); err != nil {
		s.log.Error().Err(err).Str("user_id", m.UserA).Msg("dequeue failed")
	}
	if err := s.pool.Dequeue(ctx, m.UserB); err != nil {
		s.log.Error().Err(err).Str("user_id", m.UserB).Msg("dequeue failed")
	}

	if s.recorder != nil {
		if err := s.recorder.Record(ctx, matchID, m, diffs); err != nil {
			s.log.Error().Err(err).Str("match_id", matchID).Msg("record match failed")
		}
	}

	if err := PublishMatchFound(s.bus, matchID, m, diffs); err != nil {
		s.log.Error().Err(err).Str("match_id", matchID).Msg("publish match failed")
	}

	metrics.MatchesTotal.Inc()
	metrics.MatchScore.Observe(m.Score)
	s.log.Info().
		Str("match_id", matchID).
		Str("user_a", m.UserA).
		Str("user_b", m.UserB).
		Float64("score", m.Score).
		Msg("match committed")
}

// handleTimeout removes a user from the pool and sends a timeout result.
func (s *Service) handleTimeout(ctx context.Context, userID string) {
	if err := s.pool.Dequeue(ctx, userID); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("timeout dequeue failed")
	}
	if err := PublishTimeout(s.bus, userID); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("publish timeout failed")
	}
	metrics.TimeoutsTotal.Inc()
	s.log.Info().Str("user_id", userID).Dur("max_wait", s.cfg.MaxWait).Msg("timed out")
}

func userIDs(users []User) []string {
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}

func matchedIn(matches []Match, userID string) bool {
	for _, m := range matches {
		if m.Involves(userID) {
			return true
		}
	}
	return false
}
