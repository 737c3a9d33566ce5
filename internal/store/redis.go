package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pqtclub/challenge-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) PutRoundPrices(ctx context.Context, tournamentID string, round int, prices model.RoundPrices) error {
	if err := s.primary.PutRoundPrices(ctx, tournamentID, round, prices); err != nil {
		return err
	}
	s.rdb.Del(ctx, pricesKey(tournamentID, round))
	return nil
}

func (s *CachedStore) CommitRound(ctx context.Context, st *model.Settlement, snapshot model.Snapshot) error {
	if err := s.primary.CommitRound(ctx, st, snapshot); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, portfolioKey(st.TournamentID))
	return nil
}

func (s *CachedStore) ResetTournament(ctx context.Context, tournamentID string) error {
	if err := s.primary.ResetTournament(ctx, tournamentID); err != nil {
		return err
	}
	s.rdb.Del(ctx, portfolioKey(tournamentID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRoundPrices(ctx context.Context, tournamentID string, round int) (model.RoundPrices, error) {
	key := pricesKey(tournamentID, round)

	// Try cache.
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var prices model.RoundPrices
		if json.Unmarshal(data, &prices) == nil {
			return prices, nil
		}
	}

	// Cache miss: read from primary.
	prices, err := s.primary.GetRoundPrices(ctx, tournamentID, round)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, key, prices)
	return prices, nil
}

func (s *CachedStore) GetPortfolio(ctx context.Context, tournamentID string) (model.Snapshot, error) {
	key := portfolioKey(tournamentID)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var snap model.Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return snap.Normalize(), nil
		}
	} else if !errors.Is(err, redis.Nil) {
		// Redis is down or misbehaving; the primary is still authoritative.
		return s.primary.GetPortfolio(ctx, tournamentID)
	}

	snap, err := s.primary.GetPortfolio(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, key, snap)
	return snap, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) PutOutcomes(ctx context.Context, tournamentID string, outcomes map[int]model.Outcomes) error {
	return s.primary.PutOutcomes(ctx, tournamentID, outcomes)
}

func (s *CachedStore) GetOutcomes(ctx context.Context, tournamentID string, round int) (model.Outcomes, error) {
	return s.primary.GetOutcomes(ctx, tournamentID, round)
}

func (s *CachedStore) GetSettlement(ctx context.Context, tournamentID string, round int) (*model.Settlement, error) {
	return s.primary.GetSettlement(ctx, tournamentID, round)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func pricesKey(tid string, round int) string { return fmt.Sprintf("prices:%s:%d", tid, round) }
func portfolioKey(tid string) string          { return fmt.Sprintf("portfolio:%s", tid) }
