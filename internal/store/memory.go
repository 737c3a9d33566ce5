package store

import (
	"context"
	"sync"

	"github.com/pqtclub/challenge-engine/internal/model"
)

type roundKey struct {
	tournamentID string
	round        int
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	prices      map[roundKey]model.RoundPrices
	outcomes    map[roundKey]model.Outcomes
	portfolios  map[string]model.Snapshot
	settlements map[roundKey]*model.Settlement
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prices:      make(map[roundKey]model.RoundPrices),
		outcomes:    make(map[roundKey]model.Outcomes),
		portfolios:  make(map[string]model.Snapshot),
		settlements: make(map[roundKey]*model.Settlement),
	}
}

func (s *MemoryStore) PutRoundPrices(_ context.Context, tournamentID string, round int, prices model.RoundPrices) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := make(model.RoundPrices, len(prices))
	for team, p := range prices {
		cp[team] = p
	}
	s.prices[roundKey{tournamentID, round}] = cp
	return nil
}

func (s *MemoryStore) GetRoundPrices(_ context.Context, tournamentID string, round int) (model.RoundPrices, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[roundKey{tournamentID, round}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make(model.RoundPrices, len(p))
	for team, tp := range p {
		cp[team] = tp
	}
	return cp, nil
}

func (s *MemoryStore) PutOutcomes(_ context.Context, tournamentID string, outcomes map[int]model.Outcomes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for round, o := range outcomes {
		s.outcomes[roundKey{tournamentID, round}] = copyOutcomes(o)
	}
	return nil
}

func (s *MemoryStore) GetOutcomes(_ context.Context, tournamentID string, round int) (model.Outcomes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyOutcomes(s.outcomes[roundKey{tournamentID, round}]), nil
}

func (s *MemoryStore) GetPortfolio(_ context.Context, tournamentID string) (model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.portfolios[tournamentID]
	if !ok {
		return model.Snapshot{}, nil
	}
	return snap.Clone(), nil
}

// CommitRound writes the settlement and the snapshot under one lock, so
// readers see either the previous round or this one, never a mix.
func (s *MemoryStore) CommitRound(_ context.Context, st *model.Settlement, snapshot model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := roundKey{st.TournamentID, st.Round.Number}
	if _, ok := s.settlements[key]; ok {
		return ErrRoundSettled
	}

	cp := *st
	cp.Payouts = append([]model.PlayerPayout(nil), st.Payouts...)
	s.settlements[key] = &cp
	s.portfolios[st.TournamentID] = snapshot.Clone()
	return nil
}

func (s *MemoryStore) GetSettlement(_ context.Context, tournamentID string, round int) (*model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settlements[roundKey{tournamentID, round}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	cp.Payouts = append([]model.PlayerPayout(nil), st.Payouts...)
	return &cp, nil
}

func (s *MemoryStore) ResetTournament(_ context.Context, tournamentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.portfolios, tournamentID)
	for key := range s.settlements {
		if key.tournamentID == tournamentID {
			delete(s.settlements, key)
		}
	}
	return nil
}

func copyOutcomes(o model.Outcomes) model.Outcomes {
	cp := make(model.Outcomes, len(o))
	for team, won := range o {
		cp[team] = won
	}
	return cp
}
