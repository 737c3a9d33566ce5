// Package store defines the persistence interface for the challenge engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/pqtclub/challenge-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrRoundSettled is returned by CommitRound when the round already has
	// a settlement.
	ErrRoundSettled = errors.New("store: round already settled")
)

// Store is the persistence interface. Everything is scoped by tournament.
type Store interface {
	// --- Round inputs ---

	// PutRoundPrices replaces the published price table of a round.
	PutRoundPrices(ctx context.Context, tournamentID string, round int, prices model.RoundPrices) error

	// GetRoundPrices returns a round's price table, or ErrNotFound.
	GetRoundPrices(ctx context.Context, tournamentID string, round int) (model.RoundPrices, error)

	// PutOutcomes replaces the outcomes of every round present in outcomes.
	PutOutcomes(ctx context.Context, tournamentID string, outcomes map[int]model.Outcomes) error

	// GetOutcomes returns a round's outcomes; empty if none are recorded.
	GetOutcomes(ctx context.Context, tournamentID string, round int) (model.Outcomes, error)

	// --- Portfolio ---

	// GetPortfolio returns the tournament's full snapshot; empty if none.
	GetPortfolio(ctx context.Context, tournamentID string) (model.Snapshot, error)

	// CommitRound atomically stores a settlement and replaces the snapshot.
	// Returns ErrRoundSettled if the round was already committed.
	CommitRound(ctx context.Context, settlement *model.Settlement, snapshot model.Snapshot) error

	// GetSettlement returns the committed settlement of a round, or ErrNotFound.
	GetSettlement(ctx context.Context, tournamentID string, round int) (*model.Settlement, error)

	// ResetTournament discards the snapshot and every settlement of a
	// tournament. Price tables and outcomes are kept.
	ResetTournament(ctx context.Context, tournamentID string) error
}
