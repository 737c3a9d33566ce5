// Package challenge provides the tournament settlement service and its HTTP
// handlers: publishing price tables and outcomes, settling rounds, and
// querying or resetting portfolios.
//
// All monetary values use shopspring/decimal, never float64.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pqtclub/challenge-engine/internal/config"
	"github.com/pqtclub/challenge-engine/internal/contract"
	"github.com/pqtclub/challenge-engine/internal/engine"
	"github.com/pqtclub/challenge-engine/internal/ledger"
	"github.com/pqtclub/challenge-engine/internal/metrics"
	"github.com/pqtclub/challenge-engine/internal/model"
	"github.com/pqtclub/challenge-engine/internal/spending"
	"github.com/pqtclub/challenge-engine/internal/store"
)

var (
	// ErrInvalidRound is returned for a round number outside the tournament.
	ErrInvalidRound = errors.New("challenge: invalid round")

	// ErrRoundSettled is returned when a round is settled (or its prices
	// replaced) after it has already been committed.
	ErrRoundSettled = errors.New("challenge: round already settled")

	// ErrRoundOrder is returned when a round is settled before the round
	// preceding it.
	ErrRoundOrder = errors.New("challenge: previous round not settled")

	// ErrNoPrices is returned when a round is settled before its price table
	// has been published.
	ErrNoPrices = errors.New("challenge: no prices published for round")
)

// Service settles tournament rounds. Settlement of one tournament is
// serialized by a per-tournament mutex; different tournaments proceed
// concurrently. For horizontal scaling, the store's unique settlement
// constraint still rejects a second commit of the same round.
type Service struct {
	store      store.Store
	engine     *engine.Engine
	tournament config.Tournament
	wsHub      *WSHub // optional WebSocket hub for real-time broadcasts

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new settlement service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, t config.Tournament, hub *WSHub) *Service {
	return &Service{
		store:      st,
		engine:     engine.New(engine.Config{StartingBalance: t.StartingBalance, WinPayout: t.WinPayout}),
		tournament: t,
		wsHub:      hub,
		locks:      make(map[string]*sync.Mutex),
	}
}

// Report is the outcome of a settled round.
type Report struct {
	model.Settlement
	RoundName string         `json:"round_name"`
	Dropped   int            `json:"dropped_rows"`
	Unpriced  []string       `json:"unpriced_teams,omitempty"`
	Portfolio model.Snapshot `json:"portfolio"`
}

func (s *Service) lock(tournamentID string) func() {
	s.mu.Lock()
	l, ok := s.locks[tournamentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[tournamentID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Service) checkRound(round int) error {
	if !s.tournament.ValidRound(round) {
		return fmt.Errorf("%w: %d (expected 1-%d)", ErrInvalidRound, round, s.tournament.FinalRound())
	}
	return nil
}

// PublishPrices stores the price table of a round that has not settled yet.
func (s *Service) PublishPrices(ctx context.Context, tournamentID string, round int, prices model.RoundPrices) error {
	if err := s.checkRound(round); err != nil {
		return err
	}

	unlock := s.lock(tournamentID)
	defer unlock()

	if settled, err := s.isSettled(ctx, tournamentID, round); err != nil {
		return err
	} else if settled {
		return fmt.Errorf("%w: round %d", ErrRoundSettled, round)
	}

	if err := s.store.PutRoundPrices(ctx, tournamentID, round, prices); err != nil {
		return fmt.Errorf("store prices: %w", err)
	}

	slog.Info("prices published",
		"tournament", tournamentID,
		"round", round,
		"teams", len(prices),
	)
	return nil
}

// PublishOutcomes stores match results for every round present. Rounds
// outside the tournament are rejected as a whole.
func (s *Service) PublishOutcomes(ctx context.Context, tournamentID string, outcomes map[int]model.Outcomes) error {
	for round := range outcomes {
		if err := s.checkRound(round); err != nil {
			return err
		}
	}

	if err := s.store.PutOutcomes(ctx, tournamentID, outcomes); err != nil {
		return fmt.Errorf("store outcomes: %w", err)
	}

	slog.Info("outcomes published", "tournament", tournamentID, "rounds", len(outcomes))
	return nil
}

// Settle runs one round's trade batch through the engine and commits the
// result. Rounds settle in order, each exactly once. A rejected batch (*spending.SpendingLimitError,
// *ledger.PositionError) leaves stored state untouched.
func (s *Service) Settle(ctx context.Context, tournamentID string, round int, rows []contract.TradeRow) (*Report, error) {
	if err := s.checkRound(round); err != nil {
		return nil, err
	}

	start := time.Now()

	unlock := s.lock(tournamentID)
	defer unlock()

	if settled, err := s.isSettled(ctx, tournamentID, round); err != nil {
		return nil, err
	} else if settled {
		return nil, fmt.Errorf("%w: round %d", ErrRoundSettled, round)
	}
	if round > 1 {
		prev, err := s.isSettled(ctx, tournamentID, round-1)
		if err != nil {
			return nil, err
		}
		if !prev {
			return nil, fmt.Errorf("%w: round %d before round %d", ErrRoundOrder, round, round-1)
		}
	}

	prices, err := s.store.GetRoundPrices(ctx, tournamentID, round)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: round %d", ErrNoPrices, round)
	}
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}

	outcomes, err := s.store.GetOutcomes(ctx, tournamentID, round)
	if err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}
	if len(outcomes) == 0 {
		slog.Warn("no outcomes recorded, every team settles as a loss",
			"tournament", tournamentID, "round", round)
	}

	snapshot, err := s.store.GetPortfolio(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio: %w", err)
	}

	r := model.Round{Number: round, Final: s.tournament.IsFinal(round)}
	res, err := s.engine.SettleRound(engine.Input{
		Round:     r,
		Rows:      rows,
		Prices:    prices,
		Outcomes:  outcomes,
		Portfolio: snapshot,
	})
	if err != nil {
		metrics.SettlementRejections.WithLabelValues(rejectionKind(err)).Inc()
		slog.Warn("trade batch rejected",
			"tournament", tournamentID,
			"round", round,
			"err", err,
		)
		return nil, err
	}

	if res.Dropped > 0 {
		metrics.DroppedRows.Add(float64(res.Dropped))
		slog.Debug("malformed trade rows dropped",
			"tournament", tournamentID, "round", round, "dropped", res.Dropped)
	}
	if len(res.Unpriced) > 0 {
		metrics.UnpricedTeams.Add(float64(len(res.Unpriced)))
		slog.Warn("trades on teams without a published price settled at 0",
			"tournament", tournamentID, "round", round, "teams", res.Unpriced)
	}

	settlement := &model.Settlement{
		ID:           res.SettlementID,
		TournamentID: tournamentID,
		Round:        r,
		Trades:       len(res.Trades),
		Payouts:      res.SortedPayouts(),
		SettledAt:    time.Now().UTC(),
	}

	if err := s.store.CommitRound(ctx, settlement, res.Portfolio); err != nil {
		if errors.Is(err, store.ErrRoundSettled) {
			return nil, fmt.Errorf("%w: round %d", ErrRoundSettled, round)
		}
		return nil, fmt.Errorf("commit round: %w", err)
	}

	total := decimal.Zero
	for _, p := range settlement.Payouts {
		total = total.Add(p.Total)
	}
	for _, t := range res.Trades {
		metrics.TradesSettled.WithLabelValues(t.Asset.String()).Inc()
	}
	metrics.RoundsSettled.WithLabelValues(strconv.FormatBool(r.Final)).Inc()
	metrics.PlayersSettled.Observe(float64(len(settlement.Payouts)))
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())

	slog.Info("round settled",
		"settlement_id", settlement.ID,
		"tournament", tournamentID,
		"round", round,
		"round_name", s.tournament.RoundName(round),
		"final", r.Final,
		"trades", settlement.Trades,
		"players", len(settlement.Payouts),
		"total_payout", total.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         "round_settled",
			TournamentID: tournamentID,
			Round:        round,
			RoundName:    s.tournament.RoundName(round),
			Final:        r.Final,
			SettlementID: settlement.ID,
			Players:      len(settlement.Payouts),
			TotalPayout:  total.String(),
		})
	}

	return &Report{
		Settlement: *settlement,
		RoundName:  s.tournament.RoundName(round),
		Dropped:    res.Dropped,
		Unpriced:   res.Unpriced,
		Portfolio:  res.Portfolio,
	}, nil
}

// Portfolio returns the tournament's current snapshot.
func (s *Service) Portfolio(ctx context.Context, tournamentID string) (model.Snapshot, error) {
	return s.store.GetPortfolio(ctx, tournamentID)
}

// Payouts returns the committed settlement of a round.
func (s *Service) Payouts(ctx context.Context, tournamentID string, round int) (*model.Settlement, error) {
	if err := s.checkRound(round); err != nil {
		return nil, err
	}
	return s.store.GetSettlement(ctx, tournamentID, round)
}

// Reset discards every player's state and every settled round of a
// tournament, so the next settlement starts from the starting balance.
func (s *Service) Reset(ctx context.Context, tournamentID string) error {
	unlock := s.lock(tournamentID)
	defer unlock()

	if err := s.store.ResetTournament(ctx, tournamentID); err != nil {
		return fmt.Errorf("reset tournament: %w", err)
	}

	slog.Info("portfolio reset", "tournament", tournamentID)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "portfolio_reset", TournamentID: tournamentID})
	}
	return nil
}

func (s *Service) isSettled(ctx context.Context, tournamentID string, round int) (bool, error) {
	_, err := s.store.GetSettlement(ctx, tournamentID, round)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("check settled round: %w", err)
	}
}

// rejectionKind names the engine error for metrics and API responses.
func rejectionKind(err error) string {
	var se *spending.SpendingLimitError
	var pe *ledger.PositionError
	switch {
	case errors.As(err, &se):
		return "spending_limit"
	case errors.As(err, &pe):
		return "position"
	default:
		return "internal"
	}
}
