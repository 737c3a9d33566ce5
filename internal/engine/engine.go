// Package engine runs the round settlement pipeline:
//
//	parse → spending guard → ledger → settlement → portfolio update
//
// SettleRound is a pure function of its input. Both rejection kinds
// (spending limit, oversell) are detected before any new state is built, so
// a rejected round returns no result and the caller's portfolio is untouched.
package engine

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pqtclub/challenge-engine/internal/contract"
	"github.com/pqtclub/challenge-engine/internal/ledger"
	"github.com/pqtclub/challenge-engine/internal/model"
	"github.com/pqtclub/challenge-engine/internal/portfolio"
	"github.com/pqtclub/challenge-engine/internal/settlement"
	"github.com/pqtclub/challenge-engine/internal/spending"
)

// DefaultStartingBalance is the liquid balance of a player's first round.
var DefaultStartingBalance = decimal.NewFromInt(500)

// Input is everything one round's settlement needs.
type Input struct {
	Round     model.Round
	Rows      []contract.TradeRow
	Prices    model.RoundPrices
	Outcomes  model.Outcomes
	Portfolio model.Snapshot
}

// Result is a settled round.
type Result struct {
	SettlementID string                                `json:"settlement_id"`
	Round        model.Round                           `json:"round"`
	Trades       []model.Trade                         `json:"trades"`
	Payouts      map[string]model.Payout               `json:"payouts"`
	Holdings     map[string]map[string]decimal.Decimal `json:"holdings"`
	CostBasis    map[string]map[string]decimal.Decimal `json:"cost_basis"`
	Portfolio    model.Snapshot                        `json:"portfolio"`
	Dropped      int                                   `json:"dropped_rows"`
	Unpriced     []string                              `json:"unpriced_teams,omitempty"`
}

// SortedPayouts returns payouts ordered by player ID.
func (r *Result) SortedPayouts() []model.PlayerPayout {
	out := make([]model.PlayerPayout, 0, len(r.Payouts))
	for id, p := range r.Payouts {
		out = append(out, model.PlayerPayout{PlayerID: id, Payout: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}

// Engine holds the configured pipeline stages.
type Engine struct {
	guard      *spending.Guard
	calculator *settlement.Calculator
	updater    *portfolio.Updater
}

// Config parameterizes the engine.
type Config struct {
	StartingBalance decimal.Decimal
	WinPayout       decimal.Decimal
}

// New creates an engine. Zero values fall back to defaults.
func New(cfg Config) *Engine {
	balance := cfg.StartingBalance
	if !balance.IsPositive() {
		balance = DefaultStartingBalance
	}
	return &Engine{
		guard:      spending.NewGuard(balance),
		calculator: settlement.NewCalculator(cfg.WinPayout),
		updater:    portfolio.NewUpdater(balance),
	}
}

// SettleRound settles one round. On a *spending.SpendingLimitError or
// *ledger.PositionError it returns a nil result.
func (e *Engine) SettleRound(in Input) (*Result, error) {
	parsed := contract.ParseTrades(in.Rows, in.Prices)
	return e.settle(in, parsed)
}

// SettleTrades is SettleRound for trades that are already parsed and priced.
// Trades with a negative quantity are dropped, as the parser would.
func (e *Engine) SettleTrades(in Input, trades []model.Trade) (*Result, error) {
	var parsed contract.ParseResult
	for _, t := range trades {
		if t.Quantity.IsNegative() {
			parsed.Dropped++
			continue
		}
		parsed.Trades = append(parsed.Trades, t)
	}
	return e.settle(in, parsed)
}

func (e *Engine) settle(in Input, parsed contract.ParseResult) (*Result, error) {
	if err := e.guard.Check(parsed.Trades, in.Portfolio); err != nil {
		return nil, err
	}

	l := ledger.Load(in.Portfolio)
	if err := l.Apply(parsed.Trades); err != nil {
		return nil, err
	}

	payouts := e.calculator.Settle(in.Round, parsed.Trades, l, in.Outcomes, in.Prices)
	updated := e.updater.Apply(in.Portfolio, parsed.Trades, payouts, l)

	holdings := make(map[string]map[string]decimal.Decimal, len(payouts))
	costBasis := make(map[string]map[string]decimal.Decimal, len(payouts))
	for id := range payouts {
		holdings[id], costBasis[id], _ = l.Holdings(id)
	}

	return &Result{
		SettlementID: uuid.New().String(),
		Round:        in.Round,
		Trades:       parsed.Trades,
		Payouts:      payouts,
		Holdings:     holdings,
		CostBasis:    costBasis,
		Portfolio:    updated,
		Dropped:      parsed.Dropped,
		Unpriced:     parsed.Unpriced,
	}, nil
}
