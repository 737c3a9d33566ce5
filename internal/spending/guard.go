// Package spending implements the pre-trade spending limit check.
//
// A round's batch is accepted only if, for every player, the total cost of
// the player's buys fits inside their liquid balance. Sells do not count
// toward the limit and do not free up balance for buys in the same batch.
package spending

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pqtclub/challenge-engine/internal/model"
)

// ErrSpendingLimit is returned (wrapped in a *SpendingLimitError) when a
// player's buys for the round exceed their liquid balance.
var ErrSpendingLimit = errors.New("spending: buy cost exceeds liquid balance")

// SpendingLimitError identifies the player whose batch was rejected.
type SpendingLimitError struct {
	PlayerID  string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *SpendingLimitError) Error() string {
	return fmt.Sprintf("spending: player %s buys cost %s but only %s is available",
		e.PlayerID, e.Required.StringFixed(2), e.Available.StringFixed(2))
}

func (e *SpendingLimitError) Unwrap() error { return ErrSpendingLimit }

// Guard enforces the per-round spending limit.
type Guard struct {
	// StartingBalance is the balance assumed for players without a
	// portfolio. It is used for the check only; nothing is created.
	StartingBalance decimal.Decimal
}

// NewGuard creates a guard with the given default starting balance.
func NewGuard(startingBalance decimal.Decimal) *Guard {
	return &Guard{StartingBalance: startingBalance}
}

// Check validates a whole batch. It returns the first violating player in
// order of first appearance in trades, or nil.
func (g *Guard) Check(trades []model.Trade, portfolio model.Snapshot) error {
	costs := make(map[string]decimal.Decimal)
	var order []string

	for _, t := range trades {
		if t.Action != model.Buy {
			continue
		}
		if _, ok := costs[t.PlayerID]; !ok {
			order = append(order, t.PlayerID)
		}
		costs[t.PlayerID] = costs[t.PlayerID].Add(t.Cost())
	}

	for _, playerID := range order {
		available := g.StartingBalance
		if st, ok := portfolio[playerID]; ok && st != nil {
			available = st.LiquidBalance
		}
		if costs[playerID].GreaterThan(available) {
			return &SpendingLimitError{
				PlayerID:  playerID,
				Required:  costs[playerID],
				Available: available,
			}
		}
	}
	return nil
}
