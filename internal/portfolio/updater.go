// Package portfolio folds a settled round back into durable player state.
package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/pqtclub/challenge-engine/internal/ledger"
	"github.com/pqtclub/challenge-engine/internal/model"
)

// Updater applies round results to a portfolio snapshot.
type Updater struct {
	StartingBalance decimal.Decimal
}

// NewUpdater creates an updater that initializes new players with the given
// liquid balance.
func NewUpdater(startingBalance decimal.Decimal) *Updater {
	return &Updater{StartingBalance: startingBalance}
}

// Apply returns a new snapshot with the round folded in. The input snapshot
// is not modified. A player is touched if they traded this round or appear
// in payouts; untouched players are copied through unchanged.
//
// For each touched player:
//   - cumulative P&L grows by the round total
//   - buys move cost from liquid balance into total invested, sells the reverse
//   - the round total is added to liquid balance
//   - positions, cost basis and marks are replaced by the ledger's state
func (u *Updater) Apply(
	snapshot model.Snapshot,
	trades []model.Trade,
	payouts map[string]model.Payout,
	l *ledger.Ledger,
) model.Snapshot {
	out := snapshot.Clone()

	touched := make(map[string]bool, len(payouts))
	for id := range payouts {
		touched[id] = true
	}
	for _, t := range trades {
		touched[t.PlayerID] = true
	}

	for id := range touched {
		if _, ok := out[id]; !ok {
			out[id] = model.NewPortfolioState(u.StartingBalance)
		}
	}

	for _, t := range trades {
		st := out[t.PlayerID]
		cost := t.Cost()
		switch t.Action {
		case model.Buy:
			st.LiquidBalance = st.LiquidBalance.Sub(cost)
			st.TotalInvested = st.TotalInvested.Add(cost)
		case model.Sell:
			st.LiquidBalance = st.LiquidBalance.Add(cost)
			st.TotalInvested = st.TotalInvested.Sub(cost)
		}
	}

	for id := range touched {
		st := out[id]
		total := payouts[id].Total
		st.CumulativePnL = st.CumulativePnL.Add(total)
		st.LiquidBalance = st.LiquidBalance.Add(total)
		st.Positions, st.CostBasis, st.Marks = l.Holdings(id)
	}

	return out
}
