// Package settlement computes each player's P&L for a round.
//
// Round contracts (asset 1) are settled per trade at round end: a winning
// team pays WinPayout per unit, a losing team pays nothing. Buys earn
// payout − cost, sells earn cost − payout. All of it is realized.
//
// Tournament contracts (asset 2) are settled from the ledger using cost
// basis, so a position built over several rounds is valued against its
// average entry price:
//   - ordinary round, team lost: closed at 0, realized
//   - ordinary round, team alive: marked at the round's asset-2 price,
//     unrealized, left open
//   - final round: closed at WinPayout if the team won, else 0, realized
//
// The calculator is stateless; it only mutates the ledger it is given.
package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/pqtclub/challenge-engine/internal/ledger"
	"github.com/pqtclub/challenge-engine/internal/model"
)

// DefaultWinPayout is the per-unit settlement price of a winning contract.
var DefaultWinPayout = decimal.NewFromInt(100)

// Calculator settles rounds.
type Calculator struct {
	WinPayout decimal.Decimal
}

// NewCalculator creates a calculator. A non-positive payout falls back to
// DefaultWinPayout.
func NewCalculator(winPayout decimal.Decimal) *Calculator {
	if !winPayout.IsPositive() {
		winPayout = DefaultWinPayout
	}
	return &Calculator{WinPayout: winPayout}
}

// Settle computes payouts for every player in the ledger and leaves the
// ledger in its post-settlement state: no round positions, and in the final
// round no tournament positions either. The ledger must already have the
// round's trades applied.
func (c *Calculator) Settle(
	round model.Round,
	trades []model.Trade,
	l *ledger.Ledger,
	outcomes model.Outcomes,
	prices model.RoundPrices,
) map[string]model.Payout {
	realized := make(map[string]decimal.Decimal)
	unrealized := make(map[string]decimal.Decimal)

	for _, id := range l.Players() {
		realized[id] = decimal.Zero
		unrealized[id] = decimal.Zero
	}

	// Round contracts: one settlement per trade of this round.
	for _, t := range trades {
		if t.Asset != model.AssetRound {
			continue
		}
		realized[t.PlayerID] = realized[t.PlayerID].Add(c.roundTradePnL(t, outcomes))
	}
	l.ClearAsset(model.AssetRound)

	// Tournament contracts: every open position of every player.
	for _, id := range l.Players() {
		for _, h := range l.Open(id, model.AssetTournament) {
			won := outcomes.Won(h.TeamID)

			switch {
			case round.Final:
				price := decimal.Zero
				if won {
					price = c.WinPayout
				}
				realized[id] = realized[id].Add(positionPnL(h.Position, price))

			case !won:
				realized[id] = realized[id].Add(positionPnL(h.Position, decimal.Zero))
				l.Close(id, h.Key)

			default:
				mark := prices.PriceFor(h.TeamID, model.AssetTournament)
				unrealized[id] = unrealized[id].Add(positionPnL(h.Position, mark))
				l.Mark(id, h.Key, mark)
			}
		}
	}
	if round.Final {
		l.ClearAsset(model.AssetTournament)
	}

	payouts := make(map[string]model.Payout, len(realized))
	for id, r := range realized {
		u := unrealized[id]
		payouts[id] = model.Payout{
			Realized:   r,
			Unrealized: u,
			Total:      r.Add(u),
		}
	}
	return payouts
}

func (c *Calculator) roundTradePnL(t model.Trade, outcomes model.Outcomes) decimal.Decimal {
	payout := decimal.Zero
	if outcomes.Won(t.TeamID) {
		payout = t.Quantity.Mul(c.WinPayout)
	}
	cost := t.Cost()
	if t.Action == model.Sell {
		return cost.Sub(payout)
	}
	return payout.Sub(cost)
}

// positionPnL values a held position at price against its cost basis.
func positionPnL(p model.Position, price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price.Sub(p.CostBasis))
}
