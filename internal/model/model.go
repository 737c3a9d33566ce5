// Package model defines the core domain types shared across the challenge engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Action is the direction of a trade.
type Action string

const (
	Buy  Action = "buy"
	Sell Action = "sell"
)

// Asset identifies one of the two synthetic contracts traded on a team.
type Asset int

const (
	// AssetRound pays out on a single round's result and always expires at
	// the end of the round it was opened in.
	AssetRound Asset = 1

	// AssetTournament tracks a team's survival and carries across rounds
	// until the team is eliminated or the Finals settle.
	AssetTournament Asset = 2
)

func (a Asset) String() string {
	return fmt.Sprintf("%d", int(a))
}

// Trade is one player instruction for one round. The price is resolved from
// the round's published price table, never supplied by the player.
type Trade struct {
	PlayerID string          `json:"player_id"`
	TeamID   string          `json:"team_id"`
	Action   Action          `json:"action"`
	Quantity decimal.Decimal `json:"quantity"`
	Asset    Asset           `json:"asset"`
	Price    decimal.Decimal `json:"price"`
}

// Cost is quantity × price.
func (t Trade) Cost() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// Key returns the position key this trade touches.
func (t Trade) Key() string {
	return PositionKey(t.TeamID, t.Asset)
}

// PositionKey builds the "team_asset" key used in portfolio maps.
func PositionKey(teamID string, asset Asset) string {
	return teamID + "_" + asset.String()
}

// ParsePositionKey splits a "team_asset" key. Team IDs may themselves contain
// underscores (e.g. "Team_12"), so the split is on the last one.
func ParsePositionKey(key string) (teamID string, asset Asset, ok bool) {
	i := strings.LastIndex(key, "_")
	if i <= 0 || i == len(key)-1 {
		return "", 0, false
	}
	switch key[i+1:] {
	case "1":
		return key[:i], AssetRound, true
	case "2":
		return key[:i], AssetTournament, true
	}
	return "", 0, false
}

// Position is a player's stake in one (team, asset) pair.
type Position struct {
	Quantity  decimal.Decimal `json:"quantity"`
	CostBasis decimal.Decimal `json:"cost_basis"` // quantity-weighted average entry price
}

// PortfolioState is the durable per-player state carried between rounds.
type PortfolioState struct {
	CumulativePnL decimal.Decimal            `json:"cumulative_pnl"`
	LiquidBalance decimal.Decimal            `json:"liquid_balance"`
	TotalInvested decimal.Decimal            `json:"total_invested"`
	Positions     map[string]decimal.Decimal `json:"positions"`
	CostBasis     map[string]decimal.Decimal `json:"cost_basis"`
	Marks         map[string]decimal.Decimal `json:"marks,omitempty"` // last mark-to-market price per open key
}

// NewPortfolioState returns the state of a player with no history.
func NewPortfolioState(startingBalance decimal.Decimal) *PortfolioState {
	return &PortfolioState{
		LiquidBalance: startingBalance,
		Positions:     make(map[string]decimal.Decimal),
		CostBasis:     make(map[string]decimal.Decimal),
		Marks:         make(map[string]decimal.Decimal),
	}
}

// Clone returns a deep copy.
func (p *PortfolioState) Clone() *PortfolioState {
	c := *p
	c.Positions = cloneMap(p.Positions)
	c.CostBasis = cloneMap(p.CostBasis)
	c.Marks = cloneMap(p.Marks)
	return &c
}

func cloneMap(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Snapshot maps player ID to portfolio state for one tournament.
type Snapshot map[string]*PortfolioState

// Clone returns a deep copy of every player's state.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, st := range s {
		if st == nil {
			continue
		}
		out[id] = st.Clone()
	}
	return out
}

// Normalize drops nil entries and initializes missing maps, as left by
// decoding JSON that omitted them. A nil snapshot becomes empty.
func (s Snapshot) Normalize() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	for id, st := range s {
		if st == nil {
			delete(s, id)
			continue
		}
		if st.Positions == nil {
			st.Positions = make(map[string]decimal.Decimal)
		}
		if st.CostBasis == nil {
			st.CostBasis = make(map[string]decimal.Decimal)
		}
		if st.Marks == nil {
			st.Marks = make(map[string]decimal.Decimal)
		}
	}
	return s
}

// TeamPrices holds one team's published prices for a round.
type TeamPrices struct {
	Asset1 decimal.Decimal `json:"asset1_price"`
	Asset2 decimal.Decimal `json:"asset2_price"`
}

// RoundPrices maps team ID to its prices for one round.
type RoundPrices map[string]TeamPrices

// PriceFor returns the published price of a team's asset. Teams missing from
// the table price at zero.
func (p RoundPrices) PriceFor(teamID string, asset Asset) decimal.Decimal {
	tp, ok := p[teamID]
	if !ok {
		return decimal.Zero
	}
	if asset == AssetRound {
		return tp.Asset1
	}
	return tp.Asset2
}

// Has reports whether the team has a published price.
func (p RoundPrices) Has(teamID string) bool {
	_, ok := p[teamID]
	return ok
}

// Outcomes maps team ID to whether it won the round.
type Outcomes map[string]bool

// Won reports the team's result; unknown teams count as losses.
func (o Outcomes) Won(teamID string) bool {
	return o[teamID]
}

// Payout is one player's settlement for one round.
//
// The JSON names are kept from the original wire format: realized Asset-2
// losses are reported under "asset1_realized" alongside Asset-1 results.
type Payout struct {
	Realized   decimal.Decimal `json:"asset1_realized"`
	Unrealized decimal.Decimal `json:"asset2_pnl"`
	Total      decimal.Decimal `json:"total"`
}

// PlayerPayout pairs a payout with its player, for ordered output.
type PlayerPayout struct {
	PlayerID string `json:"player_id"`
	Payout
}

// Round identifies the round being settled.
type Round struct {
	Number int  `json:"number"`
	Final  bool `json:"final"`
}

// Settlement is the immutable record of a committed round.
// Once stored it is never modified; a tournament reset deletes it.
type Settlement struct {
	ID           string         `json:"settlement_id"`
	TournamentID string         `json:"tournament_id"`
	Round        Round          `json:"round"`
	Trades       int            `json:"trades"`
	Payouts      []PlayerPayout `json:"payouts"`
	SettledAt    time.Time      `json:"settled_at"`
}
