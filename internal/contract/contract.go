// Package contract normalizes raw trade rows into priced Trade records.
//
// Parsing is permissive: incomplete or malformed rows are dropped rather than
// rejected, and teams without a published price trade at zero. Strictness is
// left to the ledger and the spending guard.
package contract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pqtclub/challenge-engine/internal/model"
)

var (
	ErrInvalidAction = errors.New("contract: action must be BUY or SELL")
	ErrInvalidAsset  = errors.New("contract: asset must be 1 or 2")
)

// TradeRow is one raw row of a trade batch, as read from CSV or JSON.
type TradeRow struct {
	PlayerID string `json:"player_id"`
	TeamID   string `json:"team_id"`
	Action   string `json:"action"`
	Quantity string `json:"quantity"`
	Asset    string `json:"asset"`
}

// ParseResult is the output of ParseTrades.
type ParseResult struct {
	Trades []model.Trade

	// Dropped counts rows skipped for missing fields or an unknown action.
	Dropped int

	// Unpriced lists teams traded this round with no published price.
	Unpriced []string
}

// ParseAction parses BUY/SELL case-insensitively.
func ParseAction(s string) (model.Action, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return model.Buy, nil
	case "SELL":
		return model.Sell, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// ParseAsset parses an asset class. Blank defaults to asset 1.
func ParseAsset(s string) (model.Asset, error) {
	switch strings.TrimSpace(s) {
	case "", "1":
		return model.AssetRound, nil
	case "2":
		return model.AssetTournament, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAsset, s)
}

// ParseQuantity parses a quantity, returning zero when unparsable.
func ParseQuantity(s string) decimal.Decimal {
	q, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return q
}

// ParseTrades converts raw rows into trades priced from the round table.
// Input order is preserved.
func ParseTrades(rows []TradeRow, prices model.RoundPrices) ParseResult {
	var res ParseResult
	seenUnpriced := make(map[string]bool)

	for _, row := range rows {
		playerID := strings.TrimSpace(row.PlayerID)
		teamID := strings.TrimSpace(row.TeamID)
		if playerID == "" || teamID == "" || strings.TrimSpace(row.Action) == "" {
			res.Dropped++
			continue
		}
		action, err := ParseAction(row.Action)
		if err != nil {
			res.Dropped++
			continue
		}
		qty := ParseQuantity(row.Quantity)
		if qty.IsNegative() {
			res.Dropped++
			continue
		}
		asset, err := ParseAsset(row.Asset)
		if err != nil {
			// Anything other than "1" prices as the tournament asset.
			asset = model.AssetTournament
		}

		if !prices.Has(teamID) && !seenUnpriced[teamID] {
			seenUnpriced[teamID] = true
			res.Unpriced = append(res.Unpriced, teamID)
		}

		res.Trades = append(res.Trades, model.Trade{
			PlayerID: playerID,
			TeamID:   teamID,
			Action:   action,
			Quantity: qty,
			Asset:    asset,
			Price:    prices.PriceFor(teamID, asset),
		})
	}
	return res
}
