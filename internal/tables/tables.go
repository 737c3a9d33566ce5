// Package tables reads and writes the CSV and JSON files exchanged with the
// challenge organizers: round price tables, tournament outcomes, trade
// batches, payout sheets and portfolio snapshots.
package tables

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pqtclub/challenge-engine/internal/contract"
	"github.com/pqtclub/challenge-engine/internal/model"
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("tables: missing required column")

// header maps lower-cased column names to their index.
type header map[string]int

func (h header) get(rec []string, names ...string) string {
	for _, n := range names {
		if i, ok := h[n]; ok && i < len(rec) {
			if v := strings.TrimSpace(rec[i]); v != "" {
				return v
			}
		}
	}
	return ""
}

func (h header) has(names ...string) bool {
	for _, n := range names {
		if _, ok := h[n]; ok {
			return true
		}
	}
	return false
}

func readAll(r io.Reader) (header, [][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("tables: read csv: %w", err)
	}
	if len(records) == 0 {
		return header{}, nil, nil
	}

	h := make(header, len(records[0]))
	for i, name := range records[0] {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		h[name] = i
	}
	return h, records[1:], nil
}

// price parses a price cell; blanks and garbage read as zero.
func price(s string) decimal.Decimal {
	p, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return p
}

// ReadPrices reads a round price table. Two layouts are accepted:
//
//	team_id,asset1_price,asset2_price
//	team_A,team_B,team_A_price,team_B_price,team_A_tournament_price,team_B_tournament_price
//
// In the matchup layout each row yields prices for both teams.
func ReadPrices(r io.Reader) (model.RoundPrices, error) {
	h, rows, err := readAll(r)
	if err != nil {
		return nil, err
	}
	prices := make(model.RoundPrices)

	switch {
	case h.has("team_a"):
		for _, rec := range rows {
			if a := h.get(rec, "team_a"); a != "" {
				prices[a] = model.TeamPrices{
					Asset1: price(h.get(rec, "team_a_price")),
					Asset2: price(h.get(rec, "team_a_tournament_price")),
				}
			}
			if b := h.get(rec, "team_b"); b != "" {
				prices[b] = model.TeamPrices{
					Asset1: price(h.get(rec, "team_b_price")),
					Asset2: price(h.get(rec, "team_b_tournament_price")),
				}
			}
		}
	case h.has("team_id"):
		for _, rec := range rows {
			team := h.get(rec, "team_id")
			if team == "" {
				continue
			}
			prices[team] = model.TeamPrices{
				Asset1: price(h.get(rec, "asset1_price", "price")),
				Asset2: price(h.get(rec, "asset2_price", "tournament_price")),
			}
		}
	default:
		if len(rows) > 0 {
			return nil, fmt.Errorf("%w: team_id or team_A", ErrMissingColumn)
		}
	}
	return prices, nil
}

// ReadOutcomes reads the tournament outcomes table and keeps the given
// round. A winner cell of "1" means the team won.
func ReadOutcomes(r io.Reader, round int) (model.Outcomes, error) {
	all, err := ReadAllOutcomes(r)
	if err != nil {
		return nil, err
	}
	if o, ok := all[round]; ok {
		return o, nil
	}
	return model.Outcomes{}, nil
}

// ReadAllOutcomes reads the outcomes table for every round.
func ReadAllOutcomes(r io.Reader) (map[int]model.Outcomes, error) {
	h, rows, err := readAll(r)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 && (!h.has("round", "round_number") || !h.has("team_id") || !h.has("winner")) {
		return nil, fmt.Errorf("%w: round, team_id, winner", ErrMissingColumn)
	}

	out := make(map[int]model.Outcomes)
	for _, rec := range rows {
		n, err := strconv.Atoi(h.get(rec, "round", "round_number"))
		if err != nil {
			continue
		}
		team := h.get(rec, "team_id")
		if team == "" {
			continue
		}
		if out[n] == nil {
			out[n] = make(model.Outcomes)
		}
		out[n][team] = h.get(rec, "winner") == "1"
	}
	return out, nil
}

// ReadTrades reads a trade batch. Rows are returned as-is; validation and
// pricing happen in contract.ParseTrades.
func ReadTrades(r io.Reader) ([]contract.TradeRow, error) {
	h, rows, err := readAll(r)
	if err != nil {
		return nil, err
	}
	out := make([]contract.TradeRow, 0, len(rows))
	for _, rec := range rows {
		out = append(out, contract.TradeRow{
			PlayerID: h.get(rec, "player_id"),
			TeamID:   h.get(rec, "team_id", "team"),
			Action:   h.get(rec, "action"),
			Quantity: h.get(rec, "quantity"),
			Asset:    h.get(rec, "asset"),
		})
	}
	return out, nil
}

// WritePayouts writes a payout sheet with two-decimal amounts.
func WritePayouts(w io.Writer, payouts []model.PlayerPayout) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"player_id", "asset1_realized", "asset2_pnl", "total_payout"}); err != nil {
		return err
	}
	for _, p := range payouts {
		if err := cw.Write([]string{
			p.PlayerID,
			p.Realized.StringFixed(2),
			p.Unrealized.StringFixed(2),
			p.Total.StringFixed(2),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadSnapshot decodes a JSON portfolio snapshot. Missing maps are
// initialized so callers can index them freely.
func ReadSnapshot(r io.Reader) (model.Snapshot, error) {
	var snap model.Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		if errors.Is(err, io.EOF) {
			return model.Snapshot{}, nil
		}
		return nil, fmt.Errorf("tables: decode portfolio: %w", err)
	}
	return snap.Normalize(), nil
}

// WriteSnapshot encodes a portfolio snapshot as indented JSON.
func WriteSnapshot(w io.Writer, snap model.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
