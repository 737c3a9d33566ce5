// Package ledger maintains per-player positions and cost basis while a round
// is being settled.
//
// A Ledger is working state owned by one settlement run. It is loaded from
// the durable portfolio snapshot, trades are layered on top in input order,
// and the settlement calculator then closes or marks positions. The snapshot
// it was loaded from is never modified.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/pqtclub/challenge-engine/internal/model"
)

// ErrOversell is returned (wrapped in a *PositionError) when a sell exceeds
// the quantity held.
var ErrOversell = errors.New("ledger: sell exceeds held quantity")

// PositionError identifies the trade that would oversell a position.
type PositionError struct {
	PlayerID  string
	TeamID    string
	Asset     model.Asset
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("ledger: player %s cannot sell %s of %s asset %s, holds %s",
		e.PlayerID, e.Requested, e.TeamID, e.Asset, e.Available)
}

func (e *PositionError) Unwrap() error { return ErrOversell }

type entry struct {
	teamID    string
	asset     model.Asset
	quantity  decimal.Decimal
	costBasis decimal.Decimal
	mark      decimal.Decimal
	marked    bool
}

type book map[string]*entry

func (b book) clone() book {
	out := make(book, len(b))
	for k, e := range b {
		c := *e
		out[k] = &c
	}
	return out
}

// Holding is a read-only view of one open position.
type Holding struct {
	Key    string
	TeamID string
	Asset  model.Asset
	model.Position
}

// Ledger holds the working positions of every player touched by a round.
type Ledger struct {
	books map[string]book
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{books: make(map[string]book)}
}

// Load builds a ledger from durable portfolio state. Players with open
// positions are included. Round-contract keys left in the snapshot belong to
// an earlier round and have expired, so they are not carried in; the player
// is still loaded so the stale keys get cleared on write-back.
func Load(snapshot model.Snapshot) *Ledger {
	l := New()
	for playerID, st := range snapshot {
		if st == nil || len(st.Positions) == 0 {
			continue
		}
		b := make(book)
		for key, qty := range st.Positions {
			teamID, asset, ok := model.ParsePositionKey(key)
			if !ok || asset != model.AssetTournament || !qty.IsPositive() {
				continue
			}
			e := &entry{
				teamID:    teamID,
				asset:     asset,
				quantity:  qty,
				costBasis: st.CostBasis[key],
			}
			if mark, ok := st.Marks[key]; ok {
				e.mark, e.marked = mark, true
			}
			b[key] = e
		}
		l.books[playerID] = b
	}
	return l
}

// Apply layers trades on top of the ledger in input order. If any sell would
// oversell, the ledger is left exactly as it was and a *PositionError is
// returned.
func (l *Ledger) Apply(trades []model.Trade) error {
	working := make(map[string]book, len(l.books))
	for id, b := range l.books {
		working[id] = b.clone()
	}

	for _, t := range trades {
		b, ok := working[t.PlayerID]
		if !ok {
			b = make(book)
			working[t.PlayerID] = b
		}
		key := t.Key()
		e := b[key]

		switch t.Action {
		case model.Buy:
			if e == nil {
				e = &entry{teamID: t.TeamID, asset: t.Asset}
				b[key] = e
			}
			newQty := e.quantity.Add(t.Quantity)
			if newQty.IsPositive() {
				e.costBasis = e.quantity.Mul(e.costBasis).Add(t.Cost()).Div(newQty)
			}
			e.quantity = newQty

		case model.Sell:
			held := decimal.Zero
			if e != nil {
				held = e.quantity
			}
			if held.LessThan(t.Quantity) {
				return &PositionError{
					PlayerID:  t.PlayerID,
					TeamID:    t.TeamID,
					Asset:     t.Asset,
					Requested: t.Quantity,
					Available: held,
				}
			}
			if e == nil {
				continue
			}
			e.quantity = e.quantity.Sub(t.Quantity)
		}

		if e != nil && !e.quantity.IsPositive() {
			delete(b, key)
		}
	}

	l.books = working
	return nil
}

// Players returns every player in the ledger, sorted.
func (l *Ledger) Players() []string {
	ids := make([]string, 0, len(l.books))
	for id := range l.books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns a player's position for a key.
func (l *Ledger) Get(playerID, key string) (model.Position, bool) {
	e, ok := l.books[playerID][key]
	if !ok {
		return model.Position{}, false
	}
	return model.Position{Quantity: e.quantity, CostBasis: e.costBasis}, true
}

// Open returns a player's open positions in one asset, sorted by key.
func (l *Ledger) Open(playerID string, asset model.Asset) []Holding {
	var out []Holding
	for key, e := range l.books[playerID] {
		if e.asset != asset {
			continue
		}
		out = append(out, Holding{
			Key:      key,
			TeamID:   e.teamID,
			Asset:    e.asset,
			Position: model.Position{Quantity: e.quantity, CostBasis: e.costBasis},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Close removes a position.
func (l *Ledger) Close(playerID, key string) {
	delete(l.books[playerID], key)
}

// Mark records the latest mark-to-market price of an open position.
func (l *Ledger) Mark(playerID, key string, price decimal.Decimal) {
	if e, ok := l.books[playerID][key]; ok {
		e.mark, e.marked = price, true
	}
}

// ClearAsset closes every position in the given asset for every player.
func (l *Ledger) ClearAsset(asset model.Asset) {
	for _, b := range l.books {
		for key, e := range b {
			if e.asset == asset {
				delete(b, key)
			}
		}
	}
}

// Holdings returns a player's positions, cost basis and marks as the
// key-indexed maps stored in PortfolioState.
func (l *Ledger) Holdings(playerID string) (positions, costBasis, marks map[string]decimal.Decimal) {
	positions = make(map[string]decimal.Decimal)
	costBasis = make(map[string]decimal.Decimal)
	marks = make(map[string]decimal.Decimal)
	for key, e := range l.books[playerID] {
		positions[key] = e.quantity
		costBasis[key] = e.costBasis
		if e.marked {
			marks[key] = e.mark
		}
	}
	return positions, costBasis, marks
}
