package contract

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pqtclub/challenge-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func testPrices() model.RoundPrices {
	return model.RoundPrices{
		"TeamA": {Asset1: d(40), Asset2: d(30)},
		"TeamB": {Asset1: d(55), Asset2: d(62.5)},
	}
}

func TestParseTrades_Valid(t *testing.T) {
	rows := []TradeRow{
		{PlayerID: "p1", TeamID: "TeamA", Action: "BUY", Quantity: "2", Asset: "1"},
		{PlayerID: "p2", TeamID: "TeamB", Action: "sell", Quantity: "3", Asset: "2"},
	}
	res := ParseTrades(rows, testPrices())

	if len(res.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(res.Trades))
	}
	if res.Dropped != 0 {
		t.Errorf("expected no dropped rows, got %d", res.Dropped)
	}

	first := res.Trades[0]
	if first.Action != model.Buy || first.Asset != model.AssetRound {
		t.Errorf("unexpected first trade: %+v", first)
	}
	if !first.Price.Equal(d(40)) {
		t.Errorf("expected asset 1 price 40, got %s", first.Price)
	}
	if !first.Cost().Equal(d(80)) {
		t.Errorf("expected cost 80, got %s", first.Cost())
	}

	second := res.Trades[1]
	if second.Action != model.Sell || second.Asset != model.AssetTournament {
		t.Errorf("unexpected second trade: %+v", second)
	}
	if !second.Price.Equal(d(62.5)) {
		t.Errorf("expected asset 2 price 62.5, got %s", second.Price)
	}
}

func TestParseTrades_DropsIncompleteRows(t *testing.T) {
	rows := []TradeRow{
		{PlayerID: "", TeamID: "TeamA", Action: "BUY", Quantity: "1"},
		{PlayerID: "p1", TeamID: "  ", Action: "BUY", Quantity: "1"},
		{PlayerID: "p1", TeamID: "TeamA", Action: "", Quantity: "1"},
		{PlayerID: "p1", TeamID: "TeamA", Action: "HOLD", Quantity: "1"},
		{PlayerID: "p1", TeamID: "TeamA", Action: "buy", Quantity: "1"},
	}
	res := ParseTrades(rows, testPrices())

	if res.Dropped != 4 {
		t.Errorf("expected 4 dropped rows, got %d", res.Dropped)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
}

func TestParseTrades_Defaults(t *testing.T) {
	rows := []TradeRow{
		{PlayerID: "p1", TeamID: "TeamA", Action: "BUY", Quantity: "lots"},
	}
	res := ParseTrades(rows, testPrices())

	tr := res.Trades[0]
	if !tr.Quantity.IsZero() {
		t.Errorf("unparsable quantity should default to 0, got %s", tr.Quantity)
	}
	if tr.Asset != model.AssetRound {
		t.Errorf("blank asset should default to 1, got %s", tr.Asset)
	}
}

func TestParseTrades_DropsNegativeQuantity(t *testing.T) {
	rows := []TradeRow{
		{PlayerID: "p1", TeamID: "TeamA", Action: "BUY", Quantity: "-100", Asset: "2"},
		{PlayerID: "p1", TeamID: "TeamA", Action: "SELL", Quantity: "-100", Asset: "2"},
		{PlayerID: "p1", TeamID: "TeamA", Action: "BUY", Quantity: "0", Asset: "1"},
	}
	res := ParseTrades(rows, testPrices())

	if res.Dropped != 2 {
		t.Errorf("expected 2 dropped rows, got %d", res.Dropped)
	}
	if len(res.Trades) != 1 || !res.Trades[0].Quantity.IsZero() {
		t.Errorf("expected only the zero-quantity trade to survive, got %+v", res.Trades)
	}
}

func TestParseTrades_UnknownTeamPricesAtZero(t *testing.T) {
	rows := []TradeRow{
		{PlayerID: "p1", TeamID: "TeamZ", Action: "BUY", Quantity: "5", Asset: "1"},
		{PlayerID: "p2", TeamID: "TeamZ", Action: "BUY", Quantity: "1", Asset: "2"},
	}
	res := ParseTrades(rows, testPrices())

	for _, tr := range res.Trades {
		if !tr.Price.IsZero() {
			t.Errorf("unknown team should price at 0, got %s", tr.Price)
		}
	}
	if len(res.Unpriced) != 1 || res.Unpriced[0] != "TeamZ" {
		t.Errorf("expected TeamZ reported once as unpriced, got %v", res.Unpriced)
	}
}

func TestParseTrades_PreservesOrder(t *testing.T) {
	rows := []TradeRow{
		{PlayerID: "p1", TeamID: "TeamA", Action: "BUY", Quantity: "1"},
		{PlayerID: "p1", TeamID: "TeamA", Action: "SELL", Quantity: "1"},
		{PlayerID: "p1", TeamID: "TeamA", Action: "BUY", Quantity: "2"},
	}
	res := ParseTrades(rows, testPrices())

	want := []model.Action{model.Buy, model.Sell, model.Buy}
	for i, tr := range res.Trades {
		if tr.Action != want[i] {
			t.Errorf("trade %d: expected %s, got %s", i, want[i], tr.Action)
		}
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in   string
		want model.Action
	}{
		{"BUY", model.Buy},
		{"buy", model.Buy},
		{" Sell ", model.Sell},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		if err != nil {
			t.Errorf("ParseAction(%q): unexpected error %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseAction(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := ParseAction("short"); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("expected ErrInvalidAction, got %v", err)
	}
}

func TestParseAsset_Invalid(t *testing.T) {
	if _, err := ParseAsset("3"); !errors.Is(err, ErrInvalidAsset) {
		t.Errorf("expected ErrInvalidAsset, got %v", err)
	}
}
