package spending

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pqtclub/challenge-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func buy(player string, qty, price float64) model.Trade {
	return model.Trade{PlayerID: player, TeamID: "TeamA", Action: model.Buy,
		Quantity: d(qty), Asset: model.AssetRound, Price: d(price)}
}

func sell(player string, qty, price float64) model.Trade {
	t := buy(player, qty, price)
	t.Action = model.Sell
	return t
}

func TestCheck_WithinBalance(t *testing.T) {
	g := NewGuard(d(500))
	err := g.Check([]model.Trade{buy("p1", 2, 40), buy("p1", 5, 50)}, nil)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheck_ExactBalanceAllowed(t *testing.T) {
	g := NewGuard(d(500))
	if err := g.Check([]model.Trade{buy("p1", 10, 50)}, nil); err != nil {
		t.Errorf("spending exactly the balance should pass, got %v", err)
	}
}

func TestCheck_DefaultBalanceExceeded(t *testing.T) {
	g := NewGuard(d(500))
	err := g.Check([]model.Trade{buy("p1", 6, 50), buy("p1", 5, 50)}, nil)

	var limitErr *SpendingLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected SpendingLimitError, got %v", err)
	}
	if !errors.Is(err, ErrSpendingLimit) {
		t.Error("error should unwrap to ErrSpendingLimit")
	}
	if limitErr.PlayerID != "p1" {
		t.Errorf("expected player p1, got %s", limitErr.PlayerID)
	}
	if !limitErr.Required.Equal(d(550)) || !limitErr.Available.Equal(d(500)) {
		t.Errorf("unexpected amounts: required=%s available=%s", limitErr.Required, limitErr.Available)
	}
}

func TestCheck_UsesPortfolioBalance(t *testing.T) {
	g := NewGuard(d(500))
	portfolio := model.Snapshot{
		"p1": {LiquidBalance: d(900)},
		"p2": {LiquidBalance: d(50)},
	}

	if err := g.Check([]model.Trade{buy("p1", 16, 50)}, portfolio); err != nil {
		t.Errorf("p1 has 900 available, got %v", err)
	}
	if err := g.Check([]model.Trade{buy("p2", 2, 30)}, portfolio); !errors.Is(err, ErrSpendingLimit) {
		t.Errorf("p2 has only 50 available, got %v", err)
	}
}

func TestCheck_SellsExcluded(t *testing.T) {
	g := NewGuard(d(100))
	trades := []model.Trade{sell("p1", 100, 50), buy("p1", 2, 50)}
	if err := g.Check(trades, nil); err != nil {
		t.Errorf("sells should not count toward the limit, got %v", err)
	}

	trades = []model.Trade{sell("p1", 100, 50), buy("p1", 3, 50)}
	if err := g.Check(trades, nil); !errors.Is(err, ErrSpendingLimit) {
		t.Errorf("sell proceeds must not fund buys, got %v", err)
	}
}

func TestCheck_ReportsFirstViolatorInTradeOrder(t *testing.T) {
	g := NewGuard(d(10))
	trades := []model.Trade{buy("zed", 1, 50), buy("amy", 1, 50)}

	var limitErr *SpendingLimitError
	if !errors.As(g.Check(trades, nil), &limitErr) {
		t.Fatal("expected SpendingLimitError")
	}
	if limitErr.PlayerID != "zed" {
		t.Errorf("expected first violator zed, got %s", limitErr.PlayerID)
	}
}
