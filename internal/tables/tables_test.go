package tables

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pqtclub/challenge-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestReadPrices_MatchupLayout(t *testing.T) {
	csv := `match_id,team_A,team_B,team_A_price,team_B_price,team_A_tournament_price,team_B_tournament_price
1,Team_1,Team_2,62.5,37.5,20,8
2,Team_3,Team_4,50,50,,12
`
	prices, err := ReadPrices(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prices) != 4 {
		t.Fatalf("expected 4 teams, got %d", len(prices))
	}
	if !prices["Team_1"].Asset1.Equal(d(62.5)) || !prices["Team_1"].Asset2.Equal(d(20)) {
		t.Errorf("unexpected Team_1 prices: %+v", prices["Team_1"])
	}
	if !prices["Team_2"].Asset1.Equal(d(37.5)) || !prices["Team_2"].Asset2.Equal(d(8)) {
		t.Errorf("unexpected Team_2 prices: %+v", prices["Team_2"])
	}
	if !prices["Team_3"].Asset2.IsZero() {
		t.Errorf("blank price should read as 0, got %s", prices["Team_3"].Asset2)
	}
}

func TestReadPrices_FlatLayout(t *testing.T) {
	csv := "team_id,asset1_price,asset2_price\nTeamA,40,30\nTeamB, 55 ,x\n"
	prices, err := ReadPrices(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !prices.PriceFor("TeamA", model.AssetRound).Equal(d(40)) {
		t.Errorf("unexpected TeamA asset 1 price: %s", prices["TeamA"].Asset1)
	}
	if !prices.PriceFor("TeamB", model.AssetRound).Equal(d(55)) {
		t.Errorf("unexpected TeamB asset 1 price: %s", prices["TeamB"].Asset1)
	}
	if !prices.PriceFor("TeamB", model.AssetTournament).IsZero() {
		t.Errorf("garbage price should read as 0")
	}
}

func TestReadPrices_UnknownLayout(t *testing.T) {
	_, err := ReadPrices(strings.NewReader("foo,bar\n1,2\n"))
	if !errors.Is(err, ErrMissingColumn) {
		t.Errorf("expected ErrMissingColumn, got %v", err)
	}
}

func TestReadOutcomes_FiltersRound(t *testing.T) {
	csv := `round,team_id,winner
1,Team_1,1
1,Team_2,0
2,Team_1,0
`
	o, err := ReadOutcomes(strings.NewReader(csv), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !o.Won("Team_1") || o.Won("Team_2") {
		t.Errorf("unexpected round 1 outcomes: %v", o)
	}

	o, err = ReadOutcomes(strings.NewReader(csv), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Won("Team_1") || len(o) != 1 {
		t.Errorf("unexpected round 2 outcomes: %v", o)
	}

	o, _ = ReadOutcomes(strings.NewReader(csv), 4)
	if len(o) != 0 {
		t.Errorf("expected empty outcomes for unknown round, got %v", o)
	}
}

func TestReadOutcomes_RoundNumberHeader(t *testing.T) {
	csv := "round_number,team_id,winner\n3,TeamC,1\n"
	o, err := ReadOutcomes(strings.NewReader(csv), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !o.Won("TeamC") {
		t.Error("expected TeamC to have won round 3")
	}
}

func TestReadTrades_TeamFallbackColumn(t *testing.T) {
	csv := "trade_id,player_id,team,action,quantity\n1,p001,Team_4,buy,3\n2,,Team_5,SELL,1\n"
	rows, err := ReadTrades(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].TeamID != "Team_4" || rows[0].PlayerID != "p001" || rows[0].Asset != "" {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
}

func TestWritePayouts(t *testing.T) {
	var buf bytes.Buffer
	err := WritePayouts(&buf, []model.PlayerPayout{
		{PlayerID: "P1", Payout: model.Payout{Realized: d(120), Unrealized: d(0), Total: d(120)}},
		{PlayerID: "P2", Payout: model.Payout{Realized: d(-10.25), Unrealized: d(3.5), Total: d(-6.75)}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "player_id,asset1_realized,asset2_pnl,total_payout\n" +
		"P1,120.00,0.00,120.00\n" +
		"P2,-10.25,3.50,-6.75\n"
	if buf.String() != want {
		t.Errorf("unexpected output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	in := `{"p1":{"cumulative_pnl":"120","liquid_balance":"540","total_invested":"80","positions":{"TeamB_2":"1"},"cost_basis":{"TeamB_2":"30"}}}`
	snap, err := ReadSnapshot(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := snap["p1"]
	if !st.LiquidBalance.Equal(d(540)) || !st.Positions["TeamB_2"].Equal(d(1)) {
		t.Errorf("unexpected state: %+v", st)
	}
	if st.Marks == nil {
		t.Error("missing maps should be initialized")
	}

	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := ReadSnapshot(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !again["p1"].CostBasis["TeamB_2"].Equal(d(30)) {
		t.Error("cost basis lost in round trip")
	}
}

func TestReadSnapshot_Empty(t *testing.T) {
	snap, err := ReadSnapshot(strings.NewReader(""))
	if err != nil || snap == nil || len(snap) != 0 {
		t.Errorf("expected empty snapshot, got %v %v", snap, err)
	}
}
