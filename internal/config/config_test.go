package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDefaultTournament(t *testing.T) {
	tour := DefaultTournament()
	if tour.FinalRound() != 5 {
		t.Errorf("expected 5 rounds, got %d", tour.FinalRound())
	}
	if !tour.IsFinal(5) || tour.IsFinal(4) {
		t.Error("round 5 should be the only final")
	}
	if tour.ValidRound(0) || tour.ValidRound(6) || !tour.ValidRound(1) {
		t.Error("unexpected round validity")
	}
	if tour.RoundName(3) != "Quarterfinals" {
		t.Errorf("unexpected round name %q", tour.RoundName(3))
	}
}

func TestParseTournament_Overrides(t *testing.T) {
	tour, err := ParseTournament([]byte(`
rounds: [Semifinals, Finals]
starting_balance: "10000"
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tour.FinalRound() != 2 || tour.RoundName(2) != "Finals" {
		t.Errorf("unexpected rounds: %v", tour.Rounds)
	}
	if !tour.StartingBalance.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("expected starting balance 10000, got %s", tour.StartingBalance)
	}
	if !tour.WinPayout.Equal(decimal.NewFromInt(100)) {
		t.Errorf("win payout should keep its default, got %s", tour.WinPayout)
	}
}

func TestParseTournament_Invalid(t *testing.T) {
	tests := []string{
		"rounds: {not: a list}",
		`starting_balance: "lots"`,
		`starting_balance: "-5"`,
		`win_payout: "0"`,
	}
	for _, in := range tests {
		if _, err := ParseTournament([]byte(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tournament.yaml")
	if err := os.WriteFile(path, []byte("rounds: [A, B, C]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_TTL", "1m")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TOURNAMENT_CONFIG", path)
	t.Setenv("STARTING_BALANCE", "750")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.CacheTTL != time.Minute {
		t.Errorf("expected 1m ttl, got %s", cfg.CacheTTL)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("expected debug level, got %s", cfg.LogLevel)
	}
	if cfg.Tournament.FinalRound() != 3 {
		t.Errorf("expected 3 rounds from file, got %d", cfg.Tournament.FinalRound())
	}
	if !cfg.Tournament.StartingBalance.Equal(decimal.NewFromInt(750)) {
		t.Errorf("expected env starting balance, got %s", cfg.Tournament.StartingBalance)
	}
}

func TestLoad_MissingTournamentFile(t *testing.T) {
	t.Setenv("TOURNAMENT_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for missing tournament file")
	}
}

func TestLoad_RejectsNonPositiveStartingBalance(t *testing.T) {
	for _, v := range []string{"0", "-10"} {
		t.Setenv("STARTING_BALANCE", v)
		if _, err := Load(); err == nil {
			t.Errorf("STARTING_BALANCE=%s: expected error", v)
		}
	}
}
