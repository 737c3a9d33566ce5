// Package config loads service settings from the environment and the
// tournament layout from an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds process-level settings.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration
	LogLevel    slog.Level
	Tournament  Tournament
}

// Tournament describes the round structure and economics of a challenge.
type Tournament struct {
	// Rounds lists round names in order; round N is Rounds[N-1]. The last
	// round is the Finals.
	Rounds          []string
	StartingBalance decimal.Decimal
	WinPayout       decimal.Decimal
}

type tournamentFile struct {
	Rounds          []string `yaml:"rounds"`
	StartingBalance string   `yaml:"starting_balance"`
	WinPayout       string   `yaml:"win_payout"`
}

// DefaultTournament is a 32-team single-elimination bracket.
func DefaultTournament() Tournament {
	return Tournament{
		Rounds:          []string{"Round of 32", "Round of 16", "Quarterfinals", "Semifinals", "Finals"},
		StartingBalance: decimal.NewFromInt(500),
		WinPayout:       decimal.NewFromInt(100),
	}
}

// FinalRound is the number of the terminal round.
func (t Tournament) FinalRound() int {
	return len(t.Rounds)
}

// IsFinal reports whether round n is the terminal round.
func (t Tournament) IsFinal(n int) bool {
	return n == t.FinalRound()
}

// ValidRound reports whether n names a round of this tournament.
func (t Tournament) ValidRound(n int) bool {
	return n >= 1 && n <= t.FinalRound()
}

// RoundName returns the display name of round n.
func (t Tournament) RoundName(n int) string {
	if !t.ValidRound(n) {
		return fmt.Sprintf("Round %d", n)
	}
	return t.Rounds[n-1]
}

// Load reads configuration from the environment. TOURNAMENT_CONFIG, if set,
// points to a YAML file overriding the default tournament.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		CacheTTL:    getEnvDuration("CACHE_TTL", 30*time.Second),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),
		Tournament:  DefaultTournament(),
	}

	if path := os.Getenv("TOURNAMENT_CONFIG"); path != "" {
		t, err := LoadTournament(path)
		if err != nil {
			return nil, err
		}
		cfg.Tournament = t
	}

	if v := os.Getenv("STARTING_BALANCE"); v != "" {
		b, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("config: STARTING_BALANCE: %w", err)
		}
		if !b.IsPositive() {
			return nil, errors.New("config: STARTING_BALANCE must be positive")
		}
		cfg.Tournament.StartingBalance = b
	}

	return cfg, nil
}

// LoadTournament reads a tournament YAML file:
//
//	rounds: [Round of 16, Quarterfinals, Semifinals, Finals]
//	starting_balance: "10000"
//	win_payout: "100"
//
// Omitted fields keep their defaults.
func LoadTournament(path string) (Tournament, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tournament{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseTournament(data)
}

// ParseTournament parses tournament YAML.
func ParseTournament(data []byte) (Tournament, error) {
	var f tournamentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Tournament{}, fmt.Errorf("config: parse tournament: %w", err)
	}

	t := DefaultTournament()
	if len(f.Rounds) > 0 {
		t.Rounds = f.Rounds
	}
	if f.StartingBalance != "" {
		b, err := decimal.NewFromString(f.StartingBalance)
		if err != nil {
			return Tournament{}, fmt.Errorf("config: starting_balance: %w", err)
		}
		t.StartingBalance = b
	}
	if f.WinPayout != "" {
		p, err := decimal.NewFromString(f.WinPayout)
		if err != nil {
			return Tournament{}, fmt.Errorf("config: win_payout: %w", err)
		}
		t.WinPayout = p
	}

	if !t.StartingBalance.IsPositive() {
		return Tournament{}, errors.New("config: starting_balance must be positive")
	}
	if !t.WinPayout.IsPositive() {
		return Tournament{}, errors.New("config: win_payout must be positive")
	}
	return t, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}
