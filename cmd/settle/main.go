// Command settle settles one round offline from CSV files and a JSON
// portfolio file, the way the organizers run it between matches:
//
//	settle -round 2 -trades trades.csv -prices prices.csv \
//	       -outcomes outcomes.csv -portfolio portfolio.json -out payouts.csv
//
// The portfolio file is rewritten only when the round settles. A rejected
// batch exits with status 2 and leaves every file untouched.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"github.com/pqtclub/challenge-engine/internal/config"
	"github.com/pqtclub/challenge-engine/internal/engine"
	"github.com/pqtclub/challenge-engine/internal/ledger"
	"github.com/pqtclub/challenge-engine/internal/model"
	"github.com/pqtclub/challenge-engine/internal/spending"
	"github.com/pqtclub/challenge-engine/internal/tables"
)

type options struct {
	round           int
	final           bool
	finalSet        bool
	tradesPath      string
	pricesPath      string
	outcomesPath    string
	portfolioPath   string
	outPath         string
	tournamentPath  string
	startingBalance string
	winPayout       string
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(opts, os.Stdout); err != nil {
		slog.Error("settlement failed", "err", err)
		var se *spending.SpendingLimitError
		var pe *ledger.PositionError
		if errors.As(err, &se) || errors.As(err, &pe) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("settle", flag.ContinueOnError)
	fs.IntVar(&o.round, "round", 0, "round number to settle (required)")
	fs.BoolVar(&o.final, "final", false, "settle as the final round (default: last round of the tournament)")
	fs.StringVar(&o.tradesPath, "trades", "", "trade batch CSV (optional; no trades if empty)")
	fs.StringVar(&o.pricesPath, "prices", "", "round price table CSV (required)")
	fs.StringVar(&o.outcomesPath, "outcomes", "", "tournament outcomes CSV")
	fs.StringVar(&o.portfolioPath, "portfolio", "portfolio.json", "portfolio snapshot JSON, read and rewritten")
	fs.StringVar(&o.outPath, "out", "-", "payouts CSV output path, - for stdout")
	fs.StringVar(&o.tournamentPath, "tournament", "", "tournament YAML (round names, balance, payout)")
	fs.StringVar(&o.startingBalance, "starting-balance", "", "starting balance for new players")
	fs.StringVar(&o.winPayout, "win-payout", "", "per-unit payout of a winning contract")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "final" {
			o.finalSet = true
		}
	})

	if o.round <= 0 {
		return o, errors.New("settle: -round is required")
	}
	if o.pricesPath == "" {
		return o, errors.New("settle: -prices is required")
	}
	return o, nil
}

func run(o options, stdout io.Writer) error {
	tour := config.DefaultTournament()
	if o.tournamentPath != "" {
		t, err := config.LoadTournament(o.tournamentPath)
		if err != nil {
			return err
		}
		tour = t
	}
	if o.startingBalance != "" {
		b, err := decimal.NewFromString(o.startingBalance)
		if err != nil {
			return fmt.Errorf("settle: -starting-balance: %w", err)
		}
		if !b.IsPositive() {
			return errors.New("settle: -starting-balance must be positive")
		}
		tour.StartingBalance = b
	}
	if o.winPayout != "" {
		p, err := decimal.NewFromString(o.winPayout)
		if err != nil {
			return fmt.Errorf("settle: -win-payout: %w", err)
		}
		if !p.IsPositive() {
			return errors.New("settle: -win-payout must be positive")
		}
		tour.WinPayout = p
	}

	if !tour.ValidRound(o.round) {
		return fmt.Errorf("settle: round %d outside 1-%d", o.round, tour.FinalRound())
	}
	final := tour.IsFinal(o.round)
	if o.finalSet {
		final = o.final
	}

	prices, err := readFile(o.pricesPath, tables.ReadPrices)
	if err != nil {
		return err
	}

	outcomes := model.Outcomes{}
	if o.outcomesPath != "" {
		outcomes, err = readFile(o.outcomesPath, func(r io.Reader) (model.Outcomes, error) {
			return tables.ReadOutcomes(r, o.round)
		})
		if err != nil {
			return err
		}
	}

	var in engine.Input
	if o.tradesPath != "" {
		in.Rows, err = readFile(o.tradesPath, tables.ReadTrades)
		if err != nil {
			return err
		}
	}

	snapshot, err := readFile(o.portfolioPath, tables.ReadSnapshot)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("no portfolio file, starting fresh", "path", o.portfolioPath)
		snapshot, err = model.Snapshot{}, nil
	}
	if err != nil {
		return err
	}

	in.Round = model.Round{Number: o.round, Final: final}
	in.Prices = prices
	in.Outcomes = outcomes
	in.Portfolio = snapshot

	res, err := engine.New(engine.Config{
		StartingBalance: tour.StartingBalance,
		WinPayout:       tour.WinPayout,
	}).SettleRound(in)
	if err != nil {
		return err
	}

	if len(res.Unpriced) > 0 {
		slog.Warn("trades on teams without a published price settled at 0", "teams", res.Unpriced)
	}

	if err := writePayouts(o.outPath, stdout, res.SortedPayouts()); err != nil {
		return err
	}
	if err := writeSnapshot(o.portfolioPath, res.Portfolio); err != nil {
		return err
	}

	slog.Info("round settled",
		"round", o.round,
		"round_name", tour.RoundName(o.round),
		"final", final,
		"trades", len(res.Trades),
		"dropped_rows", res.Dropped,
		"players", len(res.Payouts),
	)
	return nil
}

func readFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()

	v, err := read(f)
	if err != nil {
		return v, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func writePayouts(path string, stdout io.Writer, payouts []model.PlayerPayout) error {
	if path == "" || path == "-" {
		return tables.WritePayouts(stdout, payouts)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := tables.WritePayouts(f, payouts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeSnapshot replaces the portfolio file via a temp file and rename, so
// a crash mid-write never leaves a truncated snapshot behind.
func writeSnapshot(path string, snap model.Snapshot) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".portfolio-*.json")
	if err != nil {
		return err
	}
	if err := tables.WriteSnapshot(tmp, snap); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
