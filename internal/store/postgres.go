package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pqtclub/challenge-engine/internal/model"
)

// Schema creates the tables used by PostgresStore. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS round_prices (
    tournament_id TEXT    NOT NULL,
    round         INT     NOT NULL,
    team_id       TEXT    NOT NULL,
    asset1_price  NUMERIC NOT NULL,
    asset2_price  NUMERIC NOT NULL,
    PRIMARY KEY (tournament_id, round, team_id)
);

CREATE TABLE IF NOT EXISTS round_outcomes (
    tournament_id TEXT    NOT NULL,
    round         INT     NOT NULL,
    team_id       TEXT    NOT NULL,
    won           BOOLEAN NOT NULL,
    PRIMARY KEY (tournament_id, round, team_id)
);

CREATE TABLE IF NOT EXISTS portfolios (
    tournament_id  TEXT    NOT NULL,
    player_id      TEXT    NOT NULL,
    cumulative_pnl NUMERIC NOT NULL,
    liquid_balance NUMERIC NOT NULL,
    total_invested NUMERIC NOT NULL,
    PRIMARY KEY (tournament_id, player_id)
);

CREATE TABLE IF NOT EXISTS portfolio_positions (
    tournament_id TEXT    NOT NULL,
    player_id     TEXT    NOT NULL,
    position_key  TEXT    NOT NULL,
    quantity      NUMERIC NOT NULL,
    cost_basis    NUMERIC NOT NULL,
    mark          NUMERIC,
    PRIMARY KEY (tournament_id, player_id, position_key),
    FOREIGN KEY (tournament_id, player_id) REFERENCES portfolios ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS settlements (
    id            TEXT        PRIMARY KEY,
    tournament_id TEXT        NOT NULL,
    round         INT         NOT NULL,
    final         BOOLEAN     NOT NULL,
    trades        INT         NOT NULL,
    settled_at    TIMESTAMPTZ NOT NULL,
    UNIQUE (tournament_id, round)
);

CREATE TABLE IF NOT EXISTS settlement_payouts (
    settlement_id   TEXT    NOT NULL REFERENCES settlements(id) ON DELETE CASCADE,
    player_id       TEXT    NOT NULL,
    asset1_realized NUMERIC NOT NULL,
    asset2_pnl      NUMERIC NOT NULL,
    total           NUMERIC NOT NULL,
    PRIMARY KEY (settlement_id, player_id)
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) PutRoundPrices(ctx context.Context, tournamentID string, round int, prices model.RoundPrices) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		b.Queue(`DELETE FROM round_prices WHERE tournament_id = $1 AND round = $2`, tournamentID, round)
		for team, p := range prices {
			b.Queue(
				`INSERT INTO round_prices (tournament_id, round, team_id, asset1_price, asset2_price)
				 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)`,
				tournamentID, round, team, p.Asset1.String(), p.Asset2.String(),
			)
		}
		return tx.SendBatch(ctx, b).Close()
	})
}

func (s *PostgresStore) GetRoundPrices(ctx context.Context, tournamentID string, round int) (model.RoundPrices, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT team_id, asset1_price::TEXT, asset2_price::TEXT
		 FROM round_prices WHERE tournament_id = $1 AND round = $2`, tournamentID, round)
	if err != nil {
		return nil, fmt.Errorf("get prices %s/%d: %w", tournamentID, round, err)
	}
	defer rows.Close()

	prices := make(model.RoundPrices)
	for rows.Next() {
		var team, a1, a2 string
		if err := rows.Scan(&team, &a1, &a2); err != nil {
			return nil, err
		}
		prices[team] = model.TeamPrices{Asset1: dec(a1), Asset2: dec(a2)}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, ErrNotFound
	}
	return prices, nil
}

func (s *PostgresStore) PutOutcomes(ctx context.Context, tournamentID string, outcomes map[int]model.Outcomes) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for round, o := range outcomes {
			b.Queue(`DELETE FROM round_outcomes WHERE tournament_id = $1 AND round = $2`, tournamentID, round)
			for team, won := range o {
				b.Queue(
					`INSERT INTO round_outcomes (tournament_id, round, team_id, won) VALUES ($1, $2, $3, $4)`,
					tournamentID, round, team, won,
				)
			}
		}
		return tx.SendBatch(ctx, b).Close()
	})
}

func (s *PostgresStore) GetOutcomes(ctx context.Context, tournamentID string, round int) (model.Outcomes, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT team_id, won FROM round_outcomes WHERE tournament_id = $1 AND round = $2`,
		tournamentID, round)
	if err != nil {
		return nil, fmt.Errorf("get outcomes %s/%d: %w", tournamentID, round, err)
	}
	defer rows.Close()

	outcomes := make(model.Outcomes)
	for rows.Next() {
		var team string
		var won bool
		if err := rows.Scan(&team, &won); err != nil {
			return nil, err
		}
		outcomes[team] = won
	}
	return outcomes, rows.Err()
}

// GetPortfolio reads balances and positions in one repeatable-read
// transaction so a concurrent commit is seen entirely or not at all.
func (s *PostgresStore) GetPortfolio(ctx context.Context, tournamentID string) (model.Snapshot, error) {
	snap := make(model.Snapshot)

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT player_id, cumulative_pnl::TEXT, liquid_balance::TEXT, total_invested::TEXT
			 FROM portfolios WHERE tournament_id = $1`, tournamentID)
		if err != nil {
			return fmt.Errorf("get portfolio %s: %w", tournamentID, err)
		}
		for rows.Next() {
			var player, cum, liquid, invested string
			if err := rows.Scan(&player, &cum, &liquid, &invested); err != nil {
				rows.Close()
				return err
			}
			st := model.NewPortfolioState(decimal.Zero)
			st.CumulativePnL = dec(cum)
			st.LiquidBalance = dec(liquid)
			st.TotalInvested = dec(invested)
			snap[player] = st
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		rows, err = tx.Query(ctx,
			`SELECT player_id, position_key, quantity::TEXT, cost_basis::TEXT, mark::TEXT
			 FROM portfolio_positions WHERE tournament_id = $1`, tournamentID)
		if err != nil {
			return fmt.Errorf("get positions %s: %w", tournamentID, err)
		}
		defer rows.Close()

		for rows.Next() {
			var player, key, qty, basis string
			var mark *string
			if err := rows.Scan(&player, &key, &qty, &basis, &mark); err != nil {
				return err
			}
			st, ok := snap[player]
			if !ok {
				continue
			}
			st.Positions[key] = dec(qty)
			st.CostBasis[key] = dec(basis)
			if mark != nil {
				st.Marks[key] = dec(*mark)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// CommitRound inserts the settlement first; the unique (tournament, round)
// constraint turns a concurrent second commit into ErrRoundSettled.
func (s *PostgresStore) CommitRound(ctx context.Context, st *model.Settlement, snapshot model.Snapshot) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO settlements (id, tournament_id, round, final, trades, settled_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (tournament_id, round) DO NOTHING`,
			st.ID, st.TournamentID, st.Round.Number, st.Round.Final, st.Trades, st.SettledAt,
		)
		if err != nil {
			return fmt.Errorf("insert settlement: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrRoundSettled
		}

		b := &pgx.Batch{}
		for _, p := range st.Payouts {
			b.Queue(
				`INSERT INTO settlement_payouts (settlement_id, player_id, asset1_realized, asset2_pnl, total)
				 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)`,
				st.ID, p.PlayerID, p.Realized.String(), p.Unrealized.String(), p.Total.String(),
			)
		}

		// The snapshot is replaced wholesale; positions cascade.
		b.Queue(`DELETE FROM portfolios WHERE tournament_id = $1`, st.TournamentID)
		for player, ps := range snapshot {
			if ps == nil {
				continue
			}
			b.Queue(
				`INSERT INTO portfolios (tournament_id, player_id, cumulative_pnl, liquid_balance, total_invested)
				 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)`,
				st.TournamentID, player,
				ps.CumulativePnL.String(), ps.LiquidBalance.String(), ps.TotalInvested.String(),
			)
			for key, qty := range ps.Positions {
				var mark *string
				if m, ok := ps.Marks[key]; ok {
					ms := m.String()
					mark = &ms
				}
				b.Queue(
					`INSERT INTO portfolio_positions (tournament_id, player_id, position_key, quantity, cost_basis, mark)
					 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC)`,
					st.TournamentID, player, key, qty.String(), ps.CostBasis[key].String(), mark,
				)
			}
		}
		return tx.SendBatch(ctx, b).Close()
	})
}

func (s *PostgresStore) GetSettlement(ctx context.Context, tournamentID string, round int) (*model.Settlement, error) {
	st := model.Settlement{TournamentID: tournamentID}
	err := s.pool.QueryRow(ctx,
		`SELECT id, round, final, trades, settled_at
		 FROM settlements WHERE tournament_id = $1 AND round = $2`, tournamentID, round).
		Scan(&st.ID, &st.Round.Number, &st.Round.Final, &st.Trades, &st.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement %s/%d: %w", tournamentID, round, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT player_id, asset1_realized::TEXT, asset2_pnl::TEXT, total::TEXT
		 FROM settlement_payouts WHERE settlement_id = $1 ORDER BY player_id`, st.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p model.PlayerPayout
		var realized, unrealized, total string
		if err := rows.Scan(&p.PlayerID, &realized, &unrealized, &total); err != nil {
			return nil, err
		}
		p.Realized = dec(realized)
		p.Unrealized = dec(unrealized)
		p.Total = dec(total)
		st.Payouts = append(st.Payouts, p)
	}
	return &st, rows.Err()
}

func (s *PostgresStore) ResetTournament(ctx context.Context, tournamentID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		b.Queue(`DELETE FROM portfolios WHERE tournament_id = $1`, tournamentID)
		b.Queue(`DELETE FROM settlements WHERE tournament_id = $1`, tournamentID)
		return tx.SendBatch(ctx, b).Close()
	})
}

// dec parses a NUMERIC::TEXT column. Postgres only emits valid numerics.
func dec(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}
