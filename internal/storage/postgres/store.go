// Package postgres persists creator reputation and trade history on
// top of pgx, adapted from the teacher's database package: same pool
// setup and context-scoped query idiom, narrowed from the teacher's
// multi-tenant billing/license schema to this engine's own tables.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tokensentinel/internal/domain"
	"tokensentinel/internal/logging"
)

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// Open connects to Postgres using dsn, mirroring the teacher's pool
// construction (no custom pool tuning beyond library defaults unless
// the caller configures it on the DSN itself).
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, domain.Classify(domain.KindDefinitiveTransport, "postgres.Open", fmt.Errorf("connect: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, domain.Classify(domain.KindDefinitiveTransport, "postgres.Open", fmt.Errorf("ping: %w", err))
	}
	return &Store{pool: pool, log: logging.StorageContext("open", "")}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the schema if it does not already exist, mirroring
// the teacher's idempotent migration style.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS creator_reputation (
			creator_address TEXT PRIMARY KEY,
			tokens_launched INT NOT NULL DEFAULT 0,
			tokens_rugged INT NOT NULL DEFAULT 0,
			avg_hold_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS trade_records (
			id BIGSERIAL PRIMARY KEY,
			mint_address TEXT NOT NULL,
			strategy_tag TEXT NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			exit_price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			realized_pnl DOUBLE PRECISION NOT NULL,
			realized_pnl_pct DOUBLE PRECISION NOT NULL,
			hold_duration_ms BIGINT NOT NULL,
			exit_trigger TEXT NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS threat_score_history (
			mint_address TEXT NOT NULL,
			composite DOUBLE PRECISION NOT NULL,
			risk_level TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_threat_score_history_mint ON threat_score_history (mint_address, recorded_at DESC);
	`)
	if err != nil {
		return domain.Classify(domain.KindDefinitiveTransport, "postgres.Migrate", err)
	}
	return nil
}

// CreatorReputation is the persisted track record for one creator wallet.
type CreatorReputation struct {
	CreatorAddress string
	TokensLaunched int
	TokensRugged   int
	AvgHoldSeconds float64
}

// GetCreatorReputation reads a creator's history, returning the zero
// value (ok=false) when the creator has never been seen before.
func (s *Store) GetCreatorReputation(ctx context.Context, creator string) (CreatorReputation, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT creator_address, tokens_launched, tokens_rugged, avg_hold_seconds
		FROM creator_reputation WHERE creator_address = $1`, creator)

	var rep CreatorReputation
	if err := row.Scan(&rep.CreatorAddress, &rep.TokensLaunched, &rep.TokensRugged, &rep.AvgHoldSeconds); err != nil {
		return CreatorReputation{}, false, nil
	}
	return rep, true, nil
}

// RecordTokenLaunch increments a creator's launch count, upserting a new
// row on first sighting.
func (s *Store) RecordTokenLaunch(ctx context.Context, creator string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO creator_reputation (creator_address, tokens_launched)
		VALUES ($1, 1)
		ON CONFLICT (creator_address) DO UPDATE
		SET tokens_launched = creator_reputation.tokens_launched + 1, updated_at = now()`, creator)
	if err != nil {
		return domain.Classify(domain.KindDefinitiveTransport, "postgres.RecordTokenLaunch", err)
	}
	return nil
}

// RecordRugPull marks a creator's token as having rugged, informing
// future risk-bucket heuristics.
func (s *Store) RecordRugPull(ctx context.Context, creator string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO creator_reputation (creator_address, tokens_rugged)
		VALUES ($1, 1)
		ON CONFLICT (creator_address) DO UPDATE
		SET tokens_rugged = creator_reputation.tokens_rugged + 1, updated_at = now()`, creator)
	if err != nil {
		return domain.Classify(domain.KindDefinitiveTransport, "postgres.RecordRugPull", err)
	}
	return nil
}

// InsertTradeRecord persists a closed position's outcome.
func (s *Store) InsertTradeRecord(ctx context.Context, rec domain.TradeRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trade_records
			(mint_address, strategy_tag, entry_price, exit_price, quantity, realized_pnl, realized_pnl_pct, hold_duration_ms, exit_trigger, opened_at, closed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rec.MintAddress, rec.StrategyTag, rec.EntryPrice, rec.ExitPrice, rec.Quantity,
		rec.RealizedPnL, rec.RealizedPnLPct, rec.HoldDuration.Milliseconds(), string(rec.ExitTrigger),
		rec.OpenedAt, rec.ClosedAt)
	if err != nil {
		return domain.Classify(domain.KindDefinitiveTransport, "postgres.InsertTradeRecord", err)
	}
	return nil
}

// RecordThreatScore appends one point to a mint's score history, read
// back by ScoreHistory for trend display beyond the in-process trend
// buffer's 16-sample window. Rows are never pruned, so the history is
// not bounded to a fixed number of points.
func (s *Store) RecordThreatScore(ctx context.Context, mint string, composite float64, level domain.ThreatLevel) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO threat_score_history (mint_address, composite, risk_level) VALUES ($1, $2, $3)`,
		mint, composite, string(level))
	if err != nil {
		return domain.Classify(domain.KindDefinitiveTransport, "postgres.RecordThreatScore", err)
	}
	return nil
}

// ScorePoint is one historical threat-score sample.
type ScorePoint struct {
	Composite  float64
	RiskLevel  domain.ThreatLevel
	RecordedAt time.Time
}

// ScoreHistory returns the most recent limit score points for mint, most
// recent first.
func (s *Store) ScoreHistory(ctx context.Context, mint string, limit int) ([]ScorePoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT composite, risk_level, recorded_at FROM threat_score_history
		WHERE mint_address = $1 ORDER BY recorded_at DESC LIMIT $2`, mint, limit)
	if err != nil {
		return nil, domain.Classify(domain.KindDefinitiveTransport, "postgres.ScoreHistory", err)
	}
	defer rows.Close()

	var out []ScorePoint
	for rows.Next() {
		var p ScorePoint
		var level string
		if err := rows.Scan(&p.Composite, &level, &p.RecordedAt); err != nil {
			return nil, domain.Classify(domain.KindUnparseableInput, "postgres.ScoreHistory", err)
		}
		p.RiskLevel = domain.ThreatLevel(level)
		out = append(out, p)
	}
	return out, nil
}
