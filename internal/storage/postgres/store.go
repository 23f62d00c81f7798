package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clearClient/internal/model"
)

// Store journals transactions and route observations in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RecordTransaction inserts or updates a transaction by id.
func (s *Store) RecordTransaction(ctx context.Context, tx model.PendingTransaction) error {
	var hash *string
	if tx.Hash != nil {
		h := tx.Hash.Hex()
		hash = &h
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tx_journal (
			id, kind, tx_hash, state, outcome, error, submitted_at, finalized_at, block_number, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		ON CONFLICT (id)
		DO UPDATE SET
			tx_hash = EXCLUDED.tx_hash,
			state = EXCLUDED.state,
			outcome = EXCLUDED.outcome,
			error = EXCLUDED.error,
			submitted_at = EXCLUDED.submitted_at,
			finalized_at = EXCLUDED.finalized_at,
			block_number = EXCLUDED.block_number,
			updated_at = now()
	`,
		tx.ID,
		string(tx.Kind),
		hash,
		string(tx.State),
		string(tx.Outcome),
		tx.Err,
		nullTime(tx.SubmittedAt),
		nullTime(tx.FinalizedAt),
		int64(tx.BlockNumber),
	)
	if err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

// RecordRoute appends one route observation.
func (s *Store) RecordRoute(ctx context.Context, obs model.RouteObservation) error {
	return s.RecordRoutes(ctx, []model.RouteObservation{obs})
}

// RecordRoutes appends route observations in one batch.
func (s *Store) RecordRoutes(ctx context.Context, observations []model.RouteObservation) error {
	if len(observations) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, obs := range observations {
		batch.Queue(`
			INSERT INTO route_observations (
				vault, from_token, to_token, is_open, depeg_percent, from_price_usd, to_price_usd, threshold_bps, observed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			obs.Vault.Hex(),
			obs.From.Hex(),
			obs.To.Hex(),
			obs.Status.IsOpen,
			obs.Status.DepegPercent,
			obs.Status.FromPriceUSD,
			obs.Status.ToPriceUSD,
			int64(obs.Status.ThresholdBps),
			obs.ObservedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range observations {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("record route: %w", err)
		}
	}
	return nil
}
