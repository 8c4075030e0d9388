package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"swapijob/internal/core/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS processed_people (
	job_id         UUID        NOT NULL,
	person_id      INTEGER     NOT NULL,
	name           TEXT        NOT NULL,
	height         INTEGER     NOT NULL,
	mass           INTEGER     NOT NULL,
	bmi            DOUBLE PRECISION,
	film_count     INTEGER     NOT NULL,
	vehicle_count  INTEGER     NOT NULL,
	starship_count INTEGER     NOT NULL,
	species        TEXT        NOT NULL,
	homeworld      TEXT        NOT NULL,
	processed_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (job_id, person_id)
)`

const insertSQL = `
INSERT INTO processed_people (
	job_id, person_id, name, height, mass, bmi,
	film_count, vehicle_count, starship_count, species, homeworld, processed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (job_id, person_id) DO UPDATE SET
	name = EXCLUDED.name, height = EXCLUDED.height, mass = EXCLUDED.mass,
	bmi = EXCLUDED.bmi, film_count = EXCLUDED.film_count,
	vehicle_count = EXCLUDED.vehicle_count, starship_count = EXCLUDED.starship_count,
	species = EXCLUDED.species, homeworld = EXCLUDED.homeworld,
	processed_at = EXCLUDED.processed_at`

// Store writes job results to Postgres. It implements ports.ResultSink.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and ensures the results table exists.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create processed_people: %w", err)
	}
	return nil
}

// SaveResults upserts every result of job in a single transaction.
func (s *Store) SaveResults(ctx context.Context, job domain.Job, results []domain.ProcessedPerson) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := buildBatch(job.ID, results)
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("batch exec %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}

// CountResults returns how many rows are stored for jobID.
func (s *Store) CountResults(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM processed_people WHERE job_id = $1`, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

func buildBatch(jobID string, results []domain.ProcessedPerson) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(insertSQL,
			jobID, r.ID, r.Name, r.Height, r.Mass, r.BMI,
			r.FilmCount, r.VehicleCount, r.StarshipCount, r.Species, r.Homeworld, r.ProcessedAt,
		)
	}
	return batch
}
