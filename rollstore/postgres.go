package rollstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS merkle_rolls (
	id         TEXT PRIMARY KEY,
	version    BIGINT NOT NULL,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps objects as rows of the merkle_rolls table. The version
// column counts writes and guards updates.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgresStore connects to url and makes sure the table exists.
func OpenPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create merkle_rolls: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Object, error) {
	var version int64
	var data []byte
	if err := s.pool.QueryRow(ctx,
		`SELECT version, data FROM merkle_rolls WHERE id = $1`, id,
	).Scan(&version, &data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("get roll %s: %w", id, err)
	}
	return Object{Data: data, Version: strconv.FormatInt(version, 10)}, nil
}

func (s *PostgresStore) Put(ctx context.Context, id string, data []byte, version string) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}

	if version == "" {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO merkle_rolls (id, version, data) VALUES ($1, 1, $2)
			 ON CONFLICT (id) DO NOTHING`, id, data)
		if err != nil {
			return "", fmt.Errorf("insert roll %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return "", ErrVersionConflict
		}
		return "1", nil
	}

	current, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return "", ErrVersionConflict
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE merkle_rolls SET version = version + 1, data = $3, updated_at = now()
		 WHERE id = $1 AND version = $2`, id, current, data)
	if err != nil {
		return "", fmt.Errorf("update roll %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrVersionConflict
	}
	return strconv.FormatInt(current+1, 10), nil
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM merkle_rolls ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list rolls: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan roll id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
