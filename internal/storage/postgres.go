package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	queryGetValue    = `SELECT value FROM kv_store WHERE key = $1`
	queryUpsertValue = `INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	queryDeleteValue = `DELETE FROM kv_store WHERE key = $1`
)

// Postgres stores values in the kv_store table created by migrations/.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Get(c context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(c, queryGetValue, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed selecting key=%s with error=%w", key, err)
	}
	return value, nil
}

func (p *Postgres) Set(c context.Context, key string, value []byte) error {
	if _, err := p.pool.Exec(c, queryUpsertValue, key, value); err != nil {
		return fmt.Errorf("failed upserting key=%s with error=%w", key, err)
	}
	return nil
}

func (p *Postgres) Delete(c context.Context, key string) error {
	if _, err := p.pool.Exec(c, queryDeleteValue, key); err != nil {
		return fmt.Errorf("failed deleting key=%s with error=%w", key, err)
	}
	return nil
}
