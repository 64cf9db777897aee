package receipts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the journal in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS goal_receipts (
    id BIGSERIAL PRIMARY KEY,
    workflow TEXT NOT NULL,
    goal_id TEXT NOT NULL DEFAULT '',
    account TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    status BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Append(ctx context.Context, record Record) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO goal_receipts (workflow, goal_id, account, tx_hash, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, record.Workflow, record.GoalID, record.Account, record.TxHash, record.Status, record.CreatedAt)
	return err
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
SELECT workflow, goal_id, account, tx_hash, status, created_at
FROM goal_receipts
ORDER BY id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Workflow, &rec.GoalID, &rec.Account, &rec.TxHash, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
