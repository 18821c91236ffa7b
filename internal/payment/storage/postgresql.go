package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"ticketmarket/internal/config"
	"ticketmarket/internal/logger"
	"ticketmarket/internal/store"
)

type PostgreSQLStore struct {
	db  *sql.DB
	log *logger.Logger
}

func NewPostgreSQLStore(cfg config.DatabaseConfig, log *logger.Logger) (*PostgreSQLStore, error) {
	log.LogDatabase("CONNECT", "postgresql", fmt.Sprintf("connecting to %s:%s/%s", cfg.Host, cfg.Port, cfg.Database))

	db, err := sql.Open("postgres", fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgreSQLStore{db: db, log: log}
	if cfg.MigrationsDir == "" {
		if err := s.initTables(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewStoreWithDB wraps an existing connection; used by tests.
func NewStoreWithDB(db *sql.DB, log *logger.Logger) (*PostgreSQLStore, error) {
	s := &PostgreSQLStore{db: db, log: log}
	if err := s.initTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgreSQLStore) initTables() error {
	s.log.LogDatabase("MIGRATE", "postgresql", "creating payment tables if not exist")

	queries := []string{
		`CREATE TABLE IF NOT EXISTS payments (
			id VARCHAR(64) PRIMARY KEY,
			order_id VARCHAR(36) NOT NULL UNIQUE,
			amount DECIMAL(10,2) NOT NULL,
			stripe_id VARCHAR(64),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS order_snapshots (
			id VARCHAR(36) PRIMARY KEY,
			user_id VARCHAR(36) NOT NULL,
			price DECIMAL(10,2) NOT NULL,
			status VARCHAR(16) NOT NULL,
			version BIGINT NOT NULL
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("init tables: %w", err)
		}
	}
	return nil
}

// ---------------- payments ----------------

func (s *PostgreSQLStore) SavePayment(ctx context.Context, p *Payment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (id, order_id, amount, stripe_id) VALUES ($1, $2, $3, $4)`,
		p.ID, p.OrderID, p.Amount, p.StripeID)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) UpdatePaymentCharge(ctx context.Context, id, stripeID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE payments SET stripe_id = $1 WHERE id = $2`, stripeID, id)
	if err != nil {
		return fmt.Errorf("update payment charge: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) DeletePayment(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	return s.scanPayment(s.db.QueryRowContext(ctx,
		`SELECT id, order_id, amount, COALESCE(stripe_id, ''), created_at FROM payments WHERE id = $1`, id))
}

func (s *PostgreSQLStore) GetPaymentByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	return s.scanPayment(s.db.QueryRowContext(ctx,
		`SELECT id, order_id, amount, COALESCE(stripe_id, ''), created_at FROM payments WHERE order_id = $1`, orderID))
}

func (s *PostgreSQLStore) scanPayment(row *sql.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.StripeID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}

// ---------------- order snapshots ----------------

func (s *PostgreSQLStore) InsertOrderSnapshot(ctx context.Context, snap *OrderSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO order_snapshots (id, user_id, price, status, version) VALUES ($1, $2, $3, $4, $5)`,
		snap.ID, snap.UserID, snap.Price, snap.Status, snap.Version)
	if err != nil {
		return fmt.Errorf("insert order snapshot: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) GetOrderSnapshot(ctx context.Context, id string) (*OrderSnapshot, error) {
	var snap OrderSnapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, price, status, version FROM order_snapshots WHERE id = $1`, id).
		Scan(&snap.ID, &snap.UserID, &snap.Price, &snap.Status, &snap.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order snapshot: %w", err)
	}
	return &snap, nil
}

func (s *PostgreSQLStore) ApplyOrderSnapshot(ctx context.Context, snap *OrderSnapshot) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE order_snapshots SET status = $1, version = $2 WHERE id = $3 AND version = $4`,
		snap.Status, snap.Version, snap.ID, snap.Version-1)
	if err != nil {
		return false, fmt.Errorf("apply order snapshot: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply order snapshot: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgreSQLStore) MarkOrderComplete(ctx context.Context, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE order_snapshots SET status = 'complete' WHERE id = $1 AND status = 'pending'`, orderID)
	if err != nil {
		return false, fmt.Errorf("mark order complete: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark order complete: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgreSQLStore) MarkOrderPending(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE order_snapshots SET status = 'pending' WHERE id = $1 AND status = 'complete'`, orderID)
	if err != nil {
		return fmt.Errorf("mark order pending: %w", err)
	}
	return nil
}

// DB exposes the underlying connection for the migration runner.
func (s *PostgreSQLStore) DB() *sql.DB {
	return s.db
}

func (s *PostgreSQLStore) HealthCheck() error {
	return s.db.Ping()
}

func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}
