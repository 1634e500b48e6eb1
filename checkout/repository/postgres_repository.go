package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ecofinds/storefront/checkout/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type PostgresRepository struct {
	db *sql.DB
}

var _ AttemptRepository = (*PostgresRepository)(nil)

func NewPostgresRepository(ctx context.Context, cred *Credentials) (*PostgresRepository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

func (r *PostgresRepository) CreateAttempt(ctx context.Context, a *domain.CheckoutAttempt) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkout_attempts
			(id, session_key, cart_id, idempotency_key, fingerprint, total_amount,
			 status, order_number, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.SessionKey, a.CartID, a.IdempotencyKey, a.Fingerprint, a.TotalAmount,
		string(a.Status), a.OrderNumber, a.FailureReason, a.CreatedAt, a.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrIdempotencyKeyConflict
	}
	if err != nil {
		return fmt.Errorf("insert checkout attempt: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateAttempt(ctx context.Context, id string, status domain.AttemptStatus, orderNumber, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE checkout_attempts
		SET status = $2, order_number = $3, failure_reason = $4, updated_at = NOW()
		WHERE id = $1`,
		id, string(status), orderNumber, reason)
	if err != nil {
		return fmt.Errorf("update checkout attempt: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update checkout attempt: %w", err)
	}
	if n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (r *PostgresRepository) FindUnresolvedAttempt(ctx context.Context, sessionKey, fingerprint string) (*domain.CheckoutAttempt, error) {
	row := r.db.QueryRowContext(ctx, selectAttempt+`
		WHERE session_key = $1 AND fingerprint = $2 AND status IN ($3, $4)
		ORDER BY created_at DESC
		LIMIT 1`,
		sessionKey, fingerprint, string(domain.AttemptStatusSubmitting), string(domain.AttemptStatusUnknown))
	return scanAttempt(row)
}

const selectAttempt = `
	SELECT id, session_key, cart_id, idempotency_key, fingerprint, total_amount,
	       status, order_number, failure_reason, created_at, updated_at
	FROM checkout_attempts`

func scanAttempt(row *sql.Row) (*domain.CheckoutAttempt, error) {
	var (
		a      domain.CheckoutAttempt
		status string
	)
	err := row.Scan(&a.ID, &a.SessionKey, &a.CartID, &a.IdempotencyKey, &a.Fingerprint, &a.TotalAmount,
		&status, &a.OrderNumber, &a.FailureReason, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkout attempt: %w", err)
	}
	a.Status = domain.AttemptStatus(status)
	return &a, nil
}
