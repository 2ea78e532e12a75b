package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const accountNumberConstraint = "wallets_account_number_key"

var (
	// ErrNotFound is returned when no wallet matches the lookup.
	ErrNotFound = errors.New("wallet not found")
	// ErrNumberTaken signals a collision on the unique account number.
	ErrNumberTaken = errors.New("account number already assigned")
	// ErrUnavailable means the store could not be reached in time.
	ErrUnavailable = errors.New("wallet store unavailable")
)

// Repository persists wallets.
type Repository interface {
	Create(ctx context.Context, wallet *Wallet) error
	Get(ctx context.Context, id int64) (Wallet, error)
	FindByAccountNumber(ctx context.Context, number string) (Wallet, error)
	Update(ctx context.Context, wallet Wallet) error
	Delete(ctx context.Context, id int64) error
}

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx so wallet rows can be
// written inside a caller's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a wallet and assigns its ID.
func (r *PostgresRepository) Create(ctx context.Context, wallet *Wallet) error {
	return Insert(ctx, r.db, wallet)
}

// Get fetches a wallet by primary key.
func (r *PostgresRepository) Get(ctx context.Context, id int64) (Wallet, error) {
	return scanWallet(r.db.QueryRow(ctx, selectWallet+` WHERE id = $1`, id))
}

// FindByAccountNumber fetches a wallet by its external account number.
func (r *PostgresRepository) FindByAccountNumber(ctx context.Context, number string) (Wallet, error) {
	return scanWallet(r.db.QueryRow(ctx, selectWallet+` WHERE account_number = $1`, number))
}

// Update overwrites the mutable wallet columns.
func (r *PostgresRepository) Update(ctx context.Context, wallet Wallet) error {
	return UpdateRow(ctx, r.db, wallet)
}

// Delete removes a wallet row.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	return DeleteRow(ctx, r.db, id)
}

const selectWallet = `SELECT id, account_number, bvn, pin, balance::text, created_at, modified_at FROM wallets`

// Insert writes a new wallet row using db and stores the generated ID on wallet.
func Insert(ctx context.Context, db DBTX, wallet *Wallet) error {
	err := db.QueryRow(ctx, `INSERT INTO wallets (account_number, bvn, pin, balance, created_at, modified_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6) RETURNING id`,
		wallet.AccountNumber, wallet.BVN, wallet.PIN, wallet.Balance.String(),
		wallet.CreatedAt.UTC(), wallet.ModifiedAt.UTC()).Scan(&wallet.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == accountNumberConstraint {
			return ErrNumberTaken
		}
		return storeError("insert wallet", err)
	}
	return nil
}

// UpdateRow overwrites bvn, pin, balance and modified_at. The account number is
// immutable and never written here.
func UpdateRow(ctx context.Context, db DBTX, wallet Wallet) error {
	cmd, err := db.Exec(ctx, `UPDATE wallets SET bvn = $1, pin = $2, balance = $3::numeric, modified_at = $4 WHERE id = $5`,
		wallet.BVN, wallet.PIN, wallet.Balance.String(), wallet.ModifiedAt.UTC(), wallet.ID)
	if err != nil {
		return storeError("update wallet", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRow removes the wallet with the given ID.
func DeleteRow(ctx context.Context, db DBTX, id int64) error {
	cmd, err := db.Exec(ctx, `DELETE FROM wallets WHERE id = $1`, id)
	if err != nil {
		return storeError("delete wallet", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w          Wallet
		balance    string
		createdAt  time.Time
		modifiedAt time.Time
	)
	if err := row.Scan(&w.ID, &w.AccountNumber, &w.BVN, &w.PIN, &balance, &createdAt, &modifiedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, storeError("read wallet", err)
	}
	amount, err := ParseBalance(balance)
	if err != nil {
		return Wallet{}, err
	}
	w.Balance = amount
	w.CreatedAt = createdAt.UTC()
	w.ModifiedAt = modifiedAt.UTC()
	return w, nil
}

// Unreachable reports whether err is a connection failure or a timeout rather
// than a rejected statement.
func Unreachable(err error) bool {
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded)
}

func storeError(op string, err error) error {
	if Unreachable(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ParseBalance decodes a numeric column read as text.
func ParseBalance(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse wallet balance: %w", err)
	}
	return amount, nil
}
