package loan

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Transactor opens the unit of work a reservation runs in. Locks taken inside a
// transaction are held until CommitTx or RollbackTx.
type Transactor interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)

	CommitTx(ctx context.Context, tx pgx.Tx) error

	RollbackTx(ctx context.Context, tx pgx.Tx) error
}

// Store is the durable set of loans. Methods ending in InTx run inside a unit of work;
// the ones that read for a later write also lock what they read.
type Store interface {
	Transactor

	// LockBorrowerInTx serializes every reservation of one borrower until the transaction ends.
	LockBorrowerInTx(ctx context.Context, tx pgx.Tx, borrowerID int64) error

	HasActiveLoanInTx(ctx context.Context, tx pgx.Tx, borrowerID, bookID int64) (bool, error)

	CountActiveInTx(ctx context.Context, tx pgx.Tx, borrowerID int64) (int, error)

	CountActiveByBookInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error)

	CreateLoanInTx(ctx context.Context, tx pgx.Tx, loan *Loan) (*Loan, error)

	GetLoanForUpdateInTx(ctx context.Context, tx pgx.Tx, loanID int64) (*Loan, error)

	UpdateLoanInTx(ctx context.Context, tx pgx.Tx, loan *Loan) error

	FindByBorrower(ctx context.Context, borrowerID int64) ([]*Loan, error)

	FindOverdue(ctx context.Context, asOf time.Time) ([]*Loan, error)
}

// InventoryLedger owns a book's available stock. Decrement and increment are single
// guarded mutations, never a read followed by a write.
type InventoryLedger interface {
	// StockForUpdateInTx locks the book row and returns its stock, or apperrors.ErrNotFound.
	StockForUpdateInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error)

	// TryDecrementInTx fails with apperrors.ErrOutOfStock when no copy is left.
	TryDecrementInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error)

	IncrementInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error)
}
