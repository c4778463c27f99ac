package postgres

import (
	"booklend/internal/domain/loan"
	"booklend/internal/infrastructure/monitoring"
	"booklend/internal/pkg/apperrors"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v3"
)

type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	Close()
}

var _ DBPool = (*pgxpool.Pool)(nil)

var _ DBPool = (pgxmock.PgxPoolIface)(nil)

var _ loan.Store = (*LoanRepository)(nil)

// borrowerLockNamespace is the first key of the two-int advisory lock form, which Postgres keeps
// apart from single-bigint advisory locks. The second key is a hash of the borrower id, so two
// borrowers may share a lock; that only serializes them.
const borrowerLockNamespace int32 = 0x424c

const loanColumns = `l.id, l.borrower_id, l.book_id, l.rental_date, l.due_date, l.returned, l.created_at, l.updated_at,
        COALESCE(b.title, ''), COALESCE(b.author, '')`

// LoanRepository runs every transaction at READ COMMITTED and relies on explicit locks:
// a per-borrower advisory lock, then the loan row, then the book row.
type LoanRepository struct {
	db          DBPool
	lockTimeout time.Duration
	logger      *slog.Logger
}

func NewLoanRepository(db DBPool, lockTimeout time.Duration, logger *slog.Logger) *LoanRepository {
	return &LoanRepository{db: db, lockTimeout: lockTimeout, logger: logger.With("component", "LoanRepository")}
}

func (r *LoanRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to begin transaction", "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}

	if r.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			r.logger.ErrorContext(ctx, "Failed to set lock timeout", "error", err)
			return nil, translateDBError(err, r.logger)
		}
	}
	return tx, nil
}

func (r *LoanRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	err := tx.Commit(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to commit transaction", "error", err)
		return translateDBError(err, r.logger)
	}
	return nil
}

func (r *LoanRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	err := tx.Rollback(ctx)

	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		r.logger.ErrorContext(ctx, "Failed to rollback transaction", "error", err)

		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return nil
}

func (r *LoanRepository) LockBorrowerInTx(ctx context.Context, tx pgx.Tx, borrowerID int64) error {
	startTime := time.Now()
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, borrowerLockNamespace, strconv.FormatInt(borrowerID, 10))
	recordQuery("LockBorrowerInTx", startTime, err)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to lock borrower", "borrower_id", borrowerID, "error", err)
		return translateDBError(err, r.logger)
	}
	return nil
}

func (r *LoanRepository) HasActiveLoanInTx(ctx context.Context, tx pgx.Tx, borrowerID, bookID int64) (bool, error) {
	query := `
        SELECT EXISTS (
            SELECT 1 FROM loans
            WHERE borrower_id = $1 AND book_id = $2 AND NOT returned
        )`
	startTime := time.Now()

	var exists bool
	err := tx.QueryRow(ctx, query, borrowerID, bookID).Scan(&exists)
	recordQuery("HasActiveLoanInTx", startTime, err)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to check active loan", "borrower_id", borrowerID, "book_id", bookID, "error", err)
		return false, translateDBError(err, r.logger)
	}
	return exists, nil
}

func (r *LoanRepository) CountActiveInTx(ctx context.Context, tx pgx.Tx, borrowerID int64) (int, error) {
	return r.countActive(ctx, tx, "CountActiveInTx",
		`SELECT COUNT(*) FROM loans WHERE borrower_id = $1 AND NOT returned`, borrowerID)
}

func (r *LoanRepository) CountActiveByBookInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error) {
	return r.countActive(ctx, tx, "CountActiveByBookInTx",
		`SELECT COUNT(*) FROM loans WHERE book_id = $1 AND NOT returned`, bookID)
}

func (r *LoanRepository) countActive(ctx context.Context, tx pgx.Tx, name, query string, id int64) (int, error) {
	startTime := time.Now()

	var count int
	err := tx.QueryRow(ctx, query, id).Scan(&count)
	recordQuery(name, startTime, err)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to count active loans", "operation", name, "id", id, "error", err)
		return 0, translateDBError(err, r.logger)
	}
	return count, nil
}

func (r *LoanRepository) CreateLoanInTx(ctx context.Context, tx pgx.Tx, newLoan *loan.Loan) (*loan.Loan, error) {
	query := `
        WITH l AS (
            INSERT INTO loans (borrower_id, book_id, rental_date, due_date, returned, created_at, updated_at)
            VALUES ($1, $2, $3, $4, FALSE, NOW(), NOW())
            RETURNING id, borrower_id, book_id, rental_date, due_date, returned, created_at, updated_at
        )
        SELECT ` + loanColumns + `
        FROM l LEFT JOIN books b ON b.id = l.book_id`
	startTime := time.Now()

	created, err := scanLoan(tx.QueryRow(ctx, query, newLoan.BorrowerID, newLoan.BookID, newLoan.RentalDate, newLoan.DueDate))
	recordQuery("CreateLoanInTx", startTime, err)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert loan", "borrower_id", newLoan.BorrowerID, "book_id", newLoan.BookID, "error", err)
		return nil, translateDBError(err, r.logger)
	}

	r.logger.InfoContext(ctx, "Loan created in DB", "loan_id", created.ID)
	return created, nil
}

func (r *LoanRepository) GetLoanForUpdateInTx(ctx context.Context, tx pgx.Tx, loanID int64) (*loan.Loan, error) {
	query := `
        SELECT ` + loanColumns + `
        FROM loans l LEFT JOIN books b ON b.id = l.book_id
        WHERE l.id = $1
        FOR UPDATE OF l`
	startTime := time.Now()

	l, err := scanLoan(tx.QueryRow(ctx, query, loanID))
	recordQuery("GetLoanForUpdateInTx", startTime, err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Loan not found", "loan_id", loanID)
			return nil, fmt.Errorf("%w: loan %d", apperrors.ErrNotFound, loanID)
		}
		r.logger.ErrorContext(ctx, "Failed to lock loan", "loan_id", loanID, "error", err)
		return nil, translateDBError(err, r.logger)
	}
	return l, nil
}

func (r *LoanRepository) UpdateLoanInTx(ctx context.Context, tx pgx.Tx, l *loan.Loan) error {
	query := `
        UPDATE loans
        SET due_date = $1, returned = $2, updated_at = NOW()
        WHERE id = $3`
	startTime := time.Now()

	cmdTag, err := tx.Exec(ctx, query, l.DueDate, l.Returned, l.ID)
	recordQuery("UpdateLoanInTx", startTime, err)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to update loan", "loan_id", l.ID, "error", err)
		return translateDBError(err, r.logger)
	}
	if cmdTag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Loan not found for update", "loan_id", l.ID)
		return fmt.Errorf("%w: loan %d", apperrors.ErrNotFound, l.ID)
	}
	return nil
}

func (r *LoanRepository) FindByBorrower(ctx context.Context, borrowerID int64) ([]*loan.Loan, error) {
	query := `
        SELECT ` + loanColumns + `
        FROM loans l LEFT JOIN books b ON b.id = l.book_id
        WHERE l.borrower_id = $1
        ORDER BY l.id`
	return r.queryLoans(ctx, "FindByBorrower", query, borrowerID)
}

func (r *LoanRepository) FindOverdue(ctx context.Context, asOf time.Time) ([]*loan.Loan, error) {
	query := `
        SELECT ` + loanColumns + `
        FROM loans l LEFT JOIN books b ON b.id = l.book_id
        WHERE NOT l.returned AND l.due_date < $1
        ORDER BY l.due_date, l.id`
	return r.queryLoans(ctx, "FindOverdue", query, asOf)
}

func (r *LoanRepository) queryLoans(ctx context.Context, name, query string, args ...any) ([]*loan.Loan, error) {
	logCtx := r.logger.With(slog.String("operation", name))
	startTime := time.Now()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		recordQuery(name, startTime, err)
		logCtx.ErrorContext(ctx, "Failed to query loans", slog.Any("error", err))
		return nil, translateDBError(err, r.logger)
	}
	defer rows.Close()

	loans := make([]*loan.Loan, 0)
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			recordQuery(name, startTime, err)
			logCtx.ErrorContext(ctx, "Failed to scan loan row", slog.Any("error", err))
			return nil, fmt.Errorf("%w: failed to scan loan: %w", apperrors.ErrDatabase, err)
		}
		loans = append(loans, l)
	}
	err = rows.Err()
	recordQuery(name, startTime, err)
	if err != nil {
		logCtx.ErrorContext(ctx, "Error iterating loan rows", slog.Any("error", err))
		return nil, fmt.Errorf("%w: error iterating loans: %w", apperrors.ErrDatabase, err)
	}

	logCtx.DebugContext(ctx, "Loans fetched", slog.Int("count", len(loans)))
	return loans, nil
}

func scanLoan(row pgx.Row) (*loan.Loan, error) {
	var l loan.Loan
	err := row.Scan(
		&l.ID, &l.BorrowerID, &l.BookID, &l.RentalDate, &l.DueDate, &l.Returned,
		&l.CreatedAt, &l.UpdatedAt, &l.BookTitle, &l.BookAuthor,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func recordQuery(name string, startTime time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	monitoring.RecordDBQuery(name, status, time.Since(startTime))
}
