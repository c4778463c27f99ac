package postgres

import (
	"booklend/internal/pkg/apperrors"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errMsgFormat = "%w: %w"

const (
	constraintOneActiveLoan    = "loans_one_active_per_borrower_book"
	constraintStockNonNegative = "books_stock_count_check"
	constraintDueAfterRental   = "loans_due_after_rental_check"
)

const (
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// translateDBError maps driver errors onto the apperrors taxonomy. Lock timeouts, deadlocks
// and serialization failures all become ErrConflict so the caller can retry the unit of work.
func translateDBError(err error, contextLogger *slog.Logger) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			contextLogger.Warn("Database unique constraint violation", "detail", pgErr.Detail, "constraint", pgErr.ConstraintName)
			if pgErr.ConstraintName == constraintOneActiveLoan {
				return fmt.Errorf("%w: %s", apperrors.ErrDuplicateActiveLoan, pgErr.ConstraintName)
			}
			return fmt.Errorf("%w: %s", apperrors.ErrAlreadyExists, pgErr.ConstraintName)
		case pgCheckViolation:
			contextLogger.Warn("Database check constraint violation", "constraint", pgErr.ConstraintName)
			switch pgErr.ConstraintName {
			case constraintStockNonNegative:
				return fmt.Errorf("%w: %s", apperrors.ErrOutOfStock, pgErr.ConstraintName)
			case constraintDueAfterRental:
				return fmt.Errorf("%w: %s", apperrors.ErrInvalidDate, pgErr.ConstraintName)
			}
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			contextLogger.Warn("Concurrent transaction conflict", "code", pgErr.Code, "message", pgErr.Message)
			return fmt.Errorf("%w: db error code %s", apperrors.ErrConflict, pgErr.Code)
		}

		contextLogger.Error("PostgreSQL specific error", "code", pgErr.Code, "message", pgErr.Message, "detail", pgErr.Detail)
		return apperrors.WrapDatabaseError(err, "postgres error code "+pgErr.Code)
	}

	contextLogger.Error("Generic database error", "error", err)
	return apperrors.WrapDatabaseError(err, "database operation failed")
}
