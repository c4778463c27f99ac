package loan

import (
	"booklend/internal/pkg/apperrors"
	"booklend/internal/pkg/clock"
	"fmt"
	"time"
)

const (
	DefaultMaxActiveLoans    = 3
	DefaultBorrowPeriodDays  = 14
	DefaultRenewalPeriodDays = 7
)

// Policy holds the lending rules. Its Decide methods do no I/O and never mutate their inputs.
// A MaxActiveLoans of zero or less disables the per-borrower ceiling.
type Policy struct {
	MaxActiveLoans    int
	DefaultBorrowDays int
	DefaultRenewDays  int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxActiveLoans:    DefaultMaxActiveLoans,
		DefaultBorrowDays: DefaultBorrowPeriodDays,
		DefaultRenewDays:  DefaultRenewalPeriodDays,
	}
}

// Decision is the outcome of a policy check. Reason is set only when Allowed is false
// and always wraps one of the apperrors denial sentinels.
type Decision struct {
	Allowed bool
	DueDate time.Time
	Reason  error
}

func allow(due time.Time) Decision {
	return Decision{Allowed: true, DueDate: due}
}

func deny(reason error) Decision {
	return Decision{Reason: reason}
}

// BorrowState is what the store reported for one borrower and one book, read under lock.
type BorrowState struct {
	BookID               int64
	StockCount           int
	ActiveLoanCount      int
	HasActiveLoanForBook bool
}

func (p Policy) DecideBorrow(state BorrowState, req DueDateRequest, today time.Time) Decision {
	today = clock.Date(today)

	if state.HasActiveLoanForBook {
		return deny(fmt.Errorf("%w: book %d is already on loan to this borrower", apperrors.ErrDuplicateActiveLoan, state.BookID))
	}
	if p.MaxActiveLoans > 0 && state.ActiveLoanCount >= p.MaxActiveLoans {
		return deny(fmt.Errorf("%w: %d of %d active loans in use", apperrors.ErrLoanLimitExceeded, state.ActiveLoanCount, p.MaxActiveLoans))
	}
	if state.StockCount <= 0 {
		return deny(fmt.Errorf("%w: book %d", apperrors.ErrOutOfStock, state.BookID))
	}

	due, err := req.resolve(today, p.borrowDays())
	if err != nil {
		return deny(err)
	}
	if due.Before(today) {
		return deny(fmt.Errorf("%w: due date %s is before rental date %s",
			apperrors.ErrInvalidDate, due.Format(clock.DateLayout), today.Format(clock.DateLayout)))
	}
	return allow(due)
}

// DecideRenewal extends from the loan's current due date, not from today.
func (p Policy) DecideRenewal(l *Loan, req DueDateRequest) Decision {
	if l.Returned {
		return deny(fmt.Errorf("%w: loan %d", apperrors.ErrAlreadyReturned, l.ID))
	}

	due, err := req.resolve(l.DueDate, p.renewDays())
	if err != nil {
		return deny(err)
	}
	if due.Before(clock.Date(l.RentalDate)) {
		return deny(fmt.Errorf("%w: due date %s is before rental date %s",
			apperrors.ErrInvalidDate, due.Format(clock.DateLayout), l.RentalDate.Format(clock.DateLayout)))
	}
	return allow(due)
}

func (p Policy) DecideReturn(l *Loan) Decision {
	if l.Returned {
		return deny(fmt.Errorf("%w: loan %d", apperrors.ErrAlreadyReturned, l.ID))
	}
	return allow(l.DueDate)
}

func (p Policy) borrowDays() int {
	if p.DefaultBorrowDays > 0 {
		return p.DefaultBorrowDays
	}
	return DefaultBorrowPeriodDays
}

func (p Policy) renewDays() int {
	if p.DefaultRenewDays > 0 {
		return p.DefaultRenewDays
	}
	return DefaultRenewalPeriodDays
}
