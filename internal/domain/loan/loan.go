package loan

import (
	"booklend/internal/pkg/apperrors"
	"booklend/internal/pkg/clock"
	"fmt"
	"strings"
	"time"
)

// Loan is one borrowing of one copy of a book. Only DueDate and Returned ever change
// after creation, and Returned never goes back to false.
type Loan struct {
	ID         int64
	BorrowerID int64
	BookID     int64
	RentalDate time.Time
	DueDate    time.Time
	Returned   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Filled from the catalog on reads; not persisted with the loan.
	BookTitle  string
	BookAuthor string
}

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusReturned Status = "RETURNED"
)

func (l *Loan) Status() Status {
	if l.Returned {
		return StatusReturned
	}
	return StatusActive
}

func (l *Loan) OwnedBy(borrowerID int64) bool {
	return l.BorrowerID == borrowerID
}

// DaysOverdue is zero for returned loans and loans not yet past due.
func (l *Loan) DaysOverdue(today time.Time) int {
	if l.Returned {
		return 0
	}
	days := int(clock.Date(today).Sub(clock.Date(l.DueDate)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

type DueDateKind int

const (
	DueDateDefault DueDateKind = iota
	DueDateExplicit
	DueDateRelative
)

func (k DueDateKind) String() string {
	switch k {
	case DueDateExplicit:
		return "explicit"
	case DueDateRelative:
		return "relative"
	default:
		return "default"
	}
}

// DueDateRequest is what the caller asked for: an explicit date, a number of days, or nothing.
type DueDateRequest struct {
	Kind     DueDateKind
	Explicit string
	Days     int
}

func ExplicitDueDate(date string) DueDateRequest {
	return DueDateRequest{Kind: DueDateExplicit, Explicit: strings.TrimSpace(date)}
}

func RelativeDays(days int) DueDateRequest {
	return DueDateRequest{Kind: DueDateRelative, Days: days}
}

func DefaultDueDate() DueDateRequest {
	return DueDateRequest{Kind: DueDateDefault}
}

// NewDueDateRequest builds the request from optional transport fields. A non-blank date wins,
// then a positive day count; anything else falls back to the policy default.
func NewDueDateRequest(days *int, dueDate string) DueDateRequest {
	if strings.TrimSpace(dueDate) != "" {
		return ExplicitDueDate(dueDate)
	}
	if days != nil && *days > 0 {
		return RelativeDays(*days)
	}
	return DefaultDueDate()
}

// resolve computes the due date counted from base, using defaultDays when nothing was requested.
func (r DueDateRequest) resolve(base time.Time, defaultDays int) (time.Time, error) {
	switch r.Kind {
	case DueDateExplicit:
		d, err := clock.ParseDate(r.Explicit)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q is not a %s date", apperrors.ErrInvalidDate, r.Explicit, clock.DateLayout)
		}
		return d, nil
	case DueDateRelative:
		if r.Days > 0 {
			return clock.Date(base).AddDate(0, 0, r.Days), nil
		}
	}
	return clock.Date(base).AddDate(0, 0, defaultDays), nil
}
