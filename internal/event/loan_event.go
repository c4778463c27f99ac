package event

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoanEventType string

const (
	LoanBorrowed LoanEventType = "loan.borrowed"
	LoanRenewed  LoanEventType = "loan.renewed"
	LoanReturned LoanEventType = "loan.returned"
	LoanOverdue  LoanEventType = "loan.overdue"
)

// LoanEvent is published after a loan change has committed. The type doubles as the routing key.
type LoanEvent struct {
	EventID     string           `json:"eventId"`
	Type        LoanEventType    `json:"type"`
	LoanID      int64            `json:"loanId"`
	BorrowerID  int64            `json:"borrowerId"`
	BookID      int64            `json:"bookId"`
	BookTitle   string           `json:"bookTitle,omitempty"`
	RentalDate  string           `json:"rentalDate"`
	DueDate     string           `json:"dueDate"`
	Returned    bool             `json:"returned"`
	DaysOverdue int              `json:"daysOverdue,omitempty"`
	LateFee     *decimal.Decimal `json:"lateFee,omitempty"`
	OccurredAt  time.Time        `json:"occurredAt"`
}
