package loan

import (
	"booklend/internal/domain/identity"
	"booklend/internal/event"
	"booklend/internal/infrastructure/monitoring"
	"booklend/internal/pkg/apperrors"
	"booklend/internal/pkg/clock"
	"booklend/internal/pkg/retry"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	opBorrow   = "borrow"
	opRenew    = "renew"
	opReturn   = "return"
	opListMine = "list_mine"
)

// ReservationService is the borrow / renew / return workflow. Every mutating call runs
// as one unit of work that either commits completely or leaves nothing behind.
type ReservationService interface {
	Borrow(ctx context.Context, who identity.Identity, bookID int64, due DueDateRequest) (*Loan, error)

	Renew(ctx context.Context, who identity.Identity, loanID int64, due DueDateRequest) (*Loan, error)

	Return(ctx context.Context, who identity.Identity, loanID int64) (*Loan, error)

	ListMine(ctx context.Context, who identity.Identity) ([]*Loan, error)
}

var _ ReservationService = (*reservationService)(nil)

type reservationService struct {
	store     Store
	ledger    InventoryLedger
	policy    Policy
	clock     clock.Clock
	publisher event.Publisher
	retryOpts []retry.Option
	logger    *slog.Logger
}

type Option func(*reservationService)

func WithClock(c clock.Clock) Option {
	return func(s *reservationService) { s.clock = c }
}

func WithPublisher(p event.Publisher) Option {
	return func(s *reservationService) { s.publisher = p }
}

func WithRetry(opts ...retry.Option) Option {
	return func(s *reservationService) { s.retryOpts = append(s.retryOpts, opts...) }
}

func NewReservationService(store Store, ledger InventoryLedger, policy Policy, logger *slog.Logger, opts ...Option) ReservationService {
	if store == nil {
		panic("loan store cannot be nil")
	}
	if ledger == nil {
		panic("inventory ledger cannot be nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		logger.Warn("Warning: No logger provided to NewReservationService, using default stderr handler")
	}

	s := &reservationService{
		store:     store,
		ledger:    ledger,
		policy:    policy,
		clock:     clock.System{},
		publisher: event.NopPublisher{},
		logger:    logger.With(slog.String("component", "reservationService")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *reservationService) Borrow(ctx context.Context, who identity.Identity, bookID int64, due DueDateRequest) (created *Loan, err error) {
	defer func() { s.record(opBorrow, err) }()

	if !who.Authenticated() {
		return nil, fmt.Errorf("%w: borrowing requires a signed-in borrower", apperrors.ErrUnauthenticated)
	}
	if bookID <= 0 {
		return nil, apperrors.NewValidationError("bookId", "must be a positive integer")
	}

	logCtx := s.logger.With(slog.Int64("borrowerID", who.BorrowerID), slog.Int64("bookID", bookID))
	logCtx.InfoContext(ctx, "Borrow requested", slog.String("dueDateKind", due.Kind.String()))

	err = s.unitOfWork(ctx, opBorrow, func(ctx context.Context, tx pgx.Tx) error {
		var txErr error
		created, txErr = s.borrowInTx(ctx, tx, who.BorrowerID, bookID, due)
		return txErr
	})
	if err != nil {
		s.logOutcome(ctx, logCtx, "Borrow", err)
		return nil, err
	}

	logCtx.InfoContext(ctx, "Book borrowed", slog.Int64("loanID", created.ID), slog.Time("dueDate", created.DueDate))
	s.publish(ctx, event.LoanBorrowed, created)
	return created, nil
}

func (s *reservationService) borrowInTx(ctx context.Context, tx pgx.Tx, borrowerID, bookID int64, due DueDateRequest) (*Loan, error) {
	if err := s.store.LockBorrowerInTx(ctx, tx, borrowerID); err != nil {
		return nil, fmt.Errorf("could not lock borrower %d: %w", borrowerID, err)
	}

	stock, err := s.ledger.StockForUpdateInTx(ctx, tx, bookID)
	if err != nil {
		return nil, err
	}

	hasActive, err := s.store.HasActiveLoanInTx(ctx, tx, borrowerID, bookID)
	if err != nil {
		return nil, err
	}

	active, err := s.store.CountActiveInTx(ctx, tx, borrowerID)
	if err != nil {
		return nil, err
	}

	today := clock.Today(s.clock)
	decision := s.policy.DecideBorrow(BorrowState{
		BookID:               bookID,
		StockCount:           stock,
		ActiveLoanCount:      active,
		HasActiveLoanForBook: hasActive,
	}, due, today)
	if !decision.Allowed {
		if errors.Is(decision.Reason, apperrors.ErrOutOfStock) {
			if readers, countErr := s.store.CountActiveByBookInTx(ctx, tx, bookID); countErr == nil {
				return nil, fmt.Errorf("%w: currently borrowed by %d readers", apperrors.ErrOutOfStock, readers)
			}
		}
		return nil, decision.Reason
	}

	if _, err := s.ledger.TryDecrementInTx(ctx, tx, bookID); err != nil {
		return nil, err
	}

	return s.store.CreateLoanInTx(ctx, tx, &Loan{
		BorrowerID: borrowerID,
		BookID:     bookID,
		RentalDate: today,
		DueDate:    decision.DueDate,
	})
}

func (s *reservationService) Renew(ctx context.Context, who identity.Identity, loanID int64, due DueDateRequest) (renewed *Loan, err error) {
	defer func() { s.record(opRenew, err) }()

	if !who.Authenticated() {
		return nil, fmt.Errorf("%w: renewing requires a signed-in borrower", apperrors.ErrUnauthenticated)
	}
	if loanID <= 0 {
		return nil, apperrors.NewValidationError("loanId", "must be a positive integer")
	}

	logCtx := s.logger.With(slog.Int64("borrowerID", who.BorrowerID), slog.Int64("loanID", loanID))
	logCtx.InfoContext(ctx, "Renewal requested", slog.String("dueDateKind", due.Kind.String()))

	err = s.unitOfWork(ctx, opRenew, func(ctx context.Context, tx pgx.Tx) error {
		l, txErr := s.ownedLoanForUpdate(ctx, tx, who.BorrowerID, loanID)
		if txErr != nil {
			return txErr
		}

		decision := s.policy.DecideRenewal(l, due)
		if !decision.Allowed {
			return decision.Reason
		}

		l.DueDate = decision.DueDate
		if txErr = s.store.UpdateLoanInTx(ctx, tx, l); txErr != nil {
			return txErr
		}
		renewed = l
		return nil
	})
	if err != nil {
		s.logOutcome(ctx, logCtx, "Renewal", err)
		return nil, err
	}

	logCtx.InfoContext(ctx, "Loan renewed", slog.Time("dueDate", renewed.DueDate))
	s.publish(ctx, event.LoanRenewed, renewed)
	return renewed, nil
}

func (s *reservationService) Return(ctx context.Context, who identity.Identity, loanID int64) (returned *Loan, err error) {
	defer func() { s.record(opReturn, err) }()

	if !who.Authenticated() {
		return nil, fmt.Errorf("%w: returning requires a signed-in borrower", apperrors.ErrUnauthenticated)
	}
	if loanID <= 0 {
		return nil, apperrors.NewValidationError("loanId", "must be a positive integer")
	}

	logCtx := s.logger.With(slog.Int64("borrowerID", who.BorrowerID), slog.Int64("loanID", loanID))
	logCtx.InfoContext(ctx, "Return requested")

	err = s.unitOfWork(ctx, opReturn, func(ctx context.Context, tx pgx.Tx) error {
		l, txErr := s.ownedLoanForUpdate(ctx, tx, who.BorrowerID, loanID)
		if txErr != nil {
			return txErr
		}

		decision := s.policy.DecideReturn(l)
		if !decision.Allowed {
			return decision.Reason
		}

		l.Returned = true
		if txErr = s.store.UpdateLoanInTx(ctx, tx, l); txErr != nil {
			return txErr
		}
		if _, txErr = s.ledger.IncrementInTx(ctx, tx, l.BookID); txErr != nil {
			return txErr
		}
		returned = l
		return nil
	})
	if err != nil {
		s.logOutcome(ctx, logCtx, "Return", err)
		return nil, err
	}

	logCtx.InfoContext(ctx, "Loan returned", slog.Int64("bookID", returned.BookID))
	s.publish(ctx, event.LoanReturned, returned)
	return returned, nil
}

func (s *reservationService) ListMine(ctx context.Context, who identity.Identity) (loans []*Loan, err error) {
	defer func() { s.record(opListMine, err) }()

	if !who.Authenticated() {
		return nil, fmt.Errorf("%w: listing loans requires a signed-in borrower", apperrors.ErrUnauthenticated)
	}

	loans, err = s.store.FindByBorrower(ctx, who.BorrowerID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list loans", slog.Int64("borrowerID", who.BorrowerID), slog.Any("error", err))
		return nil, fmt.Errorf("failed to list loans for borrower %d: %w", who.BorrowerID, err)
	}
	if loans == nil {
		loans = []*Loan{}
	}
	return loans, nil
}

// ownedLoanForUpdate locks the caller first and the loan second, the same order borrow uses.
func (s *reservationService) ownedLoanForUpdate(ctx context.Context, tx pgx.Tx, borrowerID, loanID int64) (*Loan, error) {
	if err := s.store.LockBorrowerInTx(ctx, tx, borrowerID); err != nil {
		return nil, fmt.Errorf("could not lock borrower %d: %w", borrowerID, err)
	}

	l, err := s.store.GetLoanForUpdateInTx(ctx, tx, loanID)
	if err != nil {
		return nil, err
	}
	if !l.OwnedBy(borrowerID) {
		return nil, fmt.Errorf("%w: loan %d belongs to another borrower", apperrors.ErrForbidden, loanID)
	}
	return l, nil
}

// unitOfWork runs fn in a fresh transaction, retrying the whole attempt on ErrConflict.
func (s *reservationService) unitOfWork(ctx context.Context, op string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	onRetry := retry.WithOnRetry(func(attempt int, err error) {
		monitoring.RecordRetry(op)
		s.logger.WarnContext(ctx, "Retrying after concurrency conflict",
			slog.String("operation", op), slog.Int("attempt", attempt), slog.Any("error", err))
	})

	opts := append(append([]retry.Option{}, s.retryOpts...), onRetry)
	return retry.Do(ctx, func(ctx context.Context) error {
		return s.inTx(ctx, fn)
	}, opts...)
}

func (s *reservationService) inTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			s.logger.ErrorContext(ctx, "Panic occurred inside reservation transaction", slog.Any("panic", p))
			_ = s.store.RollbackTx(context.WithoutCancel(ctx), tx)
			panic(p)
		} else if err != nil {
			if rbErr := s.store.RollbackTx(context.WithoutCancel(ctx), tx); rbErr != nil {
				s.logger.WarnContext(ctx, "Rollback failed", slog.Any("error", rbErr))
			}
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}

	if err = s.store.CommitTx(ctx, tx); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

func (s *reservationService) logOutcome(ctx context.Context, logCtx *slog.Logger, what string, err error) {
	code := apperrors.Code(err)
	switch {
	case apperrors.IsDenial(err), code == apperrors.CodeForbidden, code == apperrors.CodeNotFound,
		code == apperrors.CodeInvalidArgument:
		logCtx.InfoContext(ctx, what+" denied", slog.String("code", code), slog.String("reason", err.Error()))
	case code == apperrors.CodeConflict:
		logCtx.WarnContext(ctx, what+" aborted after repeated conflicts", slog.Any("error", err))
	default:
		logCtx.ErrorContext(ctx, what+" failed", slog.Any("error", err))
	}
}

func (s *reservationService) record(op string, err error) {
	if err == nil {
		monitoring.RecordReservation(op, "success")
		return
	}
	monitoring.RecordReservation(op, apperrors.Code(err))
}

// publish runs after commit. A failed publish is logged and never undoes the loan change.
func (s *reservationService) publish(ctx context.Context, eventType event.LoanEventType, l *Loan) {
	evt := NewLoanEvent(eventType, l, s.clock.Now())
	if err := s.publisher.PublishLoanEvent(ctx, evt); err != nil {
		monitoring.RecordEventPublished(string(eventType), "failure")
		s.logger.ErrorContext(ctx, "Loan committed, but FAILED to publish event",
			slog.String("type", string(eventType)), slog.Int64("loanID", l.ID), slog.Any("error", err))
		return
	}
	monitoring.RecordEventPublished(string(eventType), "success")
}

func NewLoanEvent(eventType event.LoanEventType, l *Loan, occurredAt time.Time) event.LoanEvent {
	return event.LoanEvent{
		Type:       eventType,
		LoanID:     l.ID,
		BorrowerID: l.BorrowerID,
		BookID:     l.BookID,
		BookTitle:  l.BookTitle,
		RentalDate: l.RentalDate.Format(clock.DateLayout),
		DueDate:    l.DueDate.Format(clock.DateLayout),
		Returned:   l.Returned,
		OccurredAt: occurredAt.UTC(),
	}
}
