// Package memory is a process-local implementation of the loan store, the inventory
// ledger and the catalog reader. Locks are taken per key and held until the
// transaction ends, so the reservation workflow gets the same guarantees it gets
// from PostgreSQL row locks.
package memory

import (
	"booklend/internal/domain/book"
	"booklend/internal/domain/loan"
	"booklend/internal/pkg/apperrors"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

const DefaultLockTimeout = 5 * time.Second

var (
	_ loan.Store           = (*Store)(nil)
	_ loan.InventoryLedger = (*Store)(nil)
	_ book.Reader          = (*Store)(nil)
)

type Store struct {
	mu         sync.Mutex
	books      map[int64]*book.Book
	loans      map[int64]*loan.Loan
	nextBookID int64
	nextLoanID int64

	locksMu     sync.Mutex
	locks       map[string]*keyLock
	lockTimeout time.Duration

	logger *slog.Logger
}

// keyLock is dropped from Store.locks once no transaction holds or waits for it.
type keyLock struct {
	ch   chan struct{}
	refs int
}

type Option func(*Store)

// WithLockTimeout bounds how long a transaction waits for a key before giving up with ErrConflict.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

func NewStore(logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		books:       make(map[int64]*book.Book),
		loans:       make(map[int64]*loan.Loan),
		locks:       make(map[string]*keyLock),
		lockTimeout: DefaultLockTimeout,
		logger:      logger.With(slog.String("component", "memoryStore")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddBook stores a copy of b under a fresh ID and returns that copy.
func (s *Store) AddBook(b book.Book) (*book.Book, error) {
	if b.StockCount < 0 {
		return nil, apperrors.NewValidationError("stockCount", "must not be negative")
	}
	if strings.TrimSpace(b.Title) == "" {
		return nil, apperrors.NewValidationError("title", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextBookID++
	now := time.Now().UTC()
	b.ID = s.nextBookID
	b.CreatedAt, b.UpdatedAt = now, now
	s.books[b.ID] = &b

	s.logger.Debug("Book added", slog.Int64("bookID", b.ID), slog.Int("stockCount", b.StockCount))
	cp := b
	return &cp, nil
}

// Snapshot reports committed stock and active loan count of a book as one consistent read.
func (s *Store) Snapshot(bookID int64) (stock, active int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[bookID]
	if !ok {
		return 0, 0, fmt.Errorf("%w: book %d", apperrors.ErrNotFound, bookID)
	}
	for _, l := range s.loans {
		if l.BookID == bookID && !l.Returned {
			active++
		}
	}
	return b.StockCount, active, nil
}

type memTx struct {
	pgx.Tx

	store    *Store
	held     map[string]*keyLock
	stock    map[int64]int
	created  []*loan.Loan
	updated  map[int64]*loan.Loan
	finished bool
}

func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDatabase, err)
	}
	return &memTx{
		store:   s,
		held:    make(map[string]*keyLock),
		stock:   make(map[int64]int),
		updated: make(map[int64]*loan.Loan),
	}, nil
}

// CommitTx applies every staged write at once and then releases the transaction's locks.
func (s *Store) CommitTx(ctx context.Context, tx pgx.Tx) error {
	t, err := s.open(tx)
	if err != nil {
		return err
	}
	defer t.release()

	s.mu.Lock()
	defer s.mu.Unlock()

	for bookID, delta := range t.stock {
		b, ok := s.books[bookID]
		if !ok {
			return fmt.Errorf("%w: book %d vanished before commit", apperrors.ErrDatabase, bookID)
		}
		if b.StockCount+delta < 0 {
			return fmt.Errorf("%w: stock of book %d would become negative", apperrors.ErrDatabase, bookID)
		}
	}

	now := time.Now().UTC()
	for bookID, delta := range t.stock {
		if delta == 0 {
			continue
		}
		b := s.books[bookID]
		b.StockCount += delta
		b.UpdatedAt = now
	}
	for _, l := range t.created {
		cp := *l
		s.loans[l.ID] = &cp
	}
	for id, l := range t.updated {
		cp := *l
		s.loans[id] = &cp
	}
	return nil
}

func (s *Store) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	t, err := s.open(tx)
	if err != nil {
		return err
	}
	t.release()
	return nil
}

func (s *Store) open(tx pgx.Tx) (*memTx, error) {
	t, ok := tx.(*memTx)
	if !ok || t.store != s {
		return nil, fmt.Errorf("%w: transaction does not belong to this store", apperrors.ErrDatabase)
	}
	if t.finished {
		return nil, pgx.ErrTxClosed
	}
	return t, nil
}

func (t *memTx) release() {
	t.finished = true
	for key, kl := range t.held {
		<-kl.ch
		delete(t.held, key)
		t.store.unref(key, kl)
	}
}

func (s *Store) unref(key string, kl *keyLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(s.locks, key)
	}
}

// lock waits for key until the context ends or the store's lock timeout passes.
// Re-locking a key the transaction already holds is a no-op.
func (t *memTx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}

	s := t.store
	s.locksMu.Lock()
	kl, ok := s.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		s.locks[key] = kl
	}
	kl.refs++
	s.locksMu.Unlock()

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case kl.ch <- struct{}{}:
		t.held[key] = kl
		return nil
	case <-ctx.Done():
		s.unref(key, kl)
		return fmt.Errorf("%w: waiting for %s: %v", apperrors.ErrDatabase, key, ctx.Err())
	case <-timer.C:
		s.unref(key, kl)
		return fmt.Errorf("%w: lock timeout on %s", apperrors.ErrConflict, key)
	}
}

func (s *Store) LockBorrowerInTx(ctx context.Context, tx pgx.Tx, borrowerID int64) error {
	t, err := s.open(tx)
	if err != nil {
		return err
	}
	return t.lock(ctx, fmt.Sprintf("borrower:%d", borrowerID))
}

// visibleLoans merges committed loans with the transaction's staged writes. Callers hold s.mu.
func (t *memTx) visibleLoans() []*loan.Loan {
	s := t.store
	out := make([]*loan.Loan, 0, len(s.loans)+len(t.created))
	for id, l := range s.loans {
		if staged, ok := t.updated[id]; ok {
			out = append(out, staged)
			continue
		}
		out = append(out, l)
	}
	return append(out, t.created...)
}

func (s *Store) HasActiveLoanInTx(ctx context.Context, tx pgx.Tx, borrowerID, bookID int64) (bool, error) {
	t, err := s.open(tx)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range t.visibleLoans() {
		if l.BorrowerID == borrowerID && l.BookID == bookID && !l.Returned {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CountActiveInTx(ctx context.Context, tx pgx.Tx, borrowerID int64) (int, error) {
	return s.countActive(tx, func(l *loan.Loan) bool { return l.BorrowerID == borrowerID })
}

func (s *Store) CountActiveByBookInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error) {
	return s.countActive(tx, func(l *loan.Loan) bool { return l.BookID == bookID })
}

func (s *Store) countActive(tx pgx.Tx, match func(*loan.Loan) bool) (int, error) {
	t, err := s.open(tx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range t.visibleLoans() {
		if !l.Returned && match(l) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateLoanInTx(ctx context.Context, tx pgx.Tx, l *loan.Loan) (*loan.Loan, error) {
	t, err := s.open(tx)
	if err != nil {
		return nil, err
	}
	if l.DueDate.Before(l.RentalDate) {
		return nil, fmt.Errorf("%w: due date before rental date", apperrors.ErrInvalidDate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[l.BookID]
	if !ok {
		return nil, fmt.Errorf("%w: book %d", apperrors.ErrNotFound, l.BookID)
	}
	for _, existing := range t.visibleLoans() {
		if existing.BorrowerID == l.BorrowerID && existing.BookID == l.BookID && !existing.Returned {
			return nil, fmt.Errorf("%w: book %d", apperrors.ErrDuplicateActiveLoan, l.BookID)
		}
	}

	s.nextLoanID++
	now := time.Now().UTC()
	created := *l
	created.ID = s.nextLoanID
	created.Returned = false
	created.CreatedAt, created.UpdatedAt = now, now
	created.BookTitle, created.BookAuthor = b.Title, b.Author
	t.created = append(t.created, &created)

	out := created
	return &out, nil
}

func (s *Store) GetLoanForUpdateInTx(ctx context.Context, tx pgx.Tx, loanID int64) (*loan.Loan, error) {
	t, err := s.open(tx)
	if err != nil {
		return nil, err
	}
	if err := t.lock(ctx, fmt.Sprintf("loan:%d", loanID)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := t.updated[loanID]
	if !ok {
		l, ok = s.loans[loanID]
	}
	if !ok {
		return nil, fmt.Errorf("%w: loan %d", apperrors.ErrNotFound, loanID)
	}
	out := s.withBook(*l)
	return &out, nil
}

func (s *Store) UpdateLoanInTx(ctx context.Context, tx pgx.Tx, l *loan.Loan) error {
	t, err := s.open(tx)
	if err != nil {
		return err
	}
	if l.DueDate.Before(l.RentalDate) {
		return fmt.Errorf("%w: due date before rental date", apperrors.ErrInvalidDate)
	}
	if err := t.lock(ctx, fmt.Sprintf("loan:%d", l.ID)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.loans[l.ID]; !ok {
		return fmt.Errorf("%w: loan %d", apperrors.ErrNotFound, l.ID)
	}
	staged := *l
	staged.UpdatedAt = time.Now().UTC()
	t.updated[l.ID] = &staged
	return nil
}

func (s *Store) FindByBorrower(ctx context.Context, borrowerID int64) ([]*loan.Loan, error) {
	return s.findLoans(func(l *loan.Loan) bool { return l.BorrowerID == borrowerID }), nil
}

func (s *Store) FindOverdue(ctx context.Context, asOf time.Time) ([]*loan.Loan, error) {
	return s.findLoans(func(l *loan.Loan) bool { return !l.Returned && l.DueDate.Before(asOf) }), nil
}

func (s *Store) findLoans(match func(*loan.Loan) bool) []*loan.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*loan.Loan, 0)
	for _, l := range s.loans {
		if match(l) {
			cp := s.withBook(*l)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// withBook fills the display fields from the catalog. Callers hold s.mu.
func (s *Store) withBook(l loan.Loan) loan.Loan {
	if b, ok := s.books[l.BookID]; ok {
		l.BookTitle, l.BookAuthor = b.Title, b.Author
	}
	return l
}

func (s *Store) StockForUpdateInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error) {
	t, err := s.open(tx)
	if err != nil {
		return 0, err
	}
	if !s.hasBook(bookID) {
		return 0, fmt.Errorf("%w: book %d", apperrors.ErrNotFound, bookID)
	}
	if err := t.lock(ctx, fmt.Sprintf("book:%d", bookID)); err != nil {
		return 0, err
	}
	return s.stockOf(t, bookID)
}

func (s *Store) TryDecrementInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error) {
	return s.adjustStock(ctx, tx, bookID, -1)
}

func (s *Store) IncrementInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error) {
	return s.adjustStock(ctx, tx, bookID, 1)
}

func (s *Store) adjustStock(ctx context.Context, tx pgx.Tx, bookID int64, delta int) (int, error) {
	t, err := s.open(tx)
	if err != nil {
		return 0, err
	}
	if !s.hasBook(bookID) {
		return 0, fmt.Errorf("%w: book %d", apperrors.ErrNotFound, bookID)
	}
	if err := t.lock(ctx, fmt.Sprintf("book:%d", bookID)); err != nil {
		return 0, err
	}

	current, err := s.stockOf(t, bookID)
	if err != nil {
		return 0, err
	}
	if current+delta < 0 {
		return current, fmt.Errorf("%w: book %d", apperrors.ErrOutOfStock, bookID)
	}
	t.stock[bookID] += delta
	return current + delta, nil
}

func (s *Store) hasBook(bookID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.books[bookID]
	return ok
}

func (s *Store) stockOf(t *memTx, bookID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[bookID]
	if !ok {
		return 0, fmt.Errorf("%w: book %d", apperrors.ErrNotFound, bookID)
	}
	return b.StockCount + t.stock[bookID], nil
}

func (s *Store) FindByID(ctx context.Context, bookID int64) (*book.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[bookID]
	if !ok {
		return nil, fmt.Errorf("%w: book %d", apperrors.ErrNotFound, bookID)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) FindAll(ctx context.Context, filter book.Filter) ([]*book.Book, error) {
	filter = filter.Normalized()
	query := strings.ToLower(filter.Query)

	s.mu.Lock()
	out := make([]*book.Book, 0, len(s.books))
	for _, b := range s.books {
		if filter.Genre != "" && !strings.EqualFold(b.Genre, filter.Genre) {
			continue
		}
		if filter.InStockOnly && b.StockCount <= 0 {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(b.Title), query) &&
			!strings.Contains(strings.ToLower(b.Author), query) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if filter.Offset >= len(out) {
		return []*book.Book{}, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
