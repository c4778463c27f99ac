package postgres

import (
	"booklend/internal/domain/book"
	"booklend/internal/domain/loan"
	"booklend/internal/pkg/apperrors"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
)

var (
	_ book.Reader          = (*BookRepository)(nil)
	_ loan.InventoryLedger = (*BookRepository)(nil)
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// BookRepository is the catalog reader and the inventory ledger. Stock only ever changes
// through single guarded UPDATE statements.
type BookRepository struct {
	db      DBPool
	dialect goqu.DialectWrapper
	logger  *slog.Logger
}

func NewBookRepository(db DBPool, logger *slog.Logger) *BookRepository {
	return &BookRepository{
		db:      db,
		dialect: goqu.Dialect("postgres"),
		logger:  logger.With("component", "BookRepository"),
	}
}

func (r *BookRepository) FindByID(ctx context.Context, bookID int64) (*book.Book, error) {
	query := `
        SELECT id, title, author, genre, summary, stock_count, COALESCE(image_filename, ''), created_at, updated_at
        FROM books
        WHERE id = $1`
	startTime := time.Now()

	b, err := scanBook(r.db.QueryRow(ctx, query, bookID))
	recordQuery("FindBookByID", startTime, err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Book not found", "book_id", bookID)
			return nil, fmt.Errorf("%w: book %d", apperrors.ErrNotFound, bookID)
		}
		r.logger.ErrorContext(ctx, "Failed to get book by ID", "book_id", bookID, "error", err)
		return nil, translateDBError(err, r.logger)
	}
	return b, nil
}

func (r *BookRepository) listQuery(filter book.Filter) (string, []interface{}, error) {
	filter = filter.Normalized()

	ds := r.dialect.From("books").Prepared(true).Select(
		"id", "title", "author", "genre", "summary", "stock_count",
		goqu.COALESCE(goqu.C("image_filename"), "").As("image_filename"),
		"created_at", "updated_at",
	)

	if filter.Genre != "" {
		ds = ds.Where(goqu.Func("LOWER", goqu.C("genre")).Eq(strings.ToLower(filter.Genre)))
	}
	if filter.Query != "" {
		pattern := "%" + likeEscaper.Replace(filter.Query) + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("title").ILike(pattern),
			goqu.C("author").ILike(pattern),
		))
	}
	if filter.InStockOnly {
		ds = ds.Where(goqu.C("stock_count").Gt(0))
	}

	return ds.Order(goqu.C("id").Asc()).
		Limit(uint(filter.Limit)).
		Offset(uint(filter.Offset)).
		ToSQL()
}

func (r *BookRepository) FindAll(ctx context.Context, filter book.Filter) ([]*book.Book, error) {
	logCtx := r.logger.With(slog.String("operation", "FindAll"))

	query, args, err := r.listQuery(filter)
	if err != nil {
		logCtx.ErrorContext(ctx, "Failed to build book list query", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to build query: %w", apperrors.ErrInternalServer, err)
	}

	startTime := time.Now()
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		recordQuery("FindAllBooks", startTime, err)
		logCtx.ErrorContext(ctx, "Failed to query books", slog.Any("error", err))
		return nil, translateDBError(err, r.logger)
	}
	defer rows.Close()

	books := make([]*book.Book, 0)
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			recordQuery("FindAllBooks", startTime, err)
			logCtx.ErrorContext(ctx, "Failed to scan book row", slog.Any("error", err))
			return nil, fmt.Errorf("%w: failed to scan book: %w", apperrors.ErrDatabase, err)
		}
		books = append(books, b)
	}
	err = rows.Err()
	recordQuery("FindAllBooks", startTime, err)
	if err != nil {
		logCtx.ErrorContext(ctx, "Error iterating book rows", slog.Any("error", err))
		return nil, fmt.Errorf("%w: error iterating books: %w", apperrors.ErrDatabase, err)
	}

	return books, nil
}

func (r *BookRepository) StockForUpdateInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error) {
	startTime := time.Now()

	var stock int
	err := tx.QueryRow(ctx, `SELECT stock_count FROM books WHERE id = $1 FOR UPDATE`, bookID).Scan(&stock)
	recordQuery("StockForUpdateInTx", startTime, err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Book not found", "book_id", bookID)
			return 0, fmt.Errorf("%w: book %d", apperrors.ErrNotFound, bookID)
		}
		r.logger.ErrorContext(ctx, "Failed to lock book row", "book_id", bookID, "error", err)
		return 0, translateDBError(err, r.logger)
	}
	return stock, nil
}

// TryDecrementInTx takes one copy only while one is left. No row back means the shelf is empty.
func (r *BookRepository) TryDecrementInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error) {
	query := `
        UPDATE books
        SET stock_count = stock_count - 1, updated_at = NOW()
        WHERE id = $1 AND stock_count > 0
        RETURNING stock_count`
	startTime := time.Now()

	var stock int
	err := tx.QueryRow(ctx, query, bookID).Scan(&stock)
	recordQuery("TryDecrementInTx", startTime, err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.InfoContext(ctx, "No copy left to decrement", "book_id", bookID)
			return 0, fmt.Errorf("%w: book %d", apperrors.ErrOutOfStock, bookID)
		}
		r.logger.ErrorContext(ctx, "Failed to decrement stock", "book_id", bookID, "error", err)
		return 0, translateDBError(err, r.logger)
	}
	return stock, nil
}

func (r *BookRepository) IncrementInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error) {
	query := `
        UPDATE books
        SET stock_count = stock_count + 1, updated_at = NOW()
        WHERE id = $1
        RETURNING stock_count`
	startTime := time.Now()

	var stock int
	err := tx.QueryRow(ctx, query, bookID).Scan(&stock)
	recordQuery("IncrementInTx", startTime, err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Book not found for increment", "book_id", bookID)
			return 0, fmt.Errorf("%w: book %d", apperrors.ErrNotFound, bookID)
		}
		r.logger.ErrorContext(ctx, "Failed to increment stock", "book_id", bookID, "error", err)
		return 0, translateDBError(err, r.logger)
	}
	return stock, nil
}

func scanBook(row pgx.Row) (*book.Book, error) {
	var b book.Book
	err := row.Scan(
		&b.ID, &b.Title, &b.Author, &b.Genre, &b.Summary, &b.StockCount,
		&b.ImageFilename, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
