package postgres

import (
	"booklend/internal/domain/book"
	"booklend/internal/pkg/apperrors"
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bookRowColumns = []string{
	"id", "title", "author", "genre", "summary", "stock_count", "image_filename", "created_at", "updated_at",
}

func setupBookRepo(t *testing.T) (context.Context, *BookRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to open a stub database connection: %v", err)
	}

	return context.Background(), NewBookRepository(mockPool, logger), mockPool
}

func TestFindBookByID(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		ctx, repo, mockPool := setupBookRepo(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(regexp.QuoteMeta("FROM books")).
			WithArgs(int64(7)).
			WillReturnRows(pgxmock.NewRows(bookRowColumns).
				AddRow(int64(7), "Dune", "Frank Herbert", "Science Fiction", "Spice.", 3, "dune.jpg", stampedAt, stampedAt))

		b, err := repo.FindByID(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "Dune", b.Title)
		assert.Equal(t, 3, b.StockCount)
		assert.Equal(t, "dune.jpg", b.ImageFilename)
		assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
	})

	t.Run("Not found", func(t *testing.T) {
		ctx, repo, mockPool := setupBookRepo(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(regexp.QuoteMeta("FROM books")).
			WithArgs(int64(404)).
			WillReturnRows(pgxmock.NewRows(bookRowColumns))

		_, err := repo.FindByID(ctx, 404)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
	})

	t.Run("Database error", func(t *testing.T) {
		ctx, repo, mockPool := setupBookRepo(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(regexp.QuoteMeta("FROM books")).
			WithArgs(int64(7)).
			WillReturnError(errors.New("connection reset"))

		_, err := repo.FindByID(ctx, 7)
		assert.ErrorIs(t, err, apperrors.ErrDatabase)
	})
}

func TestListQueryBuildsFilters(t *testing.T) {
	_, repo, mockPool := setupBookRepo(t)
	defer mockPool.Close()

	query, args, err := repo.listQuery(book.Filter{Genre: "Fantasy", Query: "50%_off", InStockOnly: true, Limit: 10, Offset: 20})
	require.NoError(t, err)

	assert.Contains(t, query, `FROM "books"`)
	assert.Contains(t, query, `LOWER("genre")`)
	assert.Contains(t, query, `"title" ILIKE`)
	assert.Contains(t, query, `"author" ILIKE`)
	assert.Contains(t, query, `"stock_count" >`)
	assert.Contains(t, query, `ORDER BY "id" ASC`)
	assert.Contains(t, query, "LIMIT")
	assert.Contains(t, query, "OFFSET")
	assert.Contains(t, args, "fantasy")
	assert.Contains(t, args, `%50\%\_off%`)
}

func TestListQueryWithoutFilters(t *testing.T) {
	_, repo, mockPool := setupBookRepo(t)
	defer mockPool.Close()

	query, _, err := repo.listQuery(book.Filter{})
	require.NoError(t, err)

	assert.NotContains(t, query, "WHERE")
	assert.Contains(t, query, "LIMIT")
}

func TestFindAllBooks(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		ctx, repo, mockPool := setupBookRepo(t)
		defer mockPool.Close()
		filter := book.Filter{Genre: "classic", InStockOnly: true}

		query, args, err := repo.listQuery(filter)
		require.NoError(t, err)

		mockPool.ExpectQuery(regexp.QuoteMeta(query)).
			WithArgs(args...).
			WillReturnRows(pgxmock.NewRows(bookRowColumns).
				AddRow(int64(1), "Emma", "Jane Austen", "Classic", "", 2, "", stampedAt, stampedAt).
				AddRow(int64(2), "Persuasion", "Jane Austen", "Classic", "", 1, "", stampedAt, stampedAt))

		books, err := repo.FindAll(ctx, filter)
		require.NoError(t, err)
		require.Len(t, books, 2)
		assert.Equal(t, "Persuasion", books[1].Title)
		assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
	})

	t.Run("Query error", func(t *testing.T) {
		ctx, repo, mockPool := setupBookRepo(t)
		defer mockPool.Close()

		query, args, err := repo.listQuery(book.Filter{})
		require.NoError(t, err)

		mockPool.ExpectQuery(regexp.QuoteMeta(query)).
			WithArgs(args...).
			WillReturnError(errors.New("connection reset"))

		_, err = repo.FindAll(ctx, book.Filter{})
		assert.ErrorIs(t, err, apperrors.ErrDatabase)
		assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
	})
}

func TestStockForUpdateInTx(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		ctx, repo, mockPool := setupBookRepo(t)
		defer mockPool.Close()
		tx := beginMockTx(t, ctx, mockPool)

		mockPool.ExpectQuery(regexp.QuoteMeta("SELECT stock_count FROM books WHERE id = $1 FOR UPDATE")).
			WithArgs(int64(7)).
			WillReturnRows(pgxmock.NewRows([]string{"stock_count"}).AddRow(2))

		stock, err := repo.StockForUpdateInTx(ctx, tx, 7)
		require.NoError(t, err)
		assert.Equal(t, 2, stock)
		assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
	})

	t.Run("Unknown book", func(t *testing.T) {
		ctx, repo, mockPool := setupBookRepo(t)
		defer mockPool.Close()
		tx := beginMockTx(t, ctx, mockPool)

		mockPool.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
			WithArgs(int64(404)).
			WillReturnRows(pgxmock.NewRows([]string{"stock_count"}))

		_, err := repo.StockForUpdateInTx(ctx, tx, 404)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestTryDecrementInTx(t *testing.T) {
	t.Run("Takes the last copy", func(t *testing.T) {
		ctx, repo, mockPool := setupBookRepo(t)
		defer mockPool.Close()
		tx := beginMockTx(t, ctx, mockPool)

		mockPool.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND stock_count > 0")).
			WithArgs(int64(7)).
			WillReturnRows(pgxmock.NewRows([]string{"stock_count"}).AddRow(0))

		stock, err := repo.TryDecrementInTx(ctx, tx, 7)
		require.NoError(t, err)
		assert.Equal(t, 0, stock)
		assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
	})

	t.Run("Empty shelf", func(t *testing.T) {
		ctx, repo, mockPool := setupBookRepo(t)
		defer mockPool.Close()
		tx := beginMockTx(t, ctx, mockPool)

		mockPool.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND stock_count > 0")).
			WithArgs(int64(7)).
			WillReturnRows(pgxmock.NewRows([]string{"stock_count"}))

		_, err := repo.TryDecrementInTx(ctx, tx, 7)
		assert.ErrorIs(t, err, apperrors.ErrOutOfStock)
		assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
	})

	t.Run("Check constraint", func(t *testing.T) {
		ctx, repo, mockPool := setupBookRepo(t)
		defer mockPool.Close()
		tx := beginMockTx(t, ctx, mockPool)

		mockPool.ExpectQuery(regexp.QuoteMeta("SET stock_count = stock_count - 1")).
			WithArgs(int64(7)).
			WillReturnError(&pgconn.PgError{Code: "23514", ConstraintName: "books_stock_count_check"})

		_, err := repo.TryDecrementInTx(ctx, tx, 7)
		assert.ErrorIs(t, err, apperrors.ErrOutOfStock)
	})
}

func TestIncrementInTx(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		ctx, repo, mockPool := setupBookRepo(t)
		defer mockPool.Close()
		tx := beginMockTx(t, ctx, mockPool)

		mockPool.ExpectQuery(regexp.QuoteMeta("SET stock_count = stock_count + 1")).
			WithArgs(int64(7)).
			WillReturnRows(pgxmock.NewRows([]string{"stock_count"}).AddRow(3))

		stock, err := repo.IncrementInTx(ctx, tx, 7)
		require.NoError(t, err)
		assert.Equal(t, 3, stock)
		assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
	})

	t.Run("Unknown book", func(t *testing.T) {
		ctx, repo, mockPool := setupBookRepo(t)
		defer mockPool.Close()
		tx := beginMockTx(t, ctx, mockPool)

		mockPool.ExpectQuery(regexp.QuoteMeta("SET stock_count = stock_count + 1")).
			WithArgs(int64(404)).
			WillReturnRows(pgxmock.NewRows([]string{"stock_count"}))

		_, err := repo.IncrementInTx(ctx, tx, 404)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}
