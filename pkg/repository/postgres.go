// Package repository reads libraries and books from the PostgreSQL library database.
// It is read-only: the dispatcher only needs the identifiers of its working sets.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/guido-cesarano/librarytasks/pkg/domain"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
)

// DBTX is the subset of *sql.DB and *sql.Tx used by the repositories.
type DBTX interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Open opens a connection pool to url and checks it is reachable.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// LibraryRepository lists libraries.
type LibraryRepository struct {
	db DBTX
}

func NewLibraryRepository(db DBTX) *LibraryRepository {
	return &LibraryRepository{db: db}
}

// ListLibraryIDs returns the ids of all libraries.
func (r *LibraryRepository) ListLibraryIDs(ctx context.Context) ([]string, error) {
	ids, err := queryIDs(ctx, r.db, `SELECT id FROM library ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	return ids, nil
}

// BookRepository searches books.
type BookRepository struct {
	db DBTX
}

func NewBookRepository(db DBTX) *BookRepository {
	return &BookRepository{db: db}
}

// FindBookIDs returns the ids of the books of the given libraries whose media status
// is one of statuses. An empty library or status set matches nothing.
func (r *BookRepository) FindBookIDs(ctx context.Context, libraryIDs []string, statuses []domain.MediaStatus) ([]string, error) {
	if len(libraryIDs) == 0 || len(statuses) == 0 {
		return nil, nil
	}

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := `
		SELECT b.id
		FROM book b
		JOIN media m ON m.book_id = b.id
		WHERE b.library_id = ANY($1)
		  AND m.status = ANY($2)
		ORDER BY b.id
	`
	ids, err := queryIDs(ctx, r.db, query, libraryIDs, names)
	if err != nil {
		return nil, fmt.Errorf("failed to find books: %w", err)
	}
	return ids, nil
}

func queryIDs(ctx context.Context, db DBTX, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
