// Package store persists products in a file-based sqlite database with
// duplicate-tolerant batch insertion and on-demand aggregate statistics.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite driver
	"go.uber.org/zap"

	"github.com/figueredoestupinan2025/rpa-productos/internal/catalog"
)

// CategoryStat aggregates one category's prices.
type CategoryStat struct {
	Category string  `db:"category" json:"category"`
	Count    int     `db:"count" json:"count"`
	AvgPrice float64 `db:"avg_price" json:"avg_price"`
	MinPrice float64 `db:"min_price" json:"min_price"`
	MaxPrice float64 `db:"max_price" json:"max_price"`
}

// Statistics is a snapshot computed from the current store state, never
// cached.
type Statistics struct {
	TotalProducts int            `json:"total_products"`
	AvgPrice      float64        `json:"avg_price"`
	CategoryStats []CategoryStat `json:"category_stats"`
}

// Health describes the result of a store integrity probe.
type Health struct {
	Connected   bool   `json:"database_connected"`
	TableExists bool   `json:"table_exists"`
	RecordCount int    `json:"record_count"`
	LastInsert  string `json:"last_insert,omitempty"`
	Integrity   bool   `json:"integrity_check"`
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY,
	title TEXT NOT NULL,
	price REAL NOT NULL,
	category TEXT NOT NULL,
	description TEXT,
	inserted_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);
CREATE INDEX IF NOT EXISTS idx_products_price ON products(price);
CREATE INDEX IF NOT EXISTS idx_products_inserted_at ON products(inserted_at);
`

// Store wraps the sqlite connection. The pool is limited to one connection
// and transactions take an exclusive lock, so there is exactly one writer.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open creates the database file (and its directory) if needed and applies
// the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=exclusive", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db %s: %w", path, err)
	}
	// sqlite supports a single writer; serializing the pool avoids
	// SQLITE_BUSY churn between statements.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("product store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// InsertProducts writes a batch inside one exclusive transaction with
// insert-or-ignore semantics. The returned count excludes rows skipped as
// duplicates. Records with an invalid shape are logged and skipped; any
// unexpected database error rolls back the whole batch.
func (s *Store) InsertProducts(ctx context.Context, products []catalog.Product) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert transaction: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT OR IGNORE INTO products (id, title, price, category, description, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, p := range products {
		if p.ID <= 0 || strings.TrimSpace(p.Title) == "" || p.Price <= 0 || p.Category == "" {
			s.logger.Warn("skipping malformed product", zap.Int64("id", p.ID))
			continue
		}
		res, err := stmt.ExecContext(ctx, p.ID, p.Title, p.Price, p.Category, p.Description, p.InsertedAt)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert product %d: %w", p.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert transaction: %w", err)
	}

	s.logger.Info("products inserted",
		zap.Int("inserted", inserted),
		zap.Int("ignored", len(products)-inserted))
	return inserted, nil
}

// Products returns every stored row ordered by id.
func (s *Store) Products(ctx context.Context) ([]catalog.Product, error) {
	var products []catalog.Product
	err := s.db.SelectContext(ctx, &products, `
		SELECT id, title, price, category, description, inserted_at
		FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	return products, nil
}

// Stats computes totals and per-category aggregates from the current rows.
func (s *Store) Stats(ctx context.Context) (Statistics, error) {
	var totals struct {
		Count int             `db:"cnt"`
		Avg   sql.NullFloat64 `db:"avg_price"`
	}
	err := s.db.GetContext(ctx, &totals,
		`SELECT COUNT(*) AS cnt, AVG(price) AS avg_price FROM products`)
	if err != nil {
		return Statistics{}, fmt.Errorf("aggregate totals: %w", err)
	}

	var categories []CategoryStat
	err = s.db.SelectContext(ctx, &categories, `
		SELECT category,
		       COUNT(*)   AS count,
		       AVG(price) AS avg_price,
		       MIN(price) AS min_price,
		       MAX(price) AS max_price
		FROM products
		GROUP BY category
		ORDER BY category`)
	if err != nil {
		return Statistics{}, fmt.Errorf("aggregate categories: %w", err)
	}

	return Statistics{
		TotalProducts: totals.Count,
		AvgPrice:      totals.Avg.Float64,
		CategoryStats: categories,
	}, nil
}

// HealthCheck probes connectivity, schema presence, and file integrity.
func (s *Store) HealthCheck(ctx context.Context) Health {
	var h Health
	if err := s.db.PingContext(ctx); err != nil {
		return h
	}
	h.Connected = true

	var name string
	err := s.db.GetContext(ctx, &name,
		`SELECT name FROM sqlite_master WHERE type='table' AND name='products'`)
	if err == nil {
		h.TableExists = true
		_ = s.db.GetContext(ctx, &h.RecordCount, `SELECT COUNT(*) FROM products`)
		var last sql.NullString
		_ = s.db.GetContext(ctx, &last, `SELECT MAX(inserted_at) FROM products`)
		h.LastInsert = last.String
	}

	var integrity string
	if err := s.db.GetContext(ctx, &integrity, `PRAGMA integrity_check`); err == nil {
		h.Integrity = integrity == "ok"
	}
	return h
}

// Close releases the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite db: %w", err)
	}
	return nil
}
