package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// GetStock retrieves stock counters for a (product, warehouse) pair
func (s *Store) GetStock(ctx context.Context, productID, warehouseID int64) (*models.StockRecord, error) {
	var rec models.StockRecord
	err := s.db.GetContext(ctx, &rec,
		"SELECT * FROM stock WHERE product_id = $1 AND warehouse_id = $2",
		productID, warehouseID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no stock record for product %d at warehouse %d", productID, warehouseID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertStock sets stock counters for a (product, warehouse) pair
func (s *Store) UpsertStock(ctx context.Context, productID, warehouseID int64, available, reserved int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock (product_id, warehouse_id, available, reserved, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (product_id, warehouse_id)
		DO UPDATE SET available = $3, reserved = $4, updated_at = NOW()`,
		productID, warehouseID, available, reserved)
	return err
}
