package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// ReserveItems places holds for all items in one transaction. Every stock
// row is locked FOR UPDATE before any counter changes, so two concurrent
// reservers cannot both observe the same free stock. Either all items get a
// hold or none does: on any shortfall the transaction rolls back and the
// full unavailable-item report is returned with a nil id list.
func (s *Store) ReserveItems(ctx context.Context, warehouseID, userID int64, items []models.ItemRequest, expiresAt time.Time) ([]int64, []models.UnavailableItem, error) {
	// Lock rows in product-id order, never in cart order: two transactions
	// over overlapping products must acquire their shared locks in the same
	// sequence or they can deadlock each other.
	items = append([]models.ItemRequest(nil), items...)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var unavailable []models.UnavailableItem
	for _, item := range items {
		var rec models.StockRecord
		err := tx.GetContext(ctx, &rec,
			"SELECT * FROM stock WHERE product_id = $1 AND warehouse_id = $2 FOR UPDATE",
			item.ProductID, warehouseID)
		if err == sql.ErrNoRows {
			unavailable = append(unavailable, models.UnavailableItem{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Kind:      models.UnavailableKindNotFound,
			})
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to lock stock for product %d: %w", item.ProductID, err)
		}

		if free := rec.Available - rec.Reserved; free < item.Quantity {
			unavailable = append(unavailable, models.UnavailableItem{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: free,
				Kind:      models.UnavailableKindInsufficient,
			})
		}
	}

	if len(unavailable) > 0 {
		return nil, unavailable, nil
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		_, err := tx.ExecContext(ctx,
			"UPDATE stock SET reserved = reserved + $1, updated_at = NOW() WHERE product_id = $2 AND warehouse_id = $3",
			item.Quantity, item.ProductID, warehouseID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to increment reserved for product %d: %w", item.ProductID, err)
		}

		var id int64
		err = tx.GetContext(ctx, &id, `
			INSERT INTO reservations (product_id, warehouse_id, user_id, quantity, status, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			item.ProductID, warehouseID, userID, item.Quantity, models.ReservationStatusActive, expiresAt)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to insert reservation for product %d: %w", item.ProductID, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return ids, nil, nil
}

// ConfirmReservations finalizes active reservations and binds the order id.
// Ids that are missing or already terminal are skipped. Reserved counters
// are untouched: the hold already accounts for the stock.
func (s *Store) ConfirmReservations(ctx context.Context, ids []int64, orderID int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`
		UPDATE reservations SET status = ?, order_id = ?
		WHERE id IN (?) AND status = ?`,
		models.ReservationStatusCompleted, orderID, ids, models.ReservationStatusActive)
	if err != nil {
		return 0, err
	}
	query = s.db.Rebind(query)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseReservations cancels active reservations and returns their holds
// to the stock counters. Idempotent: terminal reservations are skipped.
func (s *Store) ReleaseReservations(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(
		"SELECT * FROM reservations WHERE id IN (?) AND status = ? FOR UPDATE",
		ids, models.ReservationStatusActive)
	if err != nil {
		return 0, err
	}
	return s.releaseWhere(ctx, query, args, models.ReservationStatusCancelled)
}

// ExpireDueReservations releases every active reservation whose deadline has
// passed. Reservations confirmed before the sweep's transaction locks them
// are no longer active and are safely skipped.
func (s *Store) ExpireDueReservations(ctx context.Context, now time.Time) (int64, error) {
	return s.releaseWhere(ctx,
		"SELECT * FROM reservations WHERE status = ? AND expires_at <= ? FOR UPDATE",
		[]interface{}{models.ReservationStatusActive, now},
		models.ReservationStatusExpired)
}

func (s *Store) releaseWhere(ctx context.Context, query string, args []interface{}, terminalStatus string) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	query = s.db.Rebind(query)

	var reservations []models.Reservation
	if err := tx.SelectContext(ctx, &reservations, query, args...); err != nil {
		return 0, fmt.Errorf("failed to lock reservations: %w", err)
	}
	if len(reservations) == 0 {
		return 0, nil
	}

	for _, r := range reservations {
		_, err := tx.ExecContext(ctx,
			"UPDATE stock SET reserved = reserved - $1, updated_at = NOW() WHERE product_id = $2 AND warehouse_id = $3",
			r.Quantity, r.ProductID, r.WarehouseID)
		if err != nil {
			return 0, fmt.Errorf("failed to decrement reserved for reservation %d: %w", r.ID, err)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE reservations SET status = $1 WHERE id = $2",
			terminalStatus, r.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to mark reservation %d %s: %w", r.ID, terminalStatus, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int64(len(reservations)), nil
}

// GetReservationsByIDs retrieves reservations by ids
func (s *Store) GetReservationsByIDs(ctx context.Context, ids []int64) ([]models.Reservation, error) {
	if len(ids) == 0 {
		return []models.Reservation{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM reservations WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var reservations []models.Reservation
	err = s.db.SelectContext(ctx, &reservations, query, args...)
	return reservations, err
}
