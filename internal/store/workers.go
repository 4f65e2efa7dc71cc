package store

import (
	"context"
	"fmt"

	"fulfillment-service/internal/models"
)

// ListActiveWarehouses retrieves all warehouses accepting orders
func (s *Store) ListActiveWarehouses(ctx context.Context) ([]models.Warehouse, error) {
	var warehouses []models.Warehouse
	err := s.db.SelectContext(ctx, &warehouses,
		"SELECT * FROM warehouses WHERE active = true ORDER BY id")
	return warehouses, err
}

// ListPickerCandidates retrieves unbound active pickers at a warehouse together
// with their in-progress order counts for workload ranking
func (s *Store) ListPickerCandidates(ctx context.Context, warehouseID int64) ([]models.PickerCandidate, error) {
	var candidates []models.PickerCandidate
	err := s.db.SelectContext(ctx, &candidates, `
		SELECT p.*,
		       (SELECT COUNT(*) FROM orders o
		        WHERE o.picker_id = p.id
		          AND o.status IN ($2, $3)) AS in_progress_orders
		FROM pickers p
		WHERE p.warehouse_id = $1 AND p.active = true AND p.current_order_id IS NULL`,
		warehouseID, models.OrderStatusAssignedPicker, models.OrderStatusAssignedCourier)
	return candidates, err
}

// ListAvailableCouriers retrieves active couriers with no current order
func (s *Store) ListAvailableCouriers(ctx context.Context) ([]models.Courier, error) {
	var couriers []models.Courier
	err := s.db.SelectContext(ctx, &couriers,
		"SELECT * FROM couriers WHERE active = true AND current_order_id IS NULL")
	return couriers, err
}

// BindPicker binds a picker to an order and advances the order from
// confirmed to assigned_picker in one transaction. Returns false without
// error when a concurrent assignment grabbed the picker first, or when the
// order already left confirmed: the status update is conditional on the
// expected prior status, and affecting zero rows rolls the bind back.
func (s *Store) BindPicker(ctx context.Context, pickerID, orderID int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE pickers SET current_order_id = $1 WHERE id = $2 AND current_order_id IS NULL",
		orderID, pickerID)
	if err != nil {
		return false, fmt.Errorf("failed to bind picker %d: %w", pickerID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx,
		"UPDATE orders SET picker_id = $1, status = $2, updated_at = NOW() WHERE id = $3 AND status = $4",
		pickerID, models.OrderStatusAssignedPicker, orderID, models.OrderStatusConfirmed)
	if err != nil {
		return false, fmt.Errorf("failed to advance order %d: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// BindCourier binds a courier to an order and advances the order from
// assigned_picker to assigned_courier in one transaction, with the same
// conflict semantics as BindPicker.
func (s *Store) BindCourier(ctx context.Context, courierID, orderID int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE couriers SET current_order_id = $1 WHERE id = $2 AND current_order_id IS NULL",
		orderID, courierID)
	if err != nil {
		return false, fmt.Errorf("failed to bind courier %d: %w", courierID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx,
		"UPDATE orders SET courier_id = $1, status = $2, updated_at = NOW() WHERE id = $3 AND status = $4",
		courierID, models.OrderStatusAssignedCourier, orderID, models.OrderStatusAssignedPicker)
	if err != nil {
		return false, fmt.Errorf("failed to advance order %d: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// UnbindPicker clears a picker's current order once their part is done
func (s *Store) UnbindPicker(ctx context.Context, pickerID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE pickers SET current_order_id = NULL WHERE id = $1", pickerID)
	return err
}

// UnbindCourier clears a courier's current order once their part is done
func (s *Store) UnbindCourier(ctx context.Context, courierID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE couriers SET current_order_id = NULL WHERE id = $1", courierID)
	return err
}

// GetWarehouseByID retrieves a warehouse by ID
func (s *Store) GetWarehouseByID(ctx context.Context, id int64) (*models.Warehouse, error) {
	var warehouse models.Warehouse
	err := s.db.GetContext(ctx, &warehouse, "SELECT * FROM warehouses WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("warehouse not found: %d", id)
	}
	return &warehouse, nil
}
