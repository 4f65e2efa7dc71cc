package reservation

import (
	"fmt"

	"fulfillment-service/internal/models"
)

// InsufficientStockError reports every item that could not be held, with
// enough detail for the caller to drop the item or suggest a substitute.
type InsufficientStockError struct {
	Unavailable []models.UnavailableItem
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %d item(s)", len(e.Unavailable))
}
