package resolver

import (
	"errors"
	"fmt"
)

// Capacity conditions. Recoverable: the order keeps its prior status and an
// external scheduler retries the assignment later.
var (
	ErrNoWarehouses       = errors.New("no active warehouses")
	ErrNoPickerAvailable  = errors.New("no picker available")
	ErrNoCourierAvailable = errors.New("no courier available")
)

// ErrAlreadyAssigned means the order already moved past the stage this
// assignment serves. Redelivered dispatch events land here and must not
// bind a second worker.
var ErrAlreadyAssigned = errors.New("order already assigned for this stage")

// OutOfServiceAreaError rejects a client point beyond the global delivery
// limit. Terminal for the request, not a system fault.
type OutOfServiceAreaError struct {
	DistanceKm float64
	LimitKm    float64
}

func (e *OutOfServiceAreaError) Error() string {
	return fmt.Sprintf("address is %.1f km from the nearest warehouse, beyond the %.1f km service limit",
		e.DistanceKm, e.LimitKm)
}
