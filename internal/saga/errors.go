package saga

import "fmt"

// PricingError means a reserved product could not be priced authoritatively:
// it vanished or went inactive between reservation and pricing. Distinct from
// the stock shortfall in the reserve step, since prices may be read from a
// cache that lags the reservation's source of truth.
type PricingError struct {
	ProductID int64
	Reason    string
}

func (e *PricingError) Error() string {
	return fmt.Sprintf("cannot price product %d: %s", e.ProductID, e.Reason)
}

// ReconciliationRequiredError is the one unrecoverable condition in the core:
// a checkout step failed and the compensating release failed too, leaving
// holds that a human operator must reconcile. It carries the ids involved.
type ReconciliationRequiredError struct {
	ReservationIDs []int64
	OrderID        int64
	Cause          error
	ReleaseErr     error
}

func (e *ReconciliationRequiredError) Error() string {
	return fmt.Sprintf("reconciliation required: failed to release reservations %v after checkout failure: %v (original failure: %v)",
		e.ReservationIDs, e.ReleaseErr, e.Cause)
}

func (e *ReconciliationRequiredError) Unwrap() error {
	return e.Cause
}
