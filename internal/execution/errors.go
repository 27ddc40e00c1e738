package execution

import (
	"fmt"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/ports"
)

// OrderError is returned for every failed placement. It matches
// ports.ErrOrderPlacementFailed and the underlying cause with errors.Is.
type OrderError struct {
	Symbol        string
	Side          domain.OrderSide
	ClientOrderID string
	Reason        string
	Err           error
}

func (e *OrderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("place %s %s order %s failed: %s", e.Side, e.Symbol, e.ClientOrderID, e.Reason)
	}
	return fmt.Sprintf("place %s %s order %s failed: %s: %v", e.Side, e.Symbol, e.ClientOrderID, e.Reason, e.Err)
}

func (e *OrderError) Unwrap() []error {
	if e.Err == nil {
		return []error{ports.ErrOrderPlacementFailed}
	}
	return []error{ports.ErrOrderPlacementFailed, e.Err}
}
