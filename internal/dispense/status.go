// Package dispense implements the pharmacy side of the visit: the multi-stage
// dispense pipeline (status flag, compensating inventory document, durable
// dispense record) and the checkout pipeline. The pipeline deliberately has
// no rollback: once the operator confirms, dispensing stands even when the
// inventory posting fails, and the failure travels with the result as a
// warning instead of undoing the dispense.
package dispense

// Status is the dispense state of one registration, stored in the ledger
// under DISPENSE_STATUS_{registration id}. A missing row is PENDING.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusDispensing Status = "DISPENSING"
	StatusDispensed  Status = "DISPENSED"
)

// ParseStatus maps a ledger value to a Status; anything unrecognized,
// including the empty string of a missing row, is PENDING.
func ParseStatus(v string) Status {
	switch Status(v) {
	case StatusDispensing, StatusDispensed:
		return Status(v)
	default:
		return StatusPending
	}
}

// CheckoutStatus is the payment state of one registration, stored under
// CHECKOUT_STATUS_{registration id}. A missing row is PENDING.
type CheckoutStatus string

const (
	CheckoutPending CheckoutStatus = "PENDING"
	CheckoutPaid    CheckoutStatus = "PAID"
)

// ParseCheckoutStatus maps a ledger value to a CheckoutStatus.
func ParseCheckoutStatus(v string) CheckoutStatus {
	if CheckoutStatus(v) == CheckoutPaid {
		return CheckoutPaid
	}
	return CheckoutPending
}
