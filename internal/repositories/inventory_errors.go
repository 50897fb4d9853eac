package repositories

import "fmt"

// InventoryErrorCode enumerates repository error causes for stock mutations.
type InventoryErrorCode string

const (
	// InventoryErrorInsufficientStock indicates the conditional decrement failed.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorStockNotFound indicates the product or variant has no stock record.
	InventoryErrorStockNotFound InventoryErrorCode = "inventory_stock_not_found"
	// InventoryErrorInvalidMutation indicates a malformed mutation.
	InventoryErrorInvalidMutation InventoryErrorCode = "inventory_invalid_mutation"
)

// InventoryError wraps inventory-specific failures with machine readable codes.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	Message   string
	Available int64
	Err       error
}

func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{Code: code, Message: message, Err: err}
}

// ValidateMutation rejects mutations no store should accept.
func ValidateMutation(m StockMutation) error {
	switch {
	case m.Key.ProductID == "":
		return NewInventoryError(InventoryErrorInvalidMutation, "product id is required", nil)
	case m.Delta == 0:
		return NewInventoryError(InventoryErrorInvalidMutation, "delta must not be zero", nil)
	case !m.Reason.Valid():
		return NewInventoryError(InventoryErrorInvalidMutation, fmt.Sprintf("unknown adjustment reason %q", m.Reason), nil)
	case m.AdjustmentID == "":
		return NewInventoryError(InventoryErrorInvalidMutation, "adjustment id is required", nil)
	}
	return nil
}
