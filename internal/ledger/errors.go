package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientLots matches any *InsufficientLotError.
	ErrInsufficientLots  = errors.New("insufficient lots")
	ErrOutOfOrder        = errors.New("movement out of order")
	ErrDuplicateMovement = errors.New("movement already applied")
	ErrMethodMismatch    = errors.New("accounting method mismatch")
	ErrWrongToken        = errors.New("movement token does not match ledger")
)

// InsufficientLotError reports a disposal larger than the lots available to it.
type InsufficientLotError struct {
	Wallet    string
	Token     string
	TxHash    string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientLotError) Error() string {
	return fmt.Sprintf("insufficient lots for %s in wallet %s at tx %s: requested %s, available %s",
		e.Token, e.Wallet, e.TxHash, e.Requested.String(), e.Available.String())
}

func (e *InsufficientLotError) Is(target error) bool {
	return target == ErrInsufficientLots
}

// MovementError ties a ledger failure to the movement that caused it.
type MovementError struct {
	Token  string
	TxHash string
	Err    error
}

func (e *MovementError) Error() string {
	return fmt.Sprintf("ledger %s tx %s: %v", e.Token, e.TxHash, e.Err)
}

func (e *MovementError) Unwrap() error { return e.Err }
