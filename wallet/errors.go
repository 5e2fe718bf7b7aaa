package wallet

import (
	"errors"
	"fmt"
)

var (
	// ErrWalletNotFound signals no profile row exists for the wallet owner.
	ErrWalletNotFound = errors.New("wallet: not found")
	// ErrAlreadyReleased signals the deal's escrow was already paid out or refunded.
	ErrAlreadyReleased = errors.New("wallet: escrow already released")
	// ErrNoLock signals no lock entry exists for the deal.
	ErrNoLock = errors.New("wallet: no escrow lock for deal")
	// ErrCurrencyMismatch signals the wallet and the requested movement disagree on currency.
	ErrCurrencyMismatch = errors.New("wallet: currency mismatch")
)

// InsufficientFundsError carries the shortfall so callers can prompt a top-up.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("wallet: insufficient funds: required %d, available %d", e.Required, e.Available)
}
