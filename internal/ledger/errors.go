package ledger

import "errors"

// Operation failures the ledger can report. The session handler matches
// on these with errors.Is to pick the response text; anything else is
// treated as a storage failure and the operation is rolled back.
var (
	ErrInvalidUsername      = errors.New("username must not be empty")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrAuthFailed           = errors.New("authentication failed")
	ErrUnknownAccount       = errors.New("unknown account")
	ErrDuplicateUsername    = errors.New("username already exists")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("not enough holdings to sell")
	ErrUnknownSymbol        = errors.New("no quote for symbol")
)
