package trader

import "errors"

var (
	// ErrInvalidInputToken is returned when an exchange is invoked with a
	// taker token the trader does not convert from.
	ErrInvalidInputToken = errors.New("invalid input token for trader")

	// ErrInvalidOutputToken is returned when an exchange is invoked with a
	// maker token the trader does not convert to.
	ErrInvalidOutputToken = errors.New("invalid output token for trader")

	// ErrInvalidInputAmount rejects zero or missing fill amounts.
	ErrInvalidInputAmount = errors.New("input amount must be positive")

	// ErrInvalidOrderData is returned for malformed order data.
	ErrInvalidOrderData = errors.New("malformed order data")
)
