package margin

import "errors"

// Error taxonomy: authorization errors abort the call without touching state;
// validation errors mean the caller must fix inputs and resubmit; exchange
// shortfalls surface slippage from the trader layer. Every error aborts the
// enclosing batch as a whole.
var (
	// ErrOnlyDolomiteMargin is returned by settlement entry points invoked
	// by anything other than the registered ledger.
	ErrOnlyDolomiteMargin = errors.New("only callable by dolomite margin")

	// ErrNotGovernance is returned by owner-level setters invoked by a
	// non-governance caller.
	ErrNotGovernance = errors.New("caller is not the dolomite margin owner")

	// ErrUnauthorizedOperator is returned when a batch submitter is neither
	// the account owner nor an authorized operator.
	ErrUnauthorizedOperator = errors.New("caller is not an authorized operator")

	// ErrMarketNotFound is returned for an unregistered market id or token.
	ErrMarketNotFound = errors.New("market not found")

	// ErrMarketClosing rejects debits that would leave an account owing a
	// closing market.
	ErrMarketClosing = errors.New("market is closing")

	// ErrInvalidAction is returned for a malformed batch action.
	ErrInvalidAction = errors.New("invalid action")

	// ErrUnknownTrader is returned when a sell action references an address
	// that is not a registered exchange wrapper.
	ErrUnknownTrader = errors.New("unknown exchange wrapper")

	// ErrUnknownCallee is returned when a call action references an address
	// that is not a registered callee.
	ErrUnknownCallee = errors.New("unknown callee")

	// ErrExchangeShortfall is returned when a trader reports more output
	// than the ledger actually received.
	ErrExchangeShortfall = errors.New("exchange output not received")
)
