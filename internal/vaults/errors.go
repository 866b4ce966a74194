package vaults

import "errors"

var (
	// ErrInvalidOwner rejects vault creation for the zero address.
	ErrInvalidOwner = errors.New("invalid vault owner")

	// ErrAlreadyInitialized guards the factory's one-time initialization.
	ErrAlreadyInitialized = errors.New("factory already initialized")

	// ErrNotInitialized is returned when vault traffic starts before the
	// trader pair has been registered.
	ErrNotInitialized = errors.New("factory not initialized")

	// ErrNotVaultOwner gates staking and deposit entry points to the
	// vault's owner.
	ErrNotVaultOwner = errors.New("only the vault owner can call")

	// ErrUnsupportedTransfer rejects any wrapped-token transfer that is
	// not ledger-to-vault or vault-to-ledger. Peer-to-peer movement of the
	// wrapped asset is intentionally impossible.
	ErrUnsupportedTransfer = errors.New("unsupported wrapped token transfer")

	// ErrNotTokenConverter is returned when an address outside the
	// registered trader pair tries to move tokens out of a vault.
	ErrNotTokenConverter = errors.New("caller is not a registered token converter")

	// ErrNoQueuedTransfer is returned when a wrapped-token transfer has no
	// matching queued vault movement. Conversion legs must follow the leg
	// that queues the funds.
	ErrNoQueuedTransfer = errors.New("no queued transfer matches")

	// ErrVaultRequired is returned when a non-vault account ends a batch
	// holding the wrapped asset.
	ErrVaultRequired = errors.New("wrapped collateral may only sit in vault accounts")

	// ErrWrappedDebtNotAllowed is returned when a batch leaves any account
	// owing the wrapped market. Every wrapped unit must be backed by vault
	// custody, so the market can never be a debt market.
	ErrWrappedDebtNotAllowed = errors.New("wrapped market can never be owed")

	// ErrDebtMarketNotAllowed is returned when a batch leaves a vault
	// account owing a market outside the debt allow-list.
	ErrDebtMarketNotAllowed = errors.New("debt market not allowed against wrapped collateral")

	// ErrCollateralMarketNotAllowed is the collateral-side counterpart.
	ErrCollateralMarketNotAllowed = errors.New("collateral market not allowed alongside wrapped collateral")
)
