package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Type discriminator for event payloads.
type Type string

const (
	TypeVaultCreated                    Type = "vault_created"
	TypeTraderPairInitialized           Type = "trader_pair_initialized"
	TypeAllowableDebtMarketIdsSet       Type = "allowable_debt_market_ids_set"
	TypeAllowableCollateralMarketIdsSet Type = "allowable_collateral_market_ids_set"
	TypeVaultDeposit                    Type = "vault_deposit"
	TypeVaultWithdrawal                 Type = "vault_withdrawal"
	TypeRewardsHandled                  Type = "rewards_handled"
	TypeExchangeSettled                 Type = "exchange_settled"
	TypeOperationSettled                Type = "operation_settled"
)

// Event is the interface all payloads implement.
type Event interface {
	EventType() Type
}

// VaultCreated is emitted once per owner when the factory deploys a vault.
type VaultCreated struct {
	Owner common.Address `json:"owner"`
	Vault common.Address `json:"vault"`
}

func (*VaultCreated) EventType() Type { return TypeVaultCreated }

// TraderPairInitialized is emitted by the factory's one-time initialization.
type TraderPairInitialized struct {
	Unwrapper common.Address `json:"unwrapper"`
	Wrapper   common.Address `json:"wrapper"`
}

func (*TraderPairInitialized) EventType() Type { return TypeTraderPairInitialized }

// AllowableDebtMarketIdsSet carries the full replacement list.
type AllowableDebtMarketIdsSet struct {
	MarketIDs []uint64 `json:"market_ids"`
}

func (*AllowableDebtMarketIdsSet) EventType() Type { return TypeAllowableDebtMarketIdsSet }

// AllowableCollateralMarketIdsSet carries the full replacement list.
type AllowableCollateralMarketIdsSet struct {
	MarketIDs []uint64 `json:"market_ids"`
}

func (*AllowableCollateralMarketIdsSet) EventType() Type {
	return TypeAllowableCollateralMarketIdsSet
}

// VaultDeposit records wrapped collateral entering the ledger through a vault.
type VaultDeposit struct {
	Vault         common.Address `json:"vault"`
	Owner         common.Address `json:"owner"`
	AccountNumber uint64         `json:"account_number"`
	Amount        *big.Int       `json:"amount"`
}

func (*VaultDeposit) EventType() Type { return TypeVaultDeposit }

// VaultWithdrawal records wrapped collateral leaving the ledger through a vault.
type VaultWithdrawal struct {
	Vault         common.Address `json:"vault"`
	Owner         common.Address `json:"owner"`
	AccountNumber uint64         `json:"account_number"`
	Amount        *big.Int       `json:"amount"`
}

func (*VaultWithdrawal) EventType() Type { return TypeVaultWithdrawal }

// RewardsHandled records a reward harvest triggered by a vault owner.
type RewardsHandled struct {
	Vault common.Address `json:"vault"`
	Owner common.Address `json:"owner"`
}

func (*RewardsHandled) EventType() Type { return TypeRewardsHandled }

// ExchangeSettled records one trader conversion settled inside a batch.
// OperationID ties it to the OperationSettled event of the same batch.
type ExchangeSettled struct {
	OperationID  uuid.UUID      `json:"operation_id"`
	Trader       common.Address `json:"trader"`
	TakerMarket  uint64         `json:"taker_market"`
	MakerMarket  uint64         `json:"maker_market"`
	InputAmount  *big.Int       `json:"input_amount"`
	OutputAmount *big.Int       `json:"output_amount"`
}

func (*ExchangeSettled) EventType() Type { return TypeExchangeSettled }

// OperationSettled records a whole batch committing.
type OperationSettled struct {
	OperationID uuid.UUID      `json:"operation_id"`
	Submitter   common.Address `json:"submitter"`
	NumAccounts int            `json:"num_accounts"`
	NumActions  int            `json:"num_actions"`
}

func (*OperationSettled) EventType() Type { return TypeOperationSettled }
