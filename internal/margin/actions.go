package margin

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/midaseth/dolomite-margin-modules/internal/types"
)

// ActionType discriminates the typed steps of a settlement batch.
type ActionType int32

const (
	ActionTypeDeposit ActionType = iota
	ActionTypeWithdraw
	ActionTypeTransfer
	ActionTypeSell
	ActionTypeLiquidate
	ActionTypeCall
)

func (t ActionType) String() string {
	switch t {
	case ActionTypeDeposit:
		return "deposit"
	case ActionTypeWithdraw:
		return "withdraw"
	case ActionTypeTransfer:
		return "transfer"
	case ActionTypeSell:
		return "sell"
	case ActionTypeLiquidate:
		return "liquidate"
	case ActionTypeCall:
		return "call"
	default:
		return "unknown"
	}
}

// Action is one typed step in a batch submitted to Operate. Field usage by
// type:
//
//	Deposit:   AccountID, PrimaryMarketID, OtherAddress (funds source), Amount
//	Withdraw:  AccountID, PrimaryMarketID, OtherAddress (funds sink), Amount
//	Transfer:  AccountID, OtherAccountID, PrimaryMarketID, Amount
//	Sell:      AccountID, PrimaryMarketID (taker/input), SecondaryMarketID
//	           (maker/output), OtherAddress (exchange wrapper), Amount
//	           (input wei), Data (trader order data)
//	Liquidate: AccountID (solid), OtherAccountID (liquid),
//	           PrimaryMarketID (held market), Amount (held wei seized)
//	Call:      AccountID, OtherAddress (callee), Data
type Action struct {
	Type              ActionType
	AccountID         int
	OtherAccountID    int
	PrimaryMarketID   types.MarketID
	SecondaryMarketID types.MarketID
	OtherAddress      common.Address
	Amount            *big.Int
	Data              []byte
}

func (a Action) validate(accountCount int) error {
	if a.AccountID < 0 || a.AccountID >= accountCount {
		return ErrInvalidAction
	}
	switch a.Type {
	case ActionTypeTransfer, ActionTypeLiquidate:
		if a.OtherAccountID < 0 || a.OtherAccountID >= accountCount {
			return ErrInvalidAction
		}
	}
	switch a.Type {
	case ActionTypeDeposit, ActionTypeWithdraw, ActionTypeTransfer,
		ActionTypeSell, ActionTypeLiquidate:
		if a.Amount == nil || a.Amount.Sign() < 0 {
			return ErrInvalidAction
		}
	}
	return nil
}
