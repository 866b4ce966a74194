package trader

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/midaseth/dolomite-margin-modules/internal/gmx"
	"github.com/midaseth/dolomite-margin-modules/internal/margin"
	"github.com/midaseth/dolomite-margin-modules/internal/vaults"
)

// UnwrapperActionsLength is the number of actions an unwrap occupies in a
// batch: the vault custody hook followed by the sale itself.
const UnwrapperActionsLength = 2

// Unwrapper converts the wrapped receipt token into the pool's liquid asset
// mid-batch. It only ever runs against underlying custody a vault released to
// it in the same batch, so a failed redemption rolls the whole batch back.
type Unwrapper struct {
	addr    common.Address
	ledger  *margin.Ledger
	factory *vaults.Factory
	reg     *gmx.Registry
}

func NewUnwrapper(addr common.Address, ledger *margin.Ledger, factory *vaults.Factory, reg *gmx.Registry) *Unwrapper {
	return &Unwrapper{addr: addr, ledger: ledger, factory: factory, reg: reg}
}

func (u *Unwrapper) Address() common.Address { return u.addr }

// ActionsLength reports how many batch actions CreateActionsForUnwrapping
// emits, excluding any liquidation prefix.
func (u *Unwrapper) ActionsLength() int { return UnwrapperActionsLength }

// Exchange redeems requestedFillAmount of the wrapped token into the liquid
// token and pays the proceeds to receiver. Ledger only.
func (u *Unwrapper) Exchange(
	caller common.Address,
	tradeOriginator common.Address,
	receiver common.Address,
	makerToken common.Address,
	takerToken common.Address,
	requestedFillAmount *big.Int,
	orderData []byte,
) (*big.Int, error) {
	if caller != u.ledger.Address() {
		return nil, fmt.Errorf("exchange from %s: %w", caller.Hex(), margin.ErrOnlyDolomiteMargin)
	}
	if takerToken != u.factory.Address() {
		return nil, fmt.Errorf("taker %s: %w", takerToken.Hex(), ErrInvalidInputToken)
	}
	if makerToken != u.reg.Usdc.Address() {
		return nil, fmt.Errorf("maker %s: %w", makerToken.Hex(), ErrInvalidOutputToken)
	}
	if requestedFillAmount == nil || requestedFillAmount.Sign() <= 0 {
		return nil, ErrInvalidInputAmount
	}
	minOut, err := decodeOrderData(orderData)
	if err != nil {
		return nil, err
	}
	out, err := u.reg.Pool.UnstakeAndRedeemGlp(u.addr, makerToken, requestedFillAmount, minOut, receiver)
	if err != nil {
		return nil, fmt.Errorf("redeem: %w", err)
	}
	return out, nil
}

// GetExchangeCost quotes the liquid amount produced by selling a given
// wrapped amount. The realized burn fee depends on trade size, so the quote
// runs in the forward direction and the third argument is the wrapped input.
func (u *Unwrapper) GetExchangeCost(
	makerToken common.Address,
	takerToken common.Address,
	desiredMakerAmount *big.Int,
	orderData []byte,
) (*big.Int, error) {
	if takerToken != u.factory.Address() {
		return nil, fmt.Errorf("taker %s: %w", takerToken.Hex(), ErrInvalidInputToken)
	}
	if makerToken != u.reg.Usdc.Address() {
		return nil, fmt.Errorf("maker %s: %w", makerToken.Hex(), ErrInvalidOutputToken)
	}
	if desiredMakerAmount == nil || desiredMakerAmount.Sign() <= 0 {
		return nil, ErrInvalidInputAmount
	}
	return u.reg.Pool.GetRedemptionAmount(makerToken, desiredMakerAmount)
}

// CreateActionsForUnwrapping builds the unwrap legs for the vault account at
// accountID: the custody hook releasing underlying to the unwrapper, then the
// sale of amountWei wrapped for at least minOutputAmount of the liquid token.
func (u *Unwrapper) CreateActionsForUnwrapping(
	accountID int,
	vault common.Address,
	amountWei *big.Int,
	minOutputAmount *big.Int,
) ([]margin.Action, error) {
	return u.createActions(accountID, accountID, vault, amountWei, minOutputAmount, false)
}

// CreateActionsForUnwrappingForLiquidation builds the unwrap legs used when a
// liquidator seizes wrapped collateral: a seizure from the liquid account to
// the solid account when they differ, then the custody hook against the liquid
// vault and the sale from the solid account.
func (u *Unwrapper) CreateActionsForUnwrappingForLiquidation(
	solidAccountID int,
	liquidAccountID int,
	vault common.Address,
	amountWei *big.Int,
	minOutputAmount *big.Int,
) ([]margin.Action, error) {
	return u.createActions(solidAccountID, liquidAccountID, vault, amountWei, minOutputAmount, true)
}

func (u *Unwrapper) createActions(
	solidAccountID int,
	liquidAccountID int,
	vault common.Address,
	amountWei *big.Int,
	minOutputAmount *big.Int,
	forLiquidation bool,
) ([]margin.Action, error) {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return nil, ErrInvalidInputAmount
	}
	wrappedMarket, err := u.ledger.GetMarketIdByTokenAddress(u.factory.Address())
	if err != nil {
		return nil, err
	}
	outputMarket, err := u.ledger.GetMarketIdByTokenAddress(u.reg.Usdc.Address())
	if err != nil {
		return nil, err
	}

	actions := make([]margin.Action, 0, UnwrapperActionsLength+1)
	if forLiquidation && solidAccountID != liquidAccountID {
		actions = append(actions, margin.Action{
			Type:            margin.ActionTypeLiquidate,
			AccountID:       solidAccountID,
			OtherAccountID:  liquidAccountID,
			PrimaryMarketID: wrappedMarket,
			Amount:          new(big.Int).Set(amountWei),
		})
	}
	actions = append(actions,
		margin.Action{
			Type:         margin.ActionTypeCall,
			AccountID:    liquidAccountID,
			OtherAddress: vault,
			Data:         vaults.EncodeCallData(u.addr, amountWei),
		},
		margin.Action{
			Type:              margin.ActionTypeSell,
			AccountID:         solidAccountID,
			PrimaryMarketID:   wrappedMarket,
			SecondaryMarketID: outputMarket,
			OtherAddress:      u.addr,
			Amount:            new(big.Int).Set(amountWei),
			Data:              EncodeOrderData(minOutputAmount),
		},
	)
	return actions, nil
}
