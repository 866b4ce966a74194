package trader

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/midaseth/dolomite-margin-modules/internal/gmx"
	"github.com/midaseth/dolomite-margin-modules/internal/margin"
	"github.com/midaseth/dolomite-margin-modules/internal/vaults"
)

// WrapperActionsLength is the number of actions a wrap occupies in a batch.
const WrapperActionsLength = 1

// Wrapper converts the pool's liquid asset into the wrapped receipt token
// mid-batch. The receipt is minted straight into the originating vault's
// custody and the wrapped balance credited to the ledger through the factory.
type Wrapper struct {
	addr    common.Address
	ledger  *margin.Ledger
	factory *vaults.Factory
	reg     *gmx.Registry
}

func NewWrapper(addr common.Address, ledger *margin.Ledger, factory *vaults.Factory, reg *gmx.Registry) *Wrapper {
	return &Wrapper{addr: addr, ledger: ledger, factory: factory, reg: reg}
}

func (w *Wrapper) Address() common.Address { return w.addr }

// ActionsLength reports how many batch actions CreateActionsForWrapping emits.
func (w *Wrapper) ActionsLength() int { return WrapperActionsLength }

// Exchange mints staked receipts from requestedFillAmount of the liquid token.
// The trade originator must be a deployed vault: the minted receipts land in
// its custody. Ledger only.
func (w *Wrapper) Exchange(
	caller common.Address,
	tradeOriginator common.Address,
	receiver common.Address,
	makerToken common.Address,
	takerToken common.Address,
	requestedFillAmount *big.Int,
	orderData []byte,
) (*big.Int, error) {
	if caller != w.ledger.Address() {
		return nil, fmt.Errorf("exchange from %s: %w", caller.Hex(), margin.ErrOnlyDolomiteMargin)
	}
	if takerToken != w.reg.Usdc.Address() {
		return nil, fmt.Errorf("taker %s: %w", takerToken.Hex(), ErrInvalidInputToken)
	}
	if makerToken != w.factory.Address() {
		return nil, fmt.Errorf("maker %s: %w", makerToken.Hex(), ErrInvalidOutputToken)
	}
	if requestedFillAmount == nil || requestedFillAmount.Sign() <= 0 {
		return nil, ErrInvalidInputAmount
	}
	if !w.factory.IsVault(tradeOriginator) {
		return nil, fmt.Errorf("originator %s: %w", tradeOriginator.Hex(), vaults.ErrVaultRequired)
	}
	minOut, err := decodeOrderData(orderData)
	if err != nil {
		return nil, err
	}

	out, err := w.reg.Pool.MintAndStakeGlp(w.addr, takerToken, requestedFillAmount, minOut, tradeOriginator)
	if err != nil {
		return nil, fmt.Errorf("mint: %w", err)
	}
	if err := w.factory.AcceptWrap(w.addr, tradeOriginator, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetExchangeCost quotes the wrapped amount produced by spending a given
// liquid amount. As with the unwrapper, the quote runs forward because the
// mint fee depends on trade size.
func (w *Wrapper) GetExchangeCost(
	makerToken common.Address,
	takerToken common.Address,
	desiredMakerAmount *big.Int,
	orderData []byte,
) (*big.Int, error) {
	if takerToken != w.reg.Usdc.Address() {
		return nil, fmt.Errorf("taker %s: %w", takerToken.Hex(), ErrInvalidInputToken)
	}
	if makerToken != w.factory.Address() {
		return nil, fmt.Errorf("maker %s: %w", makerToken.Hex(), ErrInvalidOutputToken)
	}
	if desiredMakerAmount == nil || desiredMakerAmount.Sign() <= 0 {
		return nil, ErrInvalidInputAmount
	}
	return w.reg.Pool.GetMintAmount(takerToken, desiredMakerAmount)
}

// CreateActionsForWrapping builds the single sale action converting
// amountWei of the liquid token into at least minOutputAmount wrapped, for
// the vault account at accountID.
func (w *Wrapper) CreateActionsForWrapping(
	accountID int,
	amountWei *big.Int,
	minOutputAmount *big.Int,
) ([]margin.Action, error) {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return nil, ErrInvalidInputAmount
	}
	wrappedMarket, err := w.ledger.GetMarketIdByTokenAddress(w.factory.Address())
	if err != nil {
		return nil, err
	}
	inputMarket, err := w.ledger.GetMarketIdByTokenAddress(w.reg.Usdc.Address())
	if err != nil {
		return nil, err
	}
	return []margin.Action{{
		Type:              margin.ActionTypeSell,
		AccountID:         accountID,
		PrimaryMarketID:   inputMarket,
		SecondaryMarketID: wrappedMarket,
		OtherAddress:      w.addr,
		Amount:            new(big.Int).Set(amountWei),
		Data:              EncodeOrderData(minOutputAmount),
	}}, nil
}
