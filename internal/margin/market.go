package margin

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/midaseth/dolomite-margin-modules/internal/token"
	"github.com/midaseth/dolomite-margin-modules/internal/types"
)

// PriceOracle prices one canonical unit of a market's token in ledger terms
// (36 - tokenDecimals precision, see types.MonetaryPrice).
type PriceOracle interface {
	GetPrice(tokenAddr common.Address) (types.MonetaryPrice, error)
}

// InterestSetter supplies the per-second borrow rate for a market. The
// interest engine itself lives outside this layer; the registration surface
// exists so markets carry a complete configuration.
type InterestSetter interface {
	GetInterestRate(tokenAddr common.Address, borrowWei, supplyWei *big.Int) *big.Int
}

// AlwaysZeroInterestSetter pins a market's rate to zero. Conversion markets
// register this so settlement math stays exact.
type AlwaysZeroInterestSetter struct{}

func (AlwaysZeroInterestSetter) GetInterestRate(common.Address, *big.Int, *big.Int) *big.Int {
	return new(big.Int)
}

// Market is one registered asset on the ledger.
type Market struct {
	ID             types.MarketID
	Token          token.Token
	PriceOracle    PriceOracle
	InterestSetter InterestSetter
	IsClosing      bool
}

// ExchangeWrapper is the trader surface the ledger invokes mid-batch. The
// caller argument carries the invoking address; implementations must reject
// any caller other than the registered ledger.
type ExchangeWrapper interface {
	Exchange(
		caller common.Address,
		tradeOriginator common.Address,
		receiver common.Address,
		makerToken common.Address,
		takerToken common.Address,
		requestedFillAmount *big.Int,
		orderData []byte,
	) (*big.Int, error)

	GetExchangeCost(
		makerToken common.Address,
		takerToken common.Address,
		desiredMakerAmount *big.Int,
		orderData []byte,
	) (*big.Int, error)
}

// Callee receives Call actions during batch settlement.
type Callee interface {
	CallFunction(caller common.Address, account types.AccountInfo, data []byte) error
}

// Reversible is state that participates in batch rollback. The ledger
// snapshots every registered Reversible before running a batch and restores
// all of them if any action fails, which is what makes a batch all-or-nothing
// even when traders move real token balances mid-flight.
type Reversible interface {
	Snapshot() any
	Restore(snapshot any)
}
