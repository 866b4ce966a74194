package gmx

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/midaseth/dolomite-margin-modules/internal/token"
)

// RateSource is the deterministic conversion-rate surface the oracle and the
// trader pair consume. Both directions are amount-dependent: large sizes pay
// a higher dynamic fee, so rates are not linear in the amount.
type RateSource interface {
	GetMintAmount(inputToken common.Address, inputAmount *big.Int) (*big.Int, error)
	GetRedemptionAmount(outputToken common.Address, glpAmount *big.Int) (*big.Int, error)
}

// Registry bundles the external reward-protocol surface the integration
// layer depends on: the GLP pool, the reward router, the vester, and the
// ecosystem token handles.
type Registry struct {
	Pool         *Pool
	RewardRouter *RewardRouter
	Vester       *Vester

	SGlp  *token.TestToken
	Usdc  *token.TestToken
	Gmx   *token.TestToken
	EsGmx *token.TestToken
	Weth  *token.TestToken
}

// RateSource returns the pool's deterministic quote surface.
func (r *Registry) RateSource() RateSource { return r.Pool }
