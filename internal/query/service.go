package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/midaseth/dolomite-margin-modules/internal/gmx"
	"github.com/midaseth/dolomite-margin-modules/internal/margin"
	"github.com/midaseth/dolomite-margin-modules/internal/trader"
	"github.com/midaseth/dolomite-margin-modules/internal/types"
	"github.com/midaseth/dolomite-margin-modules/internal/vaults"
)

// ErrVaultNotFound is returned for owners without a deployed vault.
var ErrVaultNotFound = errors.New("vault not found")

// Service serves read-only views. Balances, prices, and quotes read the live
// in-memory state (the ledger is authoritative); event history reads the
// Postgres journal. db may be nil, in which case history queries fail.
type Service struct {
	ledger    *margin.Ledger
	factory   *vaults.Factory
	registry  *gmx.Registry
	unwrapper *trader.Unwrapper
	wrapper   *trader.Wrapper
	db        *sql.DB
}

func NewService(
	ledger *margin.Ledger,
	factory *vaults.Factory,
	registry *gmx.Registry,
	unwrapper *trader.Unwrapper,
	wrapper *trader.Wrapper,
	db *sql.DB,
) *Service {
	return &Service{
		ledger:    ledger,
		factory:   factory,
		registry:  registry,
		unwrapper: unwrapper,
		wrapper:   wrapper,
		db:        db,
	}
}

// GetVault returns the vault and live position balances for an owner.
func (s *Service) GetVault(owner common.Address) (*VaultResponse, error) {
	vault := s.factory.GetVault(owner)
	if vault == nil {
		return nil, fmt.Errorf("owner %s: %w", owner.Hex(), ErrVaultNotFound)
	}
	return &VaultResponse{
		Owner:             owner.Hex(),
		Vault:             vault.Address().Hex(),
		UnderlyingBalance: vault.UnderlyingBalanceOf().String(),
		GmxBalance:        vault.GmxBalanceOf().String(),
		EsGmxBalance:      vault.EsGmxBalanceOf().String(),
	}, nil
}

// GetAccountBalance returns one signed ledger balance.
func (s *Service) GetAccountBalance(owner common.Address, accountNumber uint64, marketID types.MarketID) (*AccountBalanceResponse, error) {
	if _, err := s.ledger.GetMarketTokenAddress(marketID); err != nil {
		return nil, err
	}
	wei := s.ledger.GetAccountWei(types.AccountInfo{Owner: owner, Number: accountNumber}, marketID)
	return &AccountBalanceResponse{
		Owner:         owner.Hex(),
		AccountNumber: accountNumber,
		MarketID:      uint64(marketID),
		Sign:          wei.Sign,
		Value:         wei.Value.String(),
	}, nil
}

// GetPrice returns the current oracle price for a market.
func (s *Service) GetPrice(marketID types.MarketID) (*PriceResponse, error) {
	tokenAddr, err := s.ledger.GetMarketTokenAddress(marketID)
	if err != nil {
		return nil, err
	}
	price, err := s.ledger.GetMarketPrice(marketID)
	if err != nil {
		return nil, err
	}
	return &PriceResponse{
		MarketID: uint64(marketID),
		Token:    tokenAddr.Hex(),
		Price:    price.Value.String(),
	}, nil
}

// GetUnwrapQuote quotes redeeming wrapped collateral into the liquid token at
// current pool state.
func (s *Service) GetUnwrapQuote(amountWei *big.Int) (*QuoteResponse, error) {
	out, err := s.unwrapper.GetExchangeCost(
		s.registry.Usdc.Address(), s.factory.Address(), amountWei, nil)
	if err != nil {
		return nil, err
	}
	return &QuoteResponse{
		Direction:    "unwrap",
		InputAmount:  amountWei.String(),
		OutputAmount: out.String(),
	}, nil
}

// GetWrapQuote quotes minting wrapped collateral from the liquid token at
// current pool state.
func (s *Service) GetWrapQuote(amountWei *big.Int) (*QuoteResponse, error) {
	out, err := s.wrapper.GetExchangeCost(
		s.factory.Address(), s.registry.Usdc.Address(), amountWei, nil)
	if err != nil {
		return nil, err
	}
	return &QuoteResponse{
		Direction:    "wrap",
		InputAmount:  amountWei.String(),
		OutputAmount: out.String(),
	}, nil
}

// GetAllowLists returns the factory's market restrictions.
func (s *Service) GetAllowLists() *AllowListsResponse {
	return &AllowListsResponse{
		DebtMarketIDs:       marketIDs(s.factory.AllowableDebtMarketIds()),
		CollateralMarketIDs: marketIDs(s.factory.AllowableCollateralMarketIds()),
	}
}

// GetEvents pages through the persisted event journal, newest first.
func (s *Service) GetEvents(ctx context.Context, limit int, beforeSequence *int64) ([]EventResponse, error) {
	if s.db == nil {
		return nil, errors.New("event history requires a database")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT sequence, event_type, occurred_at, payload FROM module_log.events`
	args := []interface{}{}
	if beforeSequence != nil {
		query += ` WHERE sequence < $1`
		args = append(args, *beforeSequence)
	}
	query += fmt.Sprintf(` ORDER BY sequence DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventResponse
	for rows.Next() {
		var e EventResponse
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.OccurredAt, &e.Payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func marketIDs(ids []types.MarketID) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}
