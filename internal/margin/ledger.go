package margin

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/midaseth/dolomite-margin-modules/internal/event"
	"github.com/midaseth/dolomite-margin-modules/internal/observability"
	"github.com/midaseth/dolomite-margin-modules/internal/token"
	"github.com/midaseth/dolomite-margin-modules/internal/types"
)

// Ledger is the margin-accounting settlement engine: signed per-account,
// per-market balances mutated only through atomic batches of typed actions.
// A single mutex serializes all batches; that serialization is the only
// concurrency control the wrapped-collateral layer relies on.
type Ledger struct {
	mu sync.Mutex

	addr       common.Address
	governance common.Address

	markets       []*Market
	marketByToken map[common.Address]types.MarketID

	// Signed wei balances keyed by account, then market.
	balances map[types.AccountInfo]map[types.MarketID]*big.Int

	globalOperators map[common.Address]bool
	wrappers        map[common.Address]ExchangeWrapper
	callees         map[common.Address]Callee
	reversibles     []Reversible
	validators      []AccountValidator

	// Identifier of the batch currently executing. Valid only while a
	// batch holds the mutex.
	currentOpID uuid.UUID

	recorder event.Recorder
	log      zerolog.Logger
	metrics  *observability.Metrics
}

// NewLedger creates a ledger bound to a governance identity. The recorder and
// metrics may be nil.
func NewLedger(addr, governance common.Address, recorder event.Recorder, metrics *observability.Metrics) *Ledger {
	return &Ledger{
		addr:            addr,
		governance:      governance,
		marketByToken:   make(map[common.Address]types.MarketID),
		balances:        make(map[types.AccountInfo]map[types.MarketID]*big.Int),
		globalOperators: make(map[common.Address]bool),
		wrappers:        make(map[common.Address]ExchangeWrapper),
		callees:         make(map[common.Address]Callee),
		recorder:        recorder,
		log:             observability.NewLogger("margin"),
		metrics:         metrics,
	}
}

func (l *Ledger) Address() common.Address    { return l.addr }
func (l *Ledger) Governance() common.Address { return l.governance }

// OwnerAddMarket registers a new market for a token. Governance only. The
// oracle must be able to price the token at registration time.
func (l *Ledger) OwnerAddMarket(
	caller common.Address,
	tok token.Token,
	oracle PriceOracle,
	setter InterestSetter,
	isClosing bool,
) (types.MarketID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.governance {
		return 0, fmt.Errorf("add market: caller %s: %w", caller.Hex(), ErrNotGovernance)
	}
	if _, exists := l.marketByToken[tok.Address()]; exists {
		return 0, fmt.Errorf("add market: token %s already registered: %w", tok.Address().Hex(), ErrInvalidAction)
	}
	if oracle == nil || setter == nil {
		return 0, fmt.Errorf("add market: missing oracle or interest setter: %w", ErrInvalidAction)
	}
	if _, err := oracle.GetPrice(tok.Address()); err != nil {
		return 0, fmt.Errorf("add market: oracle rejects token %s: %w", tok.Address().Hex(), err)
	}

	id := types.MarketID(len(l.markets))
	l.markets = append(l.markets, &Market{
		ID:             id,
		Token:          tok,
		PriceOracle:    oracle,
		InterestSetter: setter,
		IsClosing:      isClosing,
	})
	l.marketByToken[tok.Address()] = id

	l.log.Info().
		Uint64("market_id", uint64(id)).
		Str("token", tok.Address().Hex()).
		Bool("is_closing", isClosing).
		Msg("market registered")
	return id, nil
}

// OwnerSetGlobalOperator grants or revokes the right to operate on any
// account. Governance only.
func (l *Ledger) OwnerSetGlobalOperator(caller, operator common.Address, approved bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.governance {
		return fmt.Errorf("set global operator: caller %s: %w", caller.Hex(), ErrNotGovernance)
	}
	l.globalOperators[operator] = approved
	l.log.Info().
		Str("operator", operator.Hex()).
		Bool("approved", approved).
		Msg("global operator set")
	return nil
}

// OwnerSetPriceOracle replaces a market's price oracle. Governance only.
func (l *Ledger) OwnerSetPriceOracle(caller common.Address, marketID types.MarketID, oracle PriceOracle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.governance {
		return fmt.Errorf("set price oracle: caller %s: %w", caller.Hex(), ErrNotGovernance)
	}
	m, err := l.marketLocked(marketID)
	if err != nil {
		return err
	}
	if _, err := oracle.GetPrice(m.Token.Address()); err != nil {
		return fmt.Errorf("set price oracle: oracle rejects token: %w", err)
	}
	m.PriceOracle = oracle
	return nil
}

// OwnerSetInterestSetter replaces a market's interest setter. Governance only.
func (l *Ledger) OwnerSetInterestSetter(caller common.Address, marketID types.MarketID, setter InterestSetter) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.governance {
		return fmt.Errorf("set interest setter: caller %s: %w", caller.Hex(), ErrNotGovernance)
	}
	m, err := l.marketLocked(marketID)
	if err != nil {
		return err
	}
	m.InterestSetter = setter
	return nil
}

// RegisterExchangeWrapper makes a trader address callable from Sell actions.
func (l *Ledger) RegisterExchangeWrapper(addr common.Address, w ExchangeWrapper) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wrappers[addr] = w
}

// RegisterCallee makes an address callable from Call actions.
func (l *Ledger) RegisterCallee(addr common.Address, c Callee) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callees[addr] = c
}

// RegisterReversible enrolls external state in batch rollback.
func (l *Ledger) RegisterReversible(r Reversible) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reversibles = append(l.reversibles, r)
}

// GetIsGlobalOperator reports whether an address may operate on any account.
func (l *Ledger) GetIsGlobalOperator(operator common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.globalOperators[operator]
}

// NumMarkets returns the number of registered markets.
func (l *Ledger) NumMarkets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.markets)
}

// GetMarketTokenAddress returns the token registered for a market.
func (l *Ledger) GetMarketTokenAddress(marketID types.MarketID) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.marketLocked(marketID)
	if err != nil {
		return common.Address{}, err
	}
	return m.Token.Address(), nil
}

// GetMarketIdByTokenAddress resolves a token address to its market id.
func (l *Ledger) GetMarketIdByTokenAddress(tokenAddr common.Address) (types.MarketID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.marketByToken[tokenAddr]
	if !ok {
		return 0, fmt.Errorf("token %s: %w", tokenAddr.Hex(), ErrMarketNotFound)
	}
	return id, nil
}

// GetMarketIsClosing reports whether a market rejects new borrowing.
func (l *Ledger) GetMarketIsClosing(marketID types.MarketID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.marketLocked(marketID)
	if err != nil {
		return false, err
	}
	return m.IsClosing, nil
}

// GetMarketPrice returns the current oracle price for a market's token.
func (l *Ledger) GetMarketPrice(marketID types.MarketID) (types.MonetaryPrice, error) {
	l.mu.Lock()
	m, err := l.marketLocked(marketID)
	l.mu.Unlock()
	if err != nil {
		return types.MonetaryPrice{}, err
	}
	return m.PriceOracle.GetPrice(m.Token.Address())
}

// GetAccountWei returns the signed balance for (account, market).
func (l *Ledger) GetAccountWei(account types.AccountInfo, marketID types.MarketID) types.Wei {
	l.mu.Lock()
	defer l.mu.Unlock()
	return types.NewWei(l.balanceLocked(account, marketID))
}

func (l *Ledger) marketLocked(marketID types.MarketID) (*Market, error) {
	if int(marketID) >= len(l.markets) {
		return nil, fmt.Errorf("market %d: %w", marketID, ErrMarketNotFound)
	}
	return l.markets[marketID], nil
}

func (l *Ledger) balanceLocked(account types.AccountInfo, marketID types.MarketID) *big.Int {
	if byMarket, ok := l.balances[account]; ok {
		if b, ok := byMarket[marketID]; ok {
			return b
		}
	}
	return new(big.Int)
}

func (l *Ledger) setBalanceLocked(account types.AccountInfo, marketID types.MarketID, value *big.Int) {
	byMarket, ok := l.balances[account]
	if !ok {
		byMarket = make(map[types.MarketID]*big.Int)
		l.balances[account] = byMarket
	}
	byMarket[marketID] = value
}

func (l *Ledger) emit(evt event.Event) {
	if l.recorder != nil {
		l.recorder.Record(evt)
	}
}
