package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned when a transfer exceeds the
	// sender's balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAllowance is returned when a delegated transfer
	// exceeds the spender's approved allowance.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Token is the minimal fungible-token surface consumed by the margin ledger
// and the wrapped-collateral layer. Transfer authorization follows the usual
// owner/allowance rules; the caller address is passed explicitly since there
// is no ambient message sender in-process.
type Token interface {
	Address() common.Address
	Decimals() uint8
	BalanceOf(account common.Address) *big.Int
	Transfer(caller, to common.Address, amount *big.Int) error
	TransferFrom(caller, from, to common.Address, amount *big.Int) error
	Approve(caller, spender common.Address, amount *big.Int)
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// TestToken is an in-memory fungible token with mint/burn, used both by the
// simulated GLP ecosystem and by tests. Balances are guarded by a mutex so a
// token can be shared across goroutines (service wiring, query handlers).
type TestToken struct {
	mu         sync.Mutex
	addr       common.Address
	symbol     string
	decimals   uint8
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

func NewTestToken(addr common.Address, symbol string, decimals uint8) *TestToken {
	return &TestToken{
		addr:       addr,
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

func (t *TestToken) Address() common.Address { return t.addr }
func (t *TestToken) Symbol() string          { return t.symbol }
func (t *TestToken) Decimals() uint8         { return t.decimals }

func (t *TestToken) BalanceOf(account common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Mint credits newly created tokens to an account.
func (t *TestToken) Mint(to common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(to, amount)
}

// Burn destroys tokens held by an account.
func (t *TestToken) Burn(from common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.debit(from, amount)
}

func (t *TestToken) Transfer(caller, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.debit(caller, amount); err != nil {
		return err
	}
	t.credit(to, amount)
	return nil
}

func (t *TestToken) TransferFrom(caller, from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if caller != from {
		key := allowanceKey{owner: from, spender: caller}
		allowed, ok := t.allowances[key]
		if !ok || allowed.Cmp(amount) < 0 {
			return fmt.Errorf("%s: spender %s owner %s: %w",
				t.symbol, caller.Hex(), from.Hex(), ErrInsufficientAllowance)
		}
		t.allowances[key] = new(big.Int).Sub(allowed, amount)
	}
	if err := t.debit(from, amount); err != nil {
		return err
	}
	t.credit(to, amount)
	return nil
}

func (t *TestToken) Approve(caller, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[allowanceKey{owner: caller, spender: spender}] = new(big.Int).Set(amount)
}

type tokenSnapshot struct {
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

// Snapshot captures balances and allowances for unit-of-work rollback.
// Allowances are included because TransferFrom consumes them; a rolled-back
// batch must not leave an approval partially spent.
func (t *TestToken) Snapshot() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := tokenSnapshot{
		balances:   make(map[common.Address]*big.Int, len(t.balances)),
		allowances: make(map[allowanceKey]*big.Int, len(t.allowances)),
	}
	for k, v := range t.balances {
		snap.balances[k] = new(big.Int).Set(v)
	}
	for k, v := range t.allowances {
		snap.allowances[k] = new(big.Int).Set(v)
	}
	return snap
}

// Restore replaces balances and allowances with a snapshot taken earlier.
func (t *TestToken) Restore(snapshot any) {
	snap, ok := snapshot.(tokenSnapshot)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = make(map[common.Address]*big.Int, len(snap.balances))
	for k, v := range snap.balances {
		t.balances[k] = new(big.Int).Set(v)
	}
	t.allowances = make(map[allowanceKey]*big.Int, len(snap.allowances))
	for k, v := range snap.allowances {
		t.allowances[k] = new(big.Int).Set(v)
	}
}

func (t *TestToken) credit(to common.Address, amount *big.Int) {
	if b, ok := t.balances[to]; ok {
		t.balances[to] = new(big.Int).Add(b, amount)
	} else {
		t.balances[to] = new(big.Int).Set(amount)
	}
}

func (t *TestToken) debit(from common.Address, amount *big.Int) error {
	b, ok := t.balances[from]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("%s: account %s needs %s: %w",
			t.symbol, from.Hex(), amount.String(), ErrInsufficientBalance)
	}
	t.balances[from] = new(big.Int).Sub(b, amount)
	return nil
}
