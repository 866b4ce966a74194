package margin

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/midaseth/dolomite-margin-modules/internal/event"
	"github.com/midaseth/dolomite-margin-modules/internal/types"
)

// AccountValidator inspects an account's balances after a batch has executed
// but before it commits. The wrapped-market factory registers one to enforce
// its debt/collateral allow-lists.
type AccountValidator interface {
	ValidateAccount(account types.AccountInfo, balances map[types.MarketID]*big.Int) error
}

// RegisterAccountValidator enrolls a post-settlement balance check.
func (l *Ledger) RegisterAccountValidator(v AccountValidator) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.validators = append(l.validators, v)
}

// Operate settles a batch of actions atomically. The caller must be a global
// operator or the owner of every referenced account. If any action fails the
// whole batch is rolled back: ledger balances, token balances, and every
// registered Reversible return to their pre-batch state.
func (l *Ledger) Operate(caller common.Address, accounts []types.AccountInfo, actions []Action) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	l.currentOpID = uuid.New()

	if len(accounts) == 0 || len(actions) == 0 {
		return fmt.Errorf("operate: empty batch: %w", ErrInvalidAction)
	}
	if err := l.authorizeLocked(caller, accounts); err != nil {
		return err
	}
	for i, a := range actions {
		if err := a.validate(len(accounts)); err != nil {
			return fmt.Errorf("operate: action %d (%s): %w", i, a.Type, err)
		}
	}

	// Unit of work: snapshot everything up front, restore on any failure.
	balanceSnap := l.snapshotBalancesLocked()
	reversibleSnaps := make([]any, len(l.reversibles))
	for i, r := range l.reversibles {
		reversibleSnaps[i] = r.Snapshot()
	}
	rollback := func() {
		l.balances = balanceSnap
		for i := len(l.reversibles) - 1; i >= 0; i-- {
			l.reversibles[i].Restore(reversibleSnaps[i])
		}
	}

	for i, a := range actions {
		if err := l.executeActionLocked(accounts, a); err != nil {
			rollback()
			if l.metrics != nil {
				l.metrics.OperationsReverted.WithLabelValues(a.Type.String()).Inc()
			}
			l.log.Warn().
				Err(err).
				Int("action_index", i).
				Str("action_type", a.Type.String()).
				Msg("batch reverted")
			return fmt.Errorf("operate: action %d (%s): %w", i, a.Type, err)
		}
	}

	for _, acct := range accounts {
		for _, v := range l.validators {
			if err := v.ValidateAccount(acct, l.accountBalancesLocked(acct)); err != nil {
				rollback()
				if l.metrics != nil {
					l.metrics.OperationsReverted.WithLabelValues("validate").Inc()
				}
				return fmt.Errorf("operate: account %s: %w", acct, err)
			}
		}
	}

	if l.metrics != nil {
		l.metrics.OperationsSettled.Inc()
		l.metrics.OperationDuration.Observe(time.Since(start).Seconds())
	}
	l.emit(&event.OperationSettled{
		OperationID: l.currentOpID,
		Submitter:   caller,
		NumAccounts: len(accounts),
		NumActions:  len(actions),
	})
	l.log.Debug().
		Str("submitter", caller.Hex()).
		Int("accounts", len(accounts)).
		Int("actions", len(actions)).
		Dur("took", time.Since(start)).
		Msg("batch settled")
	return nil
}

func (l *Ledger) authorizeLocked(caller common.Address, accounts []types.AccountInfo) error {
	if l.globalOperators[caller] {
		return nil
	}
	for _, acct := range accounts {
		if acct.Owner != caller {
			return fmt.Errorf("operate: caller %s for account %s: %w",
				caller.Hex(), acct, ErrUnauthorizedOperator)
		}
	}
	return nil
}

func (l *Ledger) executeActionLocked(accounts []types.AccountInfo, a Action) error {
	switch a.Type {
	case ActionTypeDeposit:
		return l.executeDepositLocked(accounts[a.AccountID], a)
	case ActionTypeWithdraw:
		return l.executeWithdrawLocked(accounts[a.AccountID], a)
	case ActionTypeTransfer:
		return l.executeTransferLocked(accounts[a.AccountID], accounts[a.OtherAccountID], a)
	case ActionTypeSell:
		return l.executeSellLocked(accounts[a.AccountID], a)
	case ActionTypeLiquidate:
		return l.executeLiquidateLocked(accounts[a.AccountID], accounts[a.OtherAccountID], a)
	case ActionTypeCall:
		return l.executeCallLocked(accounts[a.AccountID], a)
	default:
		return ErrInvalidAction
	}
}

func (l *Ledger) executeDepositLocked(account types.AccountInfo, a Action) error {
	m, err := l.marketLocked(a.PrimaryMarketID)
	if err != nil {
		return err
	}
	if err := m.Token.TransferFrom(l.addr, a.OtherAddress, l.addr, a.Amount); err != nil {
		return fmt.Errorf("deposit pull from %s: %w", a.OtherAddress.Hex(), err)
	}
	l.adjustBalanceLocked(account, m.ID, a.Amount)
	return nil
}

func (l *Ledger) executeWithdrawLocked(account types.AccountInfo, a Action) error {
	m, err := l.marketLocked(a.PrimaryMarketID)
	if err != nil {
		return err
	}
	if err := l.checkBorrowLocked(account, m, a.Amount); err != nil {
		return err
	}
	if err := m.Token.Transfer(l.addr, a.OtherAddress, a.Amount); err != nil {
		return fmt.Errorf("withdraw push to %s: %w", a.OtherAddress.Hex(), err)
	}
	l.adjustBalanceLocked(account, m.ID, new(big.Int).Neg(a.Amount))
	return nil
}

func (l *Ledger) executeTransferLocked(from, to types.AccountInfo, a Action) error {
	m, err := l.marketLocked(a.PrimaryMarketID)
	if err != nil {
		return err
	}
	// Transfers may push the source account negative; the post-settlement
	// validators decide whether the resulting debt is allowed.
	if err := l.checkBorrowLocked(from, m, a.Amount); err != nil {
		return err
	}
	l.adjustBalanceLocked(from, a.PrimaryMarketID, new(big.Int).Neg(a.Amount))
	l.adjustBalanceLocked(to, a.PrimaryMarketID, a.Amount)
	return nil
}

// checkBorrowLocked rejects a debit that would leave the account owing a
// closing market. Closing blocks new borrowing only; deposits and repayments
// keep working so positions can be unwound.
func (l *Ledger) checkBorrowLocked(account types.AccountInfo, m *Market, debit *big.Int) error {
	if !m.IsClosing {
		return nil
	}
	next := new(big.Int).Sub(l.balanceLocked(account, m.ID), debit)
	if next.Sign() < 0 {
		return fmt.Errorf("market %d: %w", m.ID, ErrMarketClosing)
	}
	return nil
}

func (l *Ledger) executeSellLocked(account types.AccountInfo, a Action) error {
	taker, err := l.marketLocked(a.PrimaryMarketID)
	if err != nil {
		return err
	}
	maker, err := l.marketLocked(a.SecondaryMarketID)
	if err != nil {
		return err
	}
	wrapper, ok := l.wrappers[a.OtherAddress]
	if !ok {
		return fmt.Errorf("trader %s: %w", a.OtherAddress.Hex(), ErrUnknownTrader)
	}

	held := l.balanceLocked(account, taker.ID)
	if held.Cmp(a.Amount) < 0 {
		return fmt.Errorf("sell %s of market %d, account holds %s: %w",
			a.Amount, taker.ID, held, ErrInvalidAction)
	}

	// Hand the input tokens to the trader, let it convert, then verify the
	// ledger actually received the reported output before crediting it.
	if err := taker.Token.Transfer(l.addr, a.OtherAddress, a.Amount); err != nil {
		return fmt.Errorf("sell input transfer: %w", err)
	}
	makerBefore := maker.Token.BalanceOf(l.addr)

	out, err := wrapper.Exchange(
		l.addr,
		account.Owner,
		l.addr,
		maker.Token.Address(),
		taker.Token.Address(),
		a.Amount,
		a.Data,
	)
	if err != nil {
		return fmt.Errorf("exchange: %w", err)
	}

	makerReceived := new(big.Int).Sub(maker.Token.BalanceOf(l.addr), makerBefore)
	if makerReceived.Cmp(out) < 0 {
		return fmt.Errorf("trader reported %s, ledger received %s: %w",
			out, makerReceived, ErrExchangeShortfall)
	}

	l.adjustBalanceLocked(account, taker.ID, new(big.Int).Neg(a.Amount))
	l.adjustBalanceLocked(account, maker.ID, out)

	if l.metrics != nil {
		l.metrics.ExchangesSettled.WithLabelValues(
			fmt.Sprintf("%d->%d", taker.ID, maker.ID)).Inc()
	}
	l.emit(&event.ExchangeSettled{
		OperationID:  l.currentOpID,
		Trader:       a.OtherAddress,
		TakerMarket:  uint64(taker.ID),
		MakerMarket:  uint64(maker.ID),
		InputAmount:  new(big.Int).Set(a.Amount),
		OutputAmount: new(big.Int).Set(out),
	})
	return nil
}

func (l *Ledger) executeLiquidateLocked(solid, liquid types.AccountInfo, a Action) error {
	m, err := l.marketLocked(a.PrimaryMarketID)
	if err != nil {
		return err
	}
	held := l.balanceLocked(liquid, m.ID)
	if held.Cmp(a.Amount) < 0 {
		return fmt.Errorf("liquidate %s of market %d, account holds %s: %w",
			a.Amount, m.ID, held, ErrInvalidAction)
	}
	l.adjustBalanceLocked(liquid, m.ID, new(big.Int).Neg(a.Amount))
	l.adjustBalanceLocked(solid, m.ID, a.Amount)
	return nil
}

func (l *Ledger) executeCallLocked(account types.AccountInfo, a Action) error {
	callee, ok := l.callees[a.OtherAddress]
	if !ok {
		return fmt.Errorf("callee %s: %w", a.OtherAddress.Hex(), ErrUnknownCallee)
	}
	return callee.CallFunction(l.addr, account, a.Data)
}

func (l *Ledger) adjustBalanceLocked(account types.AccountInfo, marketID types.MarketID, delta *big.Int) {
	next := new(big.Int).Add(l.balanceLocked(account, marketID), delta)
	l.setBalanceLocked(account, marketID, next)
}

func (l *Ledger) accountBalancesLocked(account types.AccountInfo) map[types.MarketID]*big.Int {
	out := make(map[types.MarketID]*big.Int)
	for id, b := range l.balances[account] {
		if b.Sign() != 0 {
			out[id] = new(big.Int).Set(b)
		}
	}
	return out
}

func (l *Ledger) snapshotBalancesLocked() map[types.AccountInfo]map[types.MarketID]*big.Int {
	snap := make(map[types.AccountInfo]map[types.MarketID]*big.Int, len(l.balances))
	for acct, byMarket := range l.balances {
		inner := make(map[types.MarketID]*big.Int, len(byMarket))
		for id, b := range byMarket {
			inner[id] = new(big.Int).Set(b)
		}
		snap[acct] = inner
	}
	return snap
}
