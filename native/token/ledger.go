package token

import (
	"fmt"
	"strings"
	"sync"

	"github.com/holiman/uint256"

	coreerrors "stakeledger/core/errors"
	"stakeledger/core/events"
)

// Ledger is an in-process fungible token with balances and spender
// allowances. Transfers conserve the total supply; only Mint changes it.
type Ledger struct {
	mu          sync.RWMutex
	symbol      string
	balances    map[[20]byte]*uint256.Int
	allowances  map[[20]byte]map[[20]byte]*uint256.Int
	totalSupply *uint256.Int
	emitter     events.Emitter
}

var maxAllowance = new(uint256.Int).SetAllOne()

// NewLedger constructs an empty token ledger for the supplied symbol.
func NewLedger(symbol string) *Ledger {
	return &Ledger{
		symbol:      strings.ToUpper(strings.TrimSpace(symbol)),
		balances:    make(map[[20]byte]*uint256.Int),
		allowances:  make(map[[20]byte]map[[20]byte]*uint256.Int),
		totalSupply: new(uint256.Int),
		emitter:     events.NoopEmitter{},
	}
}

// SetEmitter wires the sink receiving transfer and approval events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// Symbol returns the ticker configured for the ledger.
func (l *Ledger) Symbol() string {
	if l == nil {
		return ""
	}
	return l.symbol
}

// Mint credits newly created tokens to the supplied account.
func (l *Ledger) Mint(to [20]byte, amount *uint256.Int) error {
	if l == nil {
		return fmt.Errorf("token ledger not configured")
	}
	if amount == nil {
		return fmt.Errorf("mint: amount required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(l.totalSupply, amount)
	if overflow {
		return fmt.Errorf("mint: %w", coreerrors.ErrTokenOverflow)
	}
	// Balances are bounded by the supply so this cannot overflow.
	balance := new(uint256.Int).Add(l.balanceLocked(to), amount)
	l.totalSupply = supply
	l.balances[to] = balance
	l.emitter.Emit(events.Transfer{Asset: l.symbol, To: to, Amount: amount.ToBig()})
	l.emitter.Emit(events.TokenSupply{Asset: l.symbol, To: to, Minted: amount.ToBig(), Supply: supply.ToBig()})
	return nil
}

// BalanceOf returns a copy of the account balance.
func (l *Ledger) BalanceOf(addr [20]byte) *uint256.Int {
	if l == nil {
		return new(uint256.Int)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(addr).Clone()
}

// TotalSupply returns a copy of the circulating supply.
func (l *Ledger) TotalSupply() *uint256.Int {
	if l == nil {
		return new(uint256.Int)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSupply.Clone()
}

// Allowance returns how much spender may still pull from owner.
func (l *Ledger) Allowance(owner, spender [20]byte) *uint256.Int {
	if l == nil {
		return new(uint256.Int)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowanceLocked(owner, spender).Clone()
}

// Approve overwrites the allowance granted by owner to spender. The maximum
// uint256 value is treated as unlimited and never decremented.
func (l *Ledger) Approve(owner, spender [20]byte, amount *uint256.Int) error {
	if l == nil {
		return fmt.Errorf("token ledger not configured")
	}
	if amount == nil {
		return fmt.Errorf("approve: amount required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	spenders, ok := l.allowances[owner]
	if !ok {
		spenders = make(map[[20]byte]*uint256.Int)
		l.allowances[owner] = spenders
	}
	if amount.IsZero() {
		delete(spenders, spender)
	} else {
		spenders[spender] = amount.Clone()
	}
	l.emitter.Emit(events.Approval{Asset: l.symbol, Owner: owner, Spender: spender, Amount: amount.ToBig()})
	return nil
}

// Transfer moves tokens from the caller's own balance.
func (l *Ledger) Transfer(from, to [20]byte, amount *uint256.Int) error {
	if l == nil {
		return fmt.Errorf("token ledger not configured")
	}
	if amount == nil {
		return fmt.Errorf("transfer: amount required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.moveLocked(from, to, amount); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	return nil
}

// TransferFrom moves tokens out of from on behalf of spender, consuming the
// allowance. The allowance is checked before the balance; on any failure
// neither the allowance nor the balances change.
func (l *Ledger) TransferFrom(spender, from, to [20]byte, amount *uint256.Int) error {
	if l == nil {
		return fmt.Errorf("token ledger not configured")
	}
	if amount == nil {
		return fmt.Errorf("transferFrom: amount required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowanceLocked(from, spender)
	unlimited := allowance.Eq(maxAllowance)
	if !unlimited && allowance.Lt(amount) {
		return fmt.Errorf("transferFrom: %w", coreerrors.ErrInsufficientAllowance)
	}
	if err := l.moveLocked(from, to, amount); err != nil {
		return fmt.Errorf("transferFrom: %w", err)
	}
	if !unlimited {
		remaining := new(uint256.Int).Sub(allowance, amount)
		if remaining.IsZero() {
			delete(l.allowances[from], spender)
		} else {
			l.allowances[from][spender] = remaining
		}
	}
	return nil
}

func (l *Ledger) moveLocked(from, to [20]byte, amount *uint256.Int) error {
	fromBal := l.balanceLocked(from)
	if fromBal.Lt(amount) {
		return coreerrors.ErrInsufficientBalance
	}
	if from != to {
		l.balances[from] = new(uint256.Int).Sub(fromBal, amount)
		l.balances[to] = new(uint256.Int).Add(l.balanceLocked(to), amount)
		if l.balances[from].IsZero() {
			delete(l.balances, from)
		}
	}
	l.emitter.Emit(events.Transfer{Asset: l.symbol, From: from, To: to, Amount: amount.ToBig()})
	return nil
}

func (l *Ledger) balanceLocked(addr [20]byte) *uint256.Int {
	if bal, ok := l.balances[addr]; ok && bal != nil {
		return bal
	}
	return new(uint256.Int)
}

func (l *Ledger) allowanceLocked(owner, spender [20]byte) *uint256.Int {
	if spenders, ok := l.allowances[owner]; ok {
		if allowance, ok := spenders[spender]; ok && allowance != nil {
			return allowance
		}
	}
	return new(uint256.Int)
}
