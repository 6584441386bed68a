package token

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"
)

// State is the serialisable form of a token ledger.
type State struct {
	Symbol      string           `json:"symbol"`
	TotalSupply string           `json:"totalSupply"`
	Balances    []BalanceEntry   `json:"balances"`
	Allowances  []AllowanceEntry `json:"allowances,omitempty"`
}

// BalanceEntry is one non-zero account balance.
type BalanceEntry struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// AllowanceEntry is one non-zero spender allowance.
type AllowanceEntry struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// Export captures the ledger contents in deterministic account order.
func (l *Ledger) Export() State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state := State{
		Symbol:      l.symbol,
		TotalSupply: l.totalSupply.Dec(),
		Balances:    make([]BalanceEntry, 0, len(l.balances)),
	}
	for addr, bal := range l.balances {
		if bal == nil || bal.IsZero() {
			continue
		}
		state.Balances = append(state.Balances, BalanceEntry{Account: encodeKey(addr), Amount: bal.Dec()})
	}
	sort.Slice(state.Balances, func(i, j int) bool {
		return state.Balances[i].Account < state.Balances[j].Account
	})
	for owner, spenders := range l.allowances {
		for spender, amount := range spenders {
			if amount == nil || amount.IsZero() {
				continue
			}
			state.Allowances = append(state.Allowances, AllowanceEntry{
				Owner:   encodeKey(owner),
				Spender: encodeKey(spender),
				Amount:  amount.Dec(),
			})
		}
	}
	sort.Slice(state.Allowances, func(i, j int) bool {
		a, b := state.Allowances[i], state.Allowances[j]
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		return a.Spender < b.Spender
	})
	return state
}

// Restore replaces the ledger contents with the supplied state. The sum of
// balances must equal the recorded total supply.
func (l *Ledger) Restore(state State) error {
	supply, err := parseAmount(state.TotalSupply)
	if err != nil {
		return fmt.Errorf("restore total supply: %w", err)
	}
	balances := make(map[[20]byte]*uint256.Int, len(state.Balances))
	sum := new(uint256.Int)
	for _, entry := range state.Balances {
		addr, err := decodeKey(entry.Account)
		if err != nil {
			return fmt.Errorf("restore balance: %w", err)
		}
		amount, err := parseAmount(entry.Amount)
		if err != nil {
			return fmt.Errorf("restore balance %s: %w", entry.Account, err)
		}
		if _, overflow := sum.AddOverflow(sum, amount); overflow {
			return fmt.Errorf("restore balance %s: sum overflows", entry.Account)
		}
		balances[addr] = amount
	}
	if !sum.Eq(supply) {
		return fmt.Errorf("restore: balances sum %s does not match total supply %s", sum.Dec(), supply.Dec())
	}
	allowances := make(map[[20]byte]map[[20]byte]*uint256.Int)
	for _, entry := range state.Allowances {
		owner, err := decodeKey(entry.Owner)
		if err != nil {
			return fmt.Errorf("restore allowance owner: %w", err)
		}
		spender, err := decodeKey(entry.Spender)
		if err != nil {
			return fmt.Errorf("restore allowance spender: %w", err)
		}
		amount, err := parseAmount(entry.Amount)
		if err != nil {
			return fmt.Errorf("restore allowance: %w", err)
		}
		if allowances[owner] == nil {
			allowances[owner] = make(map[[20]byte]*uint256.Int)
		}
		allowances[owner][spender] = amount
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if symbol := strings.TrimSpace(state.Symbol); symbol != "" {
		l.symbol = strings.ToUpper(symbol)
	}
	l.totalSupply = supply
	l.balances = balances
	l.allowances = allowances
	return nil
}

func encodeKey(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func decodeKey(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("decode account %q: %w", value, err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("account %q must be 20 bytes", value)
	}
	copy(out[:], raw)
	return out, nil
}

func parseAmount(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}
