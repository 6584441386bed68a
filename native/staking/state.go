package staking

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"

	coreerrors "stakeledger/core/errors"
)

// State is the serialisable form of the engine used for persistence.
type State struct {
	TotalStaked           string         `json:"totalStaked"`
	TotalStakers          uint64         `json:"totalStakers"`
	RewardPerTokenStored  string         `json:"rewardPerTokenStored"`
	EmissionRate          string         `json:"emissionRate"`
	Unallocated           string         `json:"unallocated"`
	Distributed           string         `json:"distributed"`
	LastUpdate            int64          `json:"lastUpdate"`
	RewardDurationSeconds uint64         `json:"rewardDurationSeconds"`
	Accounts              []AccountState `json:"accounts"`
}

// AccountState is one staker record.
type AccountState struct {
	Account    string `json:"account"`
	Stake      string `json:"stake"`
	Checkpoint string `json:"checkpoint"`
	Owed       string `json:"owed"`
}

// Export captures the committed engine state with accounts in address order.
func (e *Engine) Export() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.pool
	state := State{
		TotalStaked:           p.totalStaked.Dec(),
		TotalStakers:          p.totalStakers,
		RewardPerTokenStored:  p.rewardPerToken.Dec(),
		EmissionRate:          p.emissionRate.Dec(),
		Unallocated:           p.unallocated.Dec(),
		Distributed:           p.distributed.Dec(),
		LastUpdate:            p.lastUpdate,
		RewardDurationSeconds: e.duration.Uint64(),
		Accounts:              make([]AccountState, 0, len(e.accounts)),
	}
	for addr, acct := range e.accounts {
		state.Accounts = append(state.Accounts, AccountState{
			Account:    "0x" + hex.EncodeToString(addr[:]),
			Stake:      acct.stake.Dec(),
			Checkpoint: acct.checkpoint.Dec(),
			Owed:       acct.owed.Dec(),
		})
	}
	sort.Slice(state.Accounts, func(i, j int) bool {
		return state.Accounts[i].Account < state.Accounts[j].Account
	})
	return state
}

// Restore replaces the engine contents. The stake total and staker count must
// agree with the account records, no checkpoint may run ahead of the
// accumulator and the attributed rewards may not exceed the pool.
func (e *Engine) Restore(state State) error {
	var p pool
	fields := []struct {
		name  string
		value string
		dst   *uint256.Int
	}{
		{"totalStaked", state.TotalStaked, &p.totalStaked},
		{"rewardPerTokenStored", state.RewardPerTokenStored, &p.rewardPerToken},
		{"emissionRate", state.EmissionRate, &p.emissionRate},
		{"unallocated", state.Unallocated, &p.unallocated},
		{"distributed", state.Distributed, &p.distributed},
	}
	for _, f := range fields {
		if err := parseInto(f.dst, f.value); err != nil {
			return fmt.Errorf("%w: %s: %v", coreerrors.ErrInvalidState, f.name, err)
		}
	}
	p.totalStakers = state.TotalStakers
	p.lastUpdate = state.LastUpdate
	if p.distributed.Gt(&p.unallocated) {
		return fmt.Errorf("%w: distributed %s exceeds unallocated %s", coreerrors.ErrInvalidState, p.distributed.Dec(), p.unallocated.Dec())
	}

	accounts := make(map[[20]byte]account, len(state.Accounts))
	var (
		sum     uint256.Int
		stakers uint64
	)
	for _, entry := range state.Accounts {
		addr, err := decodeAccount(entry.Account)
		if err != nil {
			return fmt.Errorf("%w: %v", coreerrors.ErrInvalidState, err)
		}
		if _, dup := accounts[addr]; dup {
			return fmt.Errorf("%w: duplicate account %s", coreerrors.ErrInvalidState, entry.Account)
		}
		var acct account
		if err := parseInto(&acct.stake, entry.Stake); err != nil {
			return fmt.Errorf("%w: stake of %s: %v", coreerrors.ErrInvalidState, entry.Account, err)
		}
		if err := parseInto(&acct.checkpoint, entry.Checkpoint); err != nil {
			return fmt.Errorf("%w: checkpoint of %s: %v", coreerrors.ErrInvalidState, entry.Account, err)
		}
		if err := parseInto(&acct.owed, entry.Owed); err != nil {
			return fmt.Errorf("%w: owed of %s: %v", coreerrors.ErrInvalidState, entry.Account, err)
		}
		if acct.checkpoint.Gt(&p.rewardPerToken) {
			return fmt.Errorf("%w: checkpoint of %s ahead of accumulator", coreerrors.ErrInvalidState, entry.Account)
		}
		if sum, err = add(&sum, &acct.stake); err != nil {
			return fmt.Errorf("%w: stake sum overflows", coreerrors.ErrInvalidState)
		}
		if !acct.stake.IsZero() {
			stakers++
		}
		accounts[addr] = acct
	}
	if !sum.Eq(&p.totalStaked) {
		return fmt.Errorf("%w: stakes sum to %s, total recorded %s", coreerrors.ErrInvalidState, sum.Dec(), p.totalStaked.Dec())
	}
	if stakers != p.totalStakers {
		return fmt.Errorf("%w: %d positive stakes, staker count %d", coreerrors.ErrInvalidState, stakers, p.totalStakers)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if state.RewardDurationSeconds > 0 {
		e.duration.SetUint64(state.RewardDurationSeconds)
	}
	e.pool = p
	e.accounts = accounts
	return nil
}

func parseInto(dst *uint256.Int, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		dst.Clear()
		return nil
	}
	return dst.SetFromDecimal(trimmed)
}

func decodeAccount(value string) ([20]byte, error) {
	var out [20]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return out, fmt.Errorf("decode account %q: %w", value, err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("account %q must be 20 bytes", value)
	}
	copy(out[:], raw)
	return out, nil
}
