package staking

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"

	coreerrors "stakeledger/core/errors"
	"stakeledger/core/events"
	"stakeledger/crypto"
)

const moduleName = "staking"

// Engine tracks stake positions and streams a replenishable reward pool to
// stakers in proportion to their stake. All operations are serialised; the
// token call of a mutating operation happens before anything is committed so a
// failed transfer leaves the engine untouched.
type Engine struct {
	mu       sync.Mutex
	token    TokenLedger
	module   [20]byte
	clock    Clock
	emitter  events.Emitter
	duration uint256.Int
	pool     pool
	accounts map[[20]byte]account
}

// NewEngine constructs an engine custodying funds in the supplied module
// account.
func NewEngine(token TokenLedger, module [20]byte) *Engine {
	e := &Engine{
		token:    token,
		module:   module,
		clock:    SystemClock{},
		emitter:  events.NoopEmitter{},
		accounts: make(map[[20]byte]account),
	}
	e.duration.SetUint64(uint64(DefaultRewardDuration / time.Second))
	return e
}

// SetClock overrides the time source.
func (e *Engine) SetClock(clock Clock) {
	if e == nil || clock == nil {
		return
	}
	e.mu.Lock()
	e.clock = clock
	e.mu.Unlock()
}

// SetEmitter wires the sink receiving ledger events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.mu.Lock()
	e.emitter = emitter
	e.mu.Unlock()
}

// SetRewardDuration sets the divisor that turns a deposit into added emission
// per second. It only affects deposits detected after the call.
func (e *Engine) SetRewardDuration(d time.Duration) error {
	if e == nil {
		return coreerrors.ErrNotConfigured
	}
	secs := int64(d / time.Second)
	if secs <= 0 {
		return fmt.Errorf("staking engine: reward duration must be at least one second")
	}
	e.mu.Lock()
	e.duration.SetUint64(uint64(secs))
	e.mu.Unlock()
	return nil
}

// RewardDuration returns the configured deposit divisor.
func (e *Engine) RewardDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Duration(e.duration.Uint64()) * time.Second
}

// DefaultModuleAddress derives the custody account used when none is
// configured explicitly.
func DefaultModuleAddress() [20]byte {
	return crypto.ModuleAddress(moduleName).Raw()
}

// ModuleAddress returns the account holding staked principal and rewards.
func (e *Engine) ModuleAddress() [20]byte { return e.module }

// Stake pulls amount from caller into the module account and credits it as
// stake. The caller must have approved the module account as spender.
func (e *Engine) Stake(caller [20]byte, amount *big.Int) error {
	amt, err := toAmount(amount)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.token == nil {
		return coreerrors.ErrNotConfigured
	}

	now := e.now()
	p := e.pool
	acct := e.accounts[caller]
	depleted, err := settle(&p, now)
	if err != nil {
		return err
	}
	if err := accrue(&p, &acct); err != nil {
		return err
	}
	wasEmpty := acct.stake.IsZero()
	if acct.stake, err = add(&acct.stake, amt); err != nil {
		return err
	}
	if p.totalStaked, err = add(&p.totalStaked, amt); err != nil {
		return err
	}
	if wasEmpty {
		p.totalStakers++
	}
	if err := e.token.TransferFrom(e.module, caller, e.module, amt); err != nil {
		return fmt.Errorf("stake: %w", err)
	}

	e.commit(p, caller, acct)
	e.emitDepleted(depleted, now)
	e.emitter.Emit(events.StakeStaked{
		Account:      caller,
		Amount:       amt.ToBig(),
		NewBalance:   toBig(acct.stake),
		TotalStaked:  toBig(p.totalStaked),
		TotalStakers: p.totalStakers,
		Timestamp:    uint64(now),
	})
	return nil
}

// Unstake returns amount of principal to caller. Accrued rewards stay owed
// until claimed.
func (e *Engine) Unstake(caller [20]byte, amount *big.Int) error {
	amt, err := toAmount(amount)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.token == nil {
		return coreerrors.ErrNotConfigured
	}

	acct := e.accounts[caller]
	if acct.stake.Lt(amt) {
		return coreerrors.ErrInsufficientStake
	}
	now := e.now()
	p := e.pool
	depleted, err := settle(&p, now)
	if err != nil {
		return err
	}
	if err := accrue(&p, &acct); err != nil {
		return err
	}
	if acct.stake, err = sub(&acct.stake, amt); err != nil {
		return err
	}
	if p.totalStaked, err = sub(&p.totalStaked, amt); err != nil {
		return fmt.Errorf("%w: total stake below account stake", coreerrors.ErrInvalidState)
	}
	if acct.stake.IsZero() {
		p.totalStakers--
	}
	if err := e.token.Transfer(e.module, caller, amt); err != nil {
		return fmt.Errorf("unstake: %w", err)
	}

	e.commit(p, caller, acct)
	e.emitDepleted(depleted, now)
	e.emitter.Emit(events.StakeUnstaked{
		Account:      caller,
		Amount:       amt.ToBig(),
		NewBalance:   toBig(acct.stake),
		TotalStaked:  toBig(p.totalStaked),
		TotalStakers: p.totalStakers,
		Timestamp:    uint64(now),
	})
	return nil
}

// UpdateRewardPool detects tokens sent to the module account since the last
// update and starts streaming them. Anyone may call it; with nothing new to
// detect it only advances the accumulator. Returns the newly detected amount.
func (e *Engine) UpdateRewardPool(caller [20]byte) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.token == nil {
		return nil, coreerrors.ErrNotConfigured
	}

	now := e.now()
	p := e.pool
	depleted, err := settle(&p, now)
	if err != nil {
		return nil, err
	}
	custody := e.token.BalanceOf(e.module)
	liabilities, err := add(&p.totalStaked, &p.unallocated)
	if err != nil {
		return nil, err
	}
	if custody.Lt(&liabilities) {
		return nil, fmt.Errorf("%w: holding %s, owing %s", coreerrors.ErrLedgerImbalance, custody.Dec(), liabilities.Dec())
	}
	deposited, _ := sub(custody, &liabilities)
	if !deposited.IsZero() {
		if p.unallocated, err = add(&p.unallocated, &deposited); err != nil {
			return nil, err
		}
		increment, err := mulDiv(&deposited, precision, &e.duration)
		if err != nil {
			return nil, err
		}
		if p.emissionRate, err = add(&p.emissionRate, &increment); err != nil {
			return nil, err
		}
	}

	e.pool = p
	e.emitDepleted(depleted, now)
	e.emitter.Emit(events.StakePoolUpdated{
		Caller:       caller,
		Deposited:    toBig(deposited),
		Unallocated:  toBig(p.unallocated),
		EmissionRate: toBig(p.emissionRate),
		RatePerToken: toBig(ratePerToken(&p)),
		Timestamp:    uint64(now),
	})
	return toBig(deposited), nil
}

// ClaimReward pays caller everything accrued so far. Claiming with nothing
// owed succeeds and pays zero.
func (e *Engine) ClaimReward(caller [20]byte) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.token == nil {
		return nil, coreerrors.ErrNotConfigured
	}

	now := e.now()
	p := e.pool
	acct := e.accounts[caller]
	depleted, err := settle(&p, now)
	if err != nil {
		return nil, err
	}
	if err := accrue(&p, &acct); err != nil {
		return nil, err
	}
	paid := acct.owed
	// Per-account truncation can leave the sum of owed a few units above the
	// pool; never pay out more than the pool holds.
	if paid.Gt(&p.unallocated) {
		paid = p.unallocated
	}
	if !paid.IsZero() {
		if err := e.token.Transfer(e.module, caller, &paid); err != nil {
			return nil, fmt.Errorf("claim reward: %w", err)
		}
		acct.owed, _ = sub(&acct.owed, &paid)
		p.unallocated, _ = sub(&p.unallocated, &paid)
		if p.distributed.Lt(&paid) {
			p.distributed.Clear()
		} else {
			p.distributed, _ = sub(&p.distributed, &paid)
		}
	}

	e.commit(p, caller, acct)
	e.emitDepleted(depleted, now)
	if !paid.IsZero() {
		e.emitter.Emit(events.StakeRewardsClaimed{
			Account:        caller,
			Paid:           toBig(paid),
			RewardPerToken: toBig(p.rewardPerToken),
			Unallocated:    toBig(p.unallocated),
			Timestamp:      uint64(now),
		})
	}
	return toBig(paid), nil
}

// StakeBalance returns the principal staked by addr.
func (e *Engine) StakeBalance(addr [20]byte) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toBig(e.accounts[addr].stake)
}

// TotalStakedBalance returns the sum of all stake balances.
func (e *Engine) TotalStakedBalance() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toBig(e.pool.totalStaked)
}

// TotalStakers returns the number of accounts holding a positive stake.
func (e *Engine) TotalStakers() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.totalStakers
}

// UnallocatedRewardBalance returns the reward tokens held but not yet paid.
func (e *Engine) UnallocatedRewardBalance() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toBig(e.pool.unallocated)
}

// EmissionRate returns the 1e18-scaled tokens emitted per second.
func (e *Engine) EmissionRate() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toBig(e.pool.emissionRate)
}

// LastUpdateTime returns when the accumulator was last advanced.
func (e *Engine) LastUpdateTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Unix(e.pool.lastUpdate, 0).UTC()
}

// CalculateRewardPerToken returns the 1e18-scaled reward each staked token
// earns per second as of now. Zero when nothing is staked or once the pool
// has run dry.
func (e *Engine) CalculateRewardPerToken() (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pool
	if _, err := settle(&p, e.now()); err != nil {
		return nil, err
	}
	return toBig(ratePerToken(&p)), nil
}

// RewardPerToken returns the accumulator as it would stand if settled now.
func (e *Engine) RewardPerToken() (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pool
	if _, err := settle(&p, e.now()); err != nil {
		return nil, err
	}
	return toBig(p.rewardPerToken), nil
}

// Earned returns what addr could claim now.
func (e *Engine) Earned(addr [20]byte) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pool
	acct := e.accounts[addr]
	if _, err := settle(&p, e.now()); err != nil {
		return nil, err
	}
	if err := accrue(&p, &acct); err != nil {
		return nil, err
	}
	return toBig(acct.owed), nil
}

// Position returns the account view of addr.
func (e *Engine) Position(addr [20]byte) (Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pool
	acct := e.accounts[addr]
	checkpoint := acct.checkpoint
	if _, err := settle(&p, e.now()); err != nil {
		return Position{}, err
	}
	if err := accrue(&p, &acct); err != nil {
		return Position{}, err
	}
	return Position{
		Account:    addr,
		Stake:      toBig(acct.stake),
		Checkpoint: toBig(checkpoint),
		Earned:     toBig(acct.owed),
	}, nil
}

// Totals returns the committed global accounting.
func (e *Engine) Totals() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pool
	return Totals{
		TotalStaked:           toBig(p.totalStaked),
		TotalStakers:          p.totalStakers,
		RewardPerTokenStored:  toBig(p.rewardPerToken),
		EmissionRate:          toBig(p.emissionRate),
		RatePerToken:          toBig(ratePerToken(&p)),
		Unallocated:           toBig(p.unallocated),
		Distributed:           toBig(p.distributed),
		LastUpdate:            time.Unix(p.lastUpdate, 0).UTC(),
		RewardDurationSeconds: e.duration.Uint64(),
	}
}

func (e *Engine) now() int64 {
	return e.clock.Now().Unix()
}

func (e *Engine) commit(p pool, addr [20]byte, acct account) {
	e.pool = p
	e.accounts[addr] = acct
}

func (e *Engine) emitDepleted(d *depletion, now int64) {
	if d == nil {
		return
	}
	e.emitter.Emit(events.StakePoolDepleted{
		Attempted: toBig(d.attempted),
		Emitted:   toBig(d.emitted),
		Timestamp: uint64(now),
	})
}

type depletion struct {
	attempted uint256.Int
	emitted   uint256.Int
}

// settle advances the accumulator to now, attributing the emission since the
// last update to current stakers. Emission is capped at the part of the pool
// not yet attributed; hitting the cap stops emission until the next deposit.
func settle(p *pool, now int64) (*depletion, error) {
	if now <= p.lastUpdate {
		return nil, nil
	}
	elapsed := uint256.NewInt(uint64(now - p.lastUpdate))
	p.lastUpdate = now
	if p.totalStaked.IsZero() || p.emissionRate.IsZero() {
		return nil, nil
	}
	emission, err := mulDiv(elapsed, &p.emissionRate, precision)
	if err != nil {
		return nil, err
	}
	available, err := sub(&p.unallocated, &p.distributed)
	if err != nil {
		return nil, fmt.Errorf("%w: distributed exceeds unallocated", coreerrors.ErrInvalidState)
	}
	var depleted *depletion
	if emission.Gt(&available) {
		depleted = &depletion{attempted: emission, emitted: available}
		emission = available
		p.emissionRate.Clear()
	}
	delta, err := mulDiv(&emission, precision, &p.totalStaked)
	if err != nil {
		return nil, err
	}
	attributed, err := mulDiv(&delta, &p.totalStaked, precision)
	if err != nil {
		return nil, err
	}
	if p.rewardPerToken, err = add(&p.rewardPerToken, &delta); err != nil {
		return nil, err
	}
	if p.distributed, err = add(&p.distributed, &attributed); err != nil {
		return nil, err
	}
	return depleted, nil
}

// accrue credits acct with its share of the accumulator growth since its
// checkpoint.
func accrue(p *pool, acct *account) error {
	growth, err := sub(&p.rewardPerToken, &acct.checkpoint)
	if err != nil {
		return fmt.Errorf("%w: checkpoint ahead of accumulator", coreerrors.ErrInvalidState)
	}
	earned, err := mulDiv(&acct.stake, &growth, precision)
	if err != nil {
		return err
	}
	if acct.owed, err = add(&acct.owed, &earned); err != nil {
		return err
	}
	acct.checkpoint = p.rewardPerToken
	return nil
}

func ratePerToken(p *pool) uint256.Int {
	var out uint256.Int
	if p.totalStaked.IsZero() {
		return out
	}
	out.Div(&p.emissionRate, &p.totalStaked)
	return out
}
