package staking

import (
	"math/big"
	"time"

	"github.com/holiman/uint256"
)

// DefaultRewardDuration divides a deposit into its per-second emission. Rates
// from several deposits add up, so the pool can run dry sooner than this.
const DefaultRewardDuration = 30 * 24 * time.Hour

// TokenLedger is the fungible token the engine custodies. Stake is pulled with
// TransferFrom against an allowance; principal and rewards are paid out with
// Transfer from the module account.
type TokenLedger interface {
	TransferFrom(spender, from, to [20]byte, amount *uint256.Int) error
	Transfer(from, to [20]byte, amount *uint256.Int) error
	BalanceOf(addr [20]byte) *uint256.Int
}

// Clock supplies the wall time used for reward accrual.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// account is the per-staker record. Values rather than pointers so that a
// struct copy stages an independent version of the record.
type account struct {
	stake      uint256.Int
	checkpoint uint256.Int
	owed       uint256.Int
}

// pool holds the global accounting.
type pool struct {
	totalStaked    uint256.Int
	totalStakers   uint64
	rewardPerToken uint256.Int
	emissionRate   uint256.Int
	unallocated    uint256.Int
	distributed    uint256.Int
	lastUpdate     int64
}

// Position is a read-only view over one account.
type Position struct {
	Account    [20]byte
	Stake      *big.Int
	Checkpoint *big.Int
	// Earned includes accrual up to the time the position was read.
	Earned *big.Int
}

// Totals summarises the global pool.
type Totals struct {
	TotalStaked           *big.Int
	TotalStakers          uint64
	RewardPerTokenStored  *big.Int
	EmissionRate          *big.Int
	RatePerToken          *big.Int
	Unallocated           *big.Int
	Distributed           *big.Int
	LastUpdate            time.Time
	RewardDurationSeconds uint64
}
