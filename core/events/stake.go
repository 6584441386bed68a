package events

import (
	"math/big"
	"strconv"

	"stakeledger/core/types"
)

const (
	// TypeStakeStaked is emitted when tokens are pulled into the ledger as stake.
	TypeStakeStaked = "stake.staked"
	// TypeStakeUnstaked is emitted when principal is returned to its owner.
	TypeStakeUnstaked = "stake.unstaked"
	// TypeStakeRewardsClaimed is emitted when accrued rewards are paid out.
	TypeStakeRewardsClaimed = "stake.rewardsClaimed"
	// TypeStakePoolUpdated is emitted whenever the reward pool is refreshed.
	TypeStakePoolUpdated = "stake.poolUpdated"
	// TypeStakePoolDepleted signals that emission stopped because the pool ran dry.
	TypeStakePoolDepleted = "stake.poolDepleted"
)

// StakeStaked captures a stake deposit.
type StakeStaked struct {
	Account      [20]byte
	Amount       *big.Int
	NewBalance   *big.Int
	TotalStaked  *big.Int
	TotalStakers uint64
	Timestamp    uint64
}

// EventType satisfies the Event interface.
func (StakeStaked) EventType() string { return TypeStakeStaked }

// Event converts the structured payload into a broadcastable event.
func (e StakeStaked) Event() *types.Event {
	attrs := map[string]string{
		"addr":         formatAddress(e.Account),
		"amount":       formatAmount(e.Amount),
		"newBalance":   formatAmount(e.NewBalance),
		"totalStaked":  formatAmount(e.TotalStaked),
		"totalStakers": strconv.FormatUint(e.TotalStakers, 10),
	}
	if e.Timestamp > 0 {
		attrs["timestamp"] = strconv.FormatUint(e.Timestamp, 10)
	}
	return &types.Event{Type: TypeStakeStaked, Attributes: attrs}
}

// StakeUnstaked captures a principal withdrawal.
type StakeUnstaked struct {
	Account      [20]byte
	Amount       *big.Int
	NewBalance   *big.Int
	TotalStaked  *big.Int
	TotalStakers uint64
	Timestamp    uint64
}

// EventType satisfies the Event interface.
func (StakeUnstaked) EventType() string { return TypeStakeUnstaked }

// Event converts the structured payload into a broadcastable event.
func (e StakeUnstaked) Event() *types.Event {
	attrs := map[string]string{
		"addr":         formatAddress(e.Account),
		"amount":       formatAmount(e.Amount),
		"newBalance":   formatAmount(e.NewBalance),
		"totalStaked":  formatAmount(e.TotalStaked),
		"totalStakers": strconv.FormatUint(e.TotalStakers, 10),
	}
	if e.Timestamp > 0 {
		attrs["timestamp"] = strconv.FormatUint(e.Timestamp, 10)
	}
	return &types.Event{Type: TypeStakeUnstaked, Attributes: attrs}
}

// StakeRewardsClaimed captures a reward payout.
type StakeRewardsClaimed struct {
	Account        [20]byte
	Paid           *big.Int
	RewardPerToken *big.Int
	Unallocated    *big.Int
	Timestamp      uint64
}

// EventType satisfies the Event interface.
func (StakeRewardsClaimed) EventType() string { return TypeStakeRewardsClaimed }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardsClaimed) Event() *types.Event {
	attrs := map[string]string{
		"addr":        formatAddress(e.Account),
		"paid":        formatAmount(e.Paid),
		"unallocated": formatAmount(e.Unallocated),
	}
	if e.RewardPerToken != nil {
		attrs["rewardPerToken"] = e.RewardPerToken.String()
	}
	if e.Timestamp > 0 {
		attrs["timestamp"] = strconv.FormatUint(e.Timestamp, 10)
	}
	return &types.Event{Type: TypeStakeRewardsClaimed, Attributes: attrs}
}

// StakePoolUpdated captures a reward pool refresh.
type StakePoolUpdated struct {
	Caller       [20]byte
	Deposited    *big.Int
	Unallocated  *big.Int
	EmissionRate *big.Int
	RatePerToken *big.Int
	Timestamp    uint64
}

// EventType satisfies the Event interface.
func (StakePoolUpdated) EventType() string { return TypeStakePoolUpdated }

// Event converts the structured payload into a broadcastable event.
func (e StakePoolUpdated) Event() *types.Event {
	attrs := map[string]string{
		"deposited":    formatAmount(e.Deposited),
		"unallocated":  formatAmount(e.Unallocated),
		"emissionRate": formatAmount(e.EmissionRate),
		"ratePerToken": formatAmount(e.RatePerToken),
	}
	if !zeroAddress(e.Caller) {
		attrs["caller"] = formatAddress(e.Caller)
	}
	if e.Timestamp > 0 {
		attrs["timestamp"] = strconv.FormatUint(e.Timestamp, 10)
	}
	return &types.Event{Type: TypeStakePoolUpdated, Attributes: attrs}
}

// StakePoolDepleted indicates the pool could not fund the full emission.
type StakePoolDepleted struct {
	Attempted *big.Int
	Emitted   *big.Int
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (StakePoolDepleted) EventType() string { return TypeStakePoolDepleted }

// Event converts the structured payload into a broadcastable event.
func (e StakePoolDepleted) Event() *types.Event {
	attrs := map[string]string{
		"attempted": formatAmount(e.Attempted),
		"emitted":   formatAmount(e.Emitted),
	}
	if e.Timestamp > 0 {
		attrs["timestamp"] = strconv.FormatUint(e.Timestamp, 10)
	}
	return &types.Event{Type: TypeStakePoolDepleted, Attributes: attrs}
}
