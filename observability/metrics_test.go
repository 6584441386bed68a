package observability

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	coreerrors "stakeledger/core/errors"
)

func TestOutcomeClassifiesSentinels(t *testing.T) {
	require.Equal(t, "success", Outcome(nil))
	require.Equal(t, "invalid_amount", Outcome(coreerrors.ErrInvalidAmount))
	require.Equal(t, "insufficient_allowance", Outcome(fmt.Errorf("stake: %w", coreerrors.ErrInsufficientAllowance)))
	require.Equal(t, "imbalance", Outcome(coreerrors.ErrLedgerImbalance))
	require.Equal(t, "error", Outcome(fmt.Errorf("boom")))
}

func TestLedgerMetricsRecord(t *testing.T) {
	m := Ledger()
	before := testutil.ToFloat64(m.operations.WithLabelValues("stake", "success"))
	m.Observe("stake", 5*time.Millisecond, nil)
	require.Equal(t, before+1, testutil.ToFloat64(m.operations.WithLabelValues("stake", "success")))

	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	staked := new(big.Int).Mul(big.NewInt(250), unit)
	rate := new(big.Int).Mul(unit, unit)
	m.SetPool(staked, 2, new(big.Int).Mul(big.NewInt(10), unit), rate)
	require.InDelta(t, 250, testutil.ToFloat64(m.totalStaked), 1e-9)
	require.InDelta(t, 2, testutil.ToFloat64(m.stakers), 1e-9)
	require.InDelta(t, 1, testutil.ToFloat64(m.emissionRate), 1e-9)

	claimedBefore := testutil.ToFloat64(m.claimed)
	m.AddClaimed(new(big.Int).Mul(big.NewInt(3), unit))
	require.InDelta(t, claimedBefore+3, testutil.ToFloat64(m.claimed), 1e-9)
}

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	before := testutil.ToFloat64(m.errors.WithLabelValues("stake", "stake_stake", "429"))
	m.Observe("stake", "stake_stake", 429, time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(m.errors.WithLabelValues("stake", "stake_stake", "429")))
}

func TestEventMetricsRecord(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.transfers.WithLabelValues("STK"))
	m.RecordTransfer(" stk ")
	require.Equal(t, before+1, testutil.ToFloat64(m.transfers.WithLabelValues("STK")))

	beforeType := testutil.ToFloat64(m.events.WithLabelValues("stake.staked"))
	m.RecordEvent("stake.staked")
	require.Equal(t, beforeType+1, testutil.ToFloat64(m.events.WithLabelValues("stake.staked")))
}
