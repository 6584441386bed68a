package observability

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coreerrors "stakeledger/core/errors"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakeledger",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LedgerMetrics tracks staking ledger operations and pool levels.
type LedgerMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	totalStaked  prometheus.Gauge
	stakers      prometheus.Gauge
	unallocated  prometheus.Gauge
	emissionRate prometheus.Gauge
	claimed      prometheus.Counter
}

// Ledger returns the singleton metrics registry for the staking ledger.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Count of ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakeledger",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations including persistence.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakeledger",
				Subsystem: "ledger",
				Name:      "total_staked_tokens",
				Help:      "Total staked principal in whole tokens.",
			}),
			stakers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakeledger",
				Subsystem: "ledger",
				Name:      "stakers",
				Help:      "Number of accounts with a positive stake.",
			}),
			unallocated: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakeledger",
				Subsystem: "ledger",
				Name:      "unallocated_reward_tokens",
				Help:      "Reward tokens held by the ledger and not yet paid, in whole tokens.",
			}),
			emissionRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakeledger",
				Subsystem: "ledger",
				Name:      "emission_rate_tokens_per_second",
				Help:      "Current reward emission in whole tokens per second.",
			}),
			claimed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "ledger",
				Name:      "rewards_claimed_tokens_total",
				Help:      "Cumulative rewards paid out in whole tokens.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.totalStaked,
			ledgerRegistry.stakers,
			ledgerRegistry.unallocated,
			ledgerRegistry.emissionRate,
			ledgerRegistry.claimed,
		)
	})
	return ledgerRegistry
}

// Observe records the outcome of a ledger operation.
func (m *LedgerMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	m.operations.WithLabelValues(op, Outcome(err)).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// SetPool publishes the current pool levels. Amounts are in base units with 18
// decimals; the emission rate carries an additional 1e18 scale.
func (m *LedgerMetrics) SetPool(totalStaked *big.Int, stakers uint64, unallocated, emissionRate *big.Int) {
	if m == nil {
		return
	}
	m.totalStaked.Set(scaled(totalStaked, 18))
	m.stakers.Set(float64(stakers))
	m.unallocated.Set(scaled(unallocated, 18))
	m.emissionRate.Set(scaled(emissionRate, 36))
}

// AddClaimed accumulates a reward payout.
func (m *LedgerMetrics) AddClaimed(paid *big.Int) {
	if m == nil || paid == nil || paid.Sign() <= 0 {
		return
	}
	m.claimed.Add(scaled(paid, 18))
}

// Outcome classifies an operation error into a stable label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, coreerrors.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, coreerrors.ErrInsufficientStake):
		return "insufficient_stake"
	case errors.Is(err, coreerrors.ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, coreerrors.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, coreerrors.ErrArithmeticOverflow), errors.Is(err, coreerrors.ErrTokenOverflow):
		return "overflow"
	case errors.Is(err, coreerrors.ErrLedgerImbalance):
		return "imbalance"
	default:
		return "error"
	}
}

func scaled(v *big.Int, decimals int) float64 {
	if v == nil {
		return 0
	}
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(v), divisor).Float64()
	return out
}
