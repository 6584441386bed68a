package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	coreerrors "stakeledger/core/errors"
	"stakeledger/core/events"
	"stakeledger/core/state"
	"stakeledger/journal"
	"stakeledger/native/staking"
	"stakeledger/native/token"
	"stakeledger/observability"
)

// Allocation credits an account at genesis.
type Allocation struct {
	Account [20]byte
	Amount  *big.Int
}

// NodeConfig wires the node's collaborators. Store, Journal and Metrics are
// optional. AllowMigrate tolerates a snapshot schema version mismatch.
type NodeConfig struct {
	TokenSymbol    string
	ModuleAddress  [20]byte
	RewardDuration time.Duration
	Clock          staking.Clock
	Store          *state.Store
	AllowMigrate   bool
	Journal        *journal.Journal
	Metrics        *observability.LedgerMetrics
	Logger         *slog.Logger
}

// Node owns the staking engine and token ledger and makes every committed
// operation durable: after an operation succeeds the combined state is
// snapshotted and its events journaled before the next operation starts.
type Node struct {
	mu       sync.Mutex
	engine   *staking.Engine
	token    *token.Ledger
	recorder *events.Recorder
	store    *state.Store
	journal  *journal.Journal
	metrics  *observability.LedgerMetrics
	logger   *slog.Logger
	clock    staking.Clock
	root     state.Root
	restored bool
	tracer   trace.Tracer
	ops      metric.Int64Counter
	stream   eventStream
}

// NewNode builds the ledger, restoring the latest snapshot when the store
// holds one.
func NewNode(cfg NodeConfig) (*Node, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = staking.SystemClock{}
	}
	module := cfg.ModuleAddress
	if module == ([20]byte{}) {
		module = staking.DefaultModuleAddress()
	}

	recorder := &events.Recorder{}
	ledger := token.NewLedger(cfg.TokenSymbol)
	ledger.SetEmitter(recorder)
	engine := staking.NewEngine(ledger, module)
	engine.SetClock(clock)
	engine.SetEmitter(recorder)

	ops, err := otel.Meter("stakeledger/core").Int64Counter("stakeledger.ledger.operations",
		metric.WithDescription("Ledger operations by name and outcome."))
	if err != nil {
		return nil, fmt.Errorf("register operation counter: %w", err)
	}

	n := &Node{
		tracer:   otel.Tracer("stakeledger/core"),
		ops:      ops,
		engine:   engine,
		token:    ledger,
		recorder: recorder,
		store:    cfg.Store,
		journal:  cfg.Journal,
		metrics:  cfg.Metrics,
		logger:   logger.With(slog.String("component", "node")),
		clock:    clock,
	}
	if err := n.restore(cfg.AllowMigrate); err != nil {
		return nil, err
	}
	if cfg.RewardDuration > 0 {
		if err := engine.SetRewardDuration(cfg.RewardDuration); err != nil {
			return nil, err
		}
	}
	n.publishPool()
	return n, nil
}

func (n *Node) restore(allowMigrate bool) error {
	if n.store == nil {
		return nil
	}
	if err := n.store.EnsureStateVersion(allowMigrate); err != nil {
		return err
	}
	snap, root, err := n.store.Load()
	if errors.Is(err, state.ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := n.token.Restore(snap.Token); err != nil {
		return fmt.Errorf("restore token ledger: %w", err)
	}
	if err := n.engine.Restore(snap.Staking); err != nil {
		return fmt.Errorf("restore staking ledger: %w", err)
	}
	n.root = root
	n.restored = true
	n.logger.Info("restored ledger snapshot",
		slog.Uint64("sequence", snap.Sequence),
		slog.String("root", root.Hex()))
	return nil
}

// ApplyGenesis mints the allocations into a fresh ledger. It is a no-op when
// state was restored from a snapshot or tokens already exist.
func (n *Node) ApplyGenesis(ctx context.Context, allocs []Allocation) error {
	n.mu.Lock()
	applied := !n.restored && n.token.TotalSupply().IsZero()
	n.mu.Unlock()
	if !applied || len(allocs) == 0 {
		return nil
	}
	amounts := make([]*uint256.Int, len(allocs))
	for i, alloc := range allocs {
		amount, err := tokenAmount(alloc.Amount, false)
		if err != nil {
			return fmt.Errorf("genesis allocation %d (%s): %w", i, alloc.Amount, err)
		}
		amounts[i] = amount
	}
	return n.run(ctx, "genesis", func() error {
		for i, alloc := range allocs {
			if err := n.token.Mint(alloc.Account, amounts[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stake moves amount of caller's approved tokens into the ledger.
func (n *Node) Stake(ctx context.Context, caller [20]byte, amount *big.Int) error {
	return n.run(ctx, "stake", func() error {
		return n.engine.Stake(caller, amount)
	})
}

// Unstake returns principal to caller.
func (n *Node) Unstake(ctx context.Context, caller [20]byte, amount *big.Int) error {
	return n.run(ctx, "unstake", func() error {
		return n.engine.Unstake(caller, amount)
	})
}

// UpdateRewardPool starts streaming any newly deposited reward tokens.
func (n *Node) UpdateRewardPool(ctx context.Context, caller [20]byte) (*big.Int, error) {
	var deposited *big.Int
	err := n.run(ctx, "update_reward_pool", func() error {
		var err error
		deposited, err = n.engine.UpdateRewardPool(caller)
		return err
	})
	return deposited, err
}

// ClaimReward pays caller's accrued rewards.
func (n *Node) ClaimReward(ctx context.Context, caller [20]byte) (*big.Int, error) {
	var paid *big.Int
	err := n.run(ctx, "claim_reward", func() error {
		var err error
		paid, err = n.engine.ClaimReward(caller)
		return err
	})
	if err == nil {
		n.metrics.AddClaimed(paid)
	}
	return paid, err
}

// Approve sets the allowance owner grants spender.
func (n *Node) Approve(ctx context.Context, owner, spender [20]byte, amount *big.Int) error {
	amt, err := tokenAmount(amount, true)
	if err != nil {
		return err
	}
	return n.run(ctx, "approve", func() error {
		return n.token.Approve(owner, spender, amt)
	})
}

// Transfer moves tokens between accounts. Sending to the module address is
// how reward deposits are made.
func (n *Node) Transfer(ctx context.Context, from, to [20]byte, amount *big.Int) error {
	amt, err := tokenAmount(amount, false)
	if err != nil {
		return err
	}
	return n.run(ctx, "transfer", func() error {
		return n.token.Transfer(from, to, amt)
	})
}

// Position reports the staking view of addr.
func (n *Node) Position(addr [20]byte) (staking.Position, error) {
	return n.engine.Position(addr)
}

// StakeBalance returns the principal staked by addr.
func (n *Node) StakeBalance(addr [20]byte) *big.Int {
	return n.engine.StakeBalance(addr)
}

// Totals reports the global pool accounting.
func (n *Node) Totals() staking.Totals {
	return n.engine.Totals()
}

// RewardRates returns the per-token emission rate and the accumulator as of
// now.
func (n *Node) RewardRates() (rate *big.Int, accumulator *big.Int, err error) {
	accumulator, err = n.engine.RewardPerToken()
	if err != nil {
		return nil, nil, err
	}
	rate, err = n.engine.CalculateRewardPerToken()
	if err != nil {
		return nil, nil, err
	}
	return rate, accumulator, nil
}

// TokenBalance returns the wallet balance of addr.
func (n *Node) TokenBalance(addr [20]byte) *big.Int {
	return n.token.BalanceOf(addr).ToBig()
}

// Allowance returns what spender may still pull from owner.
func (n *Node) Allowance(owner, spender [20]byte) *big.Int {
	return n.token.Allowance(owner, spender).ToBig()
}

// TokenSymbol returns the ticker of the staked token.
func (n *Node) TokenSymbol() string { return n.token.Symbol() }

// ModuleAddress returns the ledger's custody account.
func (n *Node) ModuleAddress() [20]byte { return n.engine.ModuleAddress() }

// Root returns the digest of the last persisted snapshot.
func (n *Node) Root() state.Root {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.root
}

// History returns journaled entries, newest first.
func (n *Node) History(ctx context.Context, account string, limit int) ([]journal.Entry, error) {
	if n.journal == nil {
		return []journal.Entry{}, nil
	}
	return n.journal.History(ctx, account, limit)
}

func (n *Node) run(ctx context.Context, op string, fn func() error) error {
	ctx, span := n.tracer.Start(ctx, "ledger."+op)
	defer span.End()
	start := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()

	err := fn()
	evs := n.recorder.Drain()
	var entries []journal.Entry
	if err == nil {
		entries, err = n.persistLocked(ctx, evs)
	}
	outcome := observability.Outcome(err)
	n.metrics.Observe(op, time.Since(start), err)
	n.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome)))
	span.SetAttributes(attribute.Int("events", len(evs)), attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		n.logger.Warn("ledger operation failed",
			slog.String("operation", op),
			slog.String("outcome", outcome),
			slog.Any("error", err))
		return err
	}
	n.publishPool()
	n.publishEntries(entries)
	for _, ev := range evs {
		observability.Events().RecordEvent(ev.EventType())
		if transfer, ok := ev.(events.Transfer); ok {
			observability.Events().RecordTransfer(transfer.Asset)
		}
	}
	n.logger.Info("ledger operation committed",
		slog.String("operation", op),
		slog.Int("events", len(evs)),
		slog.String("root", n.root.Hex()))
	return nil
}

func (n *Node) persistLocked(ctx context.Context, evs []events.Event) ([]journal.Entry, error) {
	if n.store != nil {
		root, err := n.store.Save(state.Snapshot{
			TakenAt: n.clock.Now().Unix(),
			Staking: n.engine.Export(),
			Token:   n.token.Export(),
		})
		if err != nil {
			return nil, fmt.Errorf("persist snapshot: %w", err)
		}
		n.root = root
	}
	if n.journal == nil {
		return n.streamEntries(evs), nil
	}
	entries, err := n.journal.Append(ctx, evs)
	if err != nil {
		return nil, fmt.Errorf("journal events: %w", err)
	}
	return entries, nil
}

func (n *Node) publishPool() {
	totals := n.engine.Totals()
	n.metrics.SetPool(totals.TotalStaked, totals.TotalStakers, totals.Unallocated, totals.EmissionRate)
}

func tokenAmount(v *big.Int, allowZero bool) (*uint256.Int, error) {
	if v == nil || v.Sign() < 0 || (!allowZero && v.Sign() == 0) {
		return nil, coreerrors.ErrInvalidAmount
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, coreerrors.ErrTokenOverflow
	}
	return out, nil
}
