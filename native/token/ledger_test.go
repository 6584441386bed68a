package token

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	coreerrors "stakeledger/core/errors"
	"stakeledger/core/events"
)

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func TestTransferConservesSupply(t *testing.T) {
	ledger := NewLedger("stk")
	alice, bob := addr(1), addr(2)
	if err := ledger.Mint(alice, uint256.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(alice, bob, uint256.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := ledger.BalanceOf(alice); got.Uint64() != 600 {
		t.Fatalf("alice balance: got %s want 600", got.Dec())
	}
	if got := ledger.BalanceOf(bob); got.Uint64() != 400 {
		t.Fatalf("bob balance: got %s want 400", got.Dec())
	}
	if got := ledger.TotalSupply(); got.Uint64() != 1_000 {
		t.Fatalf("supply changed: %s", got.Dec())
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	ledger := NewLedger("STK")
	alice, bob := addr(1), addr(2)
	if err := ledger.Mint(alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := ledger.Transfer(alice, bob, uint256.NewInt(11))
	if !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if ledger.BalanceOf(alice).Uint64() != 10 || !ledger.BalanceOf(bob).IsZero() {
		t.Fatalf("balances mutated on failure")
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	ledger := NewLedger("STK")
	owner, spender, sink := addr(1), addr(2), addr(3)
	if err := ledger.Mint(owner, uint256.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.TransferFrom(spender, owner, sink, uint256.NewInt(100)); !errors.Is(err, coreerrors.ErrInsufficientAllowance) {
		t.Fatalf("expected allowance failure without approval, got %v", err)
	}
	if err := ledger.Approve(owner, spender, uint256.NewInt(150)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom(spender, owner, sink, uint256.NewInt(100)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if got := ledger.Allowance(owner, spender); got.Uint64() != 50 {
		t.Fatalf("remaining allowance: got %s want 50", got.Dec())
	}
	if err := ledger.TransferFrom(spender, owner, sink, uint256.NewInt(51)); !errors.Is(err, coreerrors.ErrInsufficientAllowance) {
		t.Fatalf("expected allowance failure, got %v", err)
	}
	if ledger.BalanceOf(sink).Uint64() != 100 {
		t.Fatalf("sink balance: %s", ledger.BalanceOf(sink).Dec())
	}
}

func TestTransferFromBalanceCheckedAfterAllowance(t *testing.T) {
	ledger := NewLedger("STK")
	owner, spender := addr(1), addr(2)
	if err := ledger.Approve(owner, spender, uint256.NewInt(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	err := ledger.TransferFrom(spender, owner, spender, uint256.NewInt(100))
	if !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if ledger.Allowance(owner, spender).Uint64() != 100 {
		t.Fatalf("allowance consumed on failure")
	}
}

func TestUnlimitedAllowanceNotDecremented(t *testing.T) {
	ledger := NewLedger("STK")
	owner, spender := addr(1), addr(2)
	if err := ledger.Mint(owner, uint256.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Approve(owner, spender, new(uint256.Int).SetAllOne()); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom(spender, owner, spender, uint256.NewInt(10)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if !ledger.Allowance(owner, spender).Eq(new(uint256.Int).SetAllOne()) {
		t.Fatalf("unlimited allowance was decremented")
	}
}

func TestMintOverflow(t *testing.T) {
	ledger := NewLedger("STK")
	if err := ledger.Mint(addr(1), new(uint256.Int).SetAllOne()); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Mint(addr(2), uint256.NewInt(1)); !errors.Is(err, coreerrors.ErrTokenOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestLedgerEmitsTransfers(t *testing.T) {
	ledger := NewLedger("STK")
	rec := &events.Recorder{}
	ledger.SetEmitter(rec)
	if err := ledger.Mint(addr(1), uint256.NewInt(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(addr(1), addr(2), uint256.NewInt(5)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	got := rec.Events()
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	supply := events.Render(got[1])
	if supply.Type != events.TypeTokenSupply || supply.Attributes["supply"] != "5" || supply.Attributes["minted"] != "5" {
		t.Fatalf("unexpected supply event %+v", supply)
	}
	rendered := events.Render(got[2])
	if rendered.Type != events.TypeTransfer || rendered.Attributes["amount"] != "5" {
		t.Fatalf("unexpected event %+v", rendered)
	}
}

func TestExportRestore(t *testing.T) {
	ledger := NewLedger("STK")
	if err := ledger.Mint(addr(1), uint256.NewInt(70)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Mint(addr(2), uint256.NewInt(30)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Approve(addr(1), addr(9), uint256.NewInt(12)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	state := ledger.Export()

	restored := NewLedger("")
	if err := restored.Restore(state); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Symbol() != "STK" {
		t.Fatalf("symbol: %q", restored.Symbol())
	}
	if restored.BalanceOf(addr(1)).Uint64() != 70 || restored.BalanceOf(addr(2)).Uint64() != 30 {
		t.Fatalf("balances not restored")
	}
	if restored.Allowance(addr(1), addr(9)).Uint64() != 12 {
		t.Fatalf("allowance not restored")
	}

	state.TotalSupply = "99"
	if err := NewLedger("").Restore(state); err == nil {
		t.Fatalf("expected supply mismatch to fail")
	}
}
