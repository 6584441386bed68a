package errors

import stderrors "errors"

var (
	ErrInvalidAmount      = stderrors.New("stake: amount must be positive")
	ErrInsufficientStake  = stderrors.New("stake: amount exceeds staked balance")
	ErrArithmeticOverflow = stderrors.New("stake: arithmetic overflow")
	ErrLedgerImbalance    = stderrors.New("stake: custody balance below tracked liabilities")
	ErrInvalidState       = stderrors.New("stake: invalid ledger state")
	ErrNotConfigured      = stderrors.New("stake: ledger not configured")
)
