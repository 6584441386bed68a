package errors

import stderrors "errors"

var (
	ErrInsufficientBalance   = stderrors.New("token: insufficient balance")
	ErrInsufficientAllowance = stderrors.New("token: insufficient allowance")
	ErrTokenOverflow         = stderrors.New("token: balance overflow")
)
