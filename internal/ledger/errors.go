package ledger

import (
	"context"
	"errors"

	"upgradereg/internal/address"
	"upgradereg/internal/contract"
)

var (
	ErrUnknownContract     = errors.New("unknown contract")
	ErrUnknownCode         = errors.New("unknown code")
	ErrUnknownAccount      = errors.New("unknown account")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceOverflow     = errors.New("balance overflow")
	ErrCallDepthExceeded   = errors.New("call depth exceeded")
	ErrNoSnapshot          = errors.New("no snapshot")
)

// ErrorKind names the failure class of err for metrics and API responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, contract.ErrNotOwner):
		return "not_owner"
	case errors.Is(err, contract.ErrNotFactory):
		return "not_factory"
	case errors.Is(err, contract.ErrAlreadyReplaced):
		return "already_replaced"
	case errors.Is(err, contract.ErrAlreadySeeded):
		return "already_seeded"
	case errors.Is(err, contract.ErrUnderflow):
		return "underflow"
	case errors.Is(err, contract.ErrOverflow):
		return "overflow"
	case errors.Is(err, contract.ErrUnknownEntryPoint):
		return "unknown_entry_point"
	case errors.Is(err, contract.ErrInvalidArgument), errors.Is(err, address.ErrInvalidAddress):
		return "invalid_argument"
	case errors.Is(err, ErrUnknownContract):
		return "unknown_contract"
	case errors.Is(err, ErrUnknownCode):
		return "unknown_code"
	case errors.Is(err, ErrUnknownAccount):
		return "unknown_account"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrBalanceOverflow):
		return "balance_overflow"
	case errors.Is(err, ErrCallDepthExceeded):
		return "call_depth_exceeded"
	case errors.Is(err, ErrNoSnapshot):
		return "no_snapshot"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
