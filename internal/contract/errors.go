package contract

import "errors"

// Entry points fail with one of these; the ledger aborts the whole transaction
// on any of them.
var (
	ErrNotOwner          = errors.New("not the owner")
	ErrNotFactory        = errors.New("not the factory")
	ErrAlreadyReplaced   = errors.New("already replaced")
	ErrAlreadySeeded     = errors.New("already seeded")
	ErrUnderflow         = errors.New("counter underflow")
	ErrOverflow          = errors.New("counter overflow")
	ErrUnknownEntryPoint = errors.New("unknown entry point")
	ErrInvalidArgument   = errors.New("invalid argument")
)
