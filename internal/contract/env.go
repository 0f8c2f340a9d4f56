package contract

import (
	"encoding/json"
	"fmt"

	"upgradereg/internal/address"
)

// Env is the call frame the ledger hands to an entry point. Caller is the
// authenticated identity of whoever invoked this frame: an account for a
// top-level transaction, the calling contract for a nested call.
type Env interface {
	Caller() address.Address
	Self() address.Address
	Balance(addr address.Address) uint64
	Transfer(to address.Address, amount uint64) error
	Deploy(code string, amount uint64, args ...any) (address.Address, error)
	Call(target address.Address, method string, args ...any) (any, error)
}

// Args are positional JSON-encoded entry point arguments.
type Args []json.RawMessage

func EncodeArgs(vals ...any) (Args, error) {
	out := make(Args, 0, len(vals))
	for i, v := range vals {
		if raw, ok := v.(json.RawMessage); ok {
			out = append(out, raw)
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode arg %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func (a Args) Len() int { return len(a) }

func (a Args) decode(i int, dst any) error {
	if i >= len(a) {
		return fmt.Errorf("%w: missing argument %d", ErrInvalidArgument, i)
	}
	if err := json.Unmarshal(a[i], dst); err != nil {
		return fmt.Errorf("%w: argument %d: %v", ErrInvalidArgument, i, err)
	}
	return nil
}

func (a Args) Uint64(i int) (uint64, error) {
	var v uint64
	err := a.decode(i, &v)
	return v, err
}

func (a Args) String(i int) (string, error) {
	var v string
	err := a.decode(i, &v)
	return v, err
}

func (a Args) Address(i int) (address.Address, error) {
	s, err := a.String(i)
	if err != nil {
		return "", err
	}
	addr, err := address.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: argument %d: %v", ErrInvalidArgument, i, err)
	}
	return addr, nil
}

func (a Args) State(i int) (State, error) {
	var v State
	err := a.decode(i, &v)
	return v, err
}
