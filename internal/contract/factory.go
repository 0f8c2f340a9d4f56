package contract

import (
	"fmt"

	"upgradereg/internal/address"
)

// Registry is the capability set of the factory contract.
type Registry interface {
	Contract
	Owner() address.Address
	Current() address.Address
	ChangeContract(env Env, next address.Address) error
}

// Factory owns the pointer to the active implementation and is the only
// contract allowed to retire it.
type Factory struct {
	owner   address.Address
	current address.Address
}

// NewFactory takes ([bootstrapCode]). The deployer becomes owner and a fresh
// implementation (counter 0) is deployed with the factory as its factory.
// The bootstrap code must answer get_version.
func NewFactory(env Env, args Args) (Contract, error) {
	code := CodeV1
	if args.Len() > 0 {
		s, err := args.String(0)
		if err != nil {
			return nil, err
		}
		code = s
	}
	current, err := env.Deploy(code, 0, uint64(0))
	if err != nil {
		return nil, fmt.Errorf("deploy bootstrap %s: %w", code, err)
	}
	if _, err := env.Call(current, MethodGetVersion); err != nil {
		return nil, fmt.Errorf("bootstrap %s is not an implementation: %w", code, err)
	}
	return &Factory{owner: env.Caller(), current: current}, nil
}

func (f *Factory) Code() string { return CodeFactory }

func (f *Factory) Clone() Contract {
	cp := *f
	return &cp
}

func (f *Factory) Owner() address.Address   { return f.owner }
func (f *Factory) Current() address.Address { return f.current }

// ChangeContract retires the current implementation and points the factory
// at next. Order: freeze old (it forwards its balance), seed next with the
// old state, forward the factory's balance, commit the pointer. The ledger
// rolls every step back if any of them fails.
func (f *Factory) ChangeContract(env Env, next address.Address) error {
	if !env.Caller().Same(f.owner) {
		return ErrNotOwner
	}
	old := f.current

	out, err := env.Call(old, MethodReplaceContract, next)
	if err != nil {
		return fmt.Errorf("freeze %s: %w", old, err)
	}
	inherited, ok := out.(State)
	if !ok {
		return fmt.Errorf("freeze %s: unexpected result %T", old, out)
	}

	if _, err := env.Call(next, MethodAcceptMigration, inherited); err != nil {
		return fmt.Errorf("seed %s: %w", next, err)
	}

	if bal := env.Balance(env.Self()); bal > 0 {
		if err := env.Transfer(next, bal); err != nil {
			return fmt.Errorf("forward factory balance: %w", err)
		}
	}

	f.current = next
	return nil
}
