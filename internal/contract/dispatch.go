package contract

import (
	"fmt"
	"sort"
)

// Contract is a deployed instance held in ledger state. Clone must return a
// deep copy; the ledger clones instances to snapshot world state.
type Contract interface {
	Code() string
	Clone() Contract
}

// Constructor builds a new instance. env.Self() is already the instance's
// address and env.Caller() is the deployer.
type Constructor func(env Env, args Args) (Contract, error)

// Codebook maps deployable code names to constructors.
type Codebook map[string]Constructor

// Builtin returns the codebook with both implementation versions and the
// factory.
func Builtin() Codebook {
	return Codebook{
		CodeV1:      NewV1,
		CodeV2:      NewV2,
		CodeFactory: NewFactory,
	}
}

func (c Codebook) Names() []string {
	out := make([]string, 0, len(c))
	for name := range c {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

const (
	MethodGetState        = "get_state"
	MethodGetVersion      = "get_version"
	MethodIncreaseCounter = "increase_counter"
	MethodDecreaseCounter = "decrease_counter"
	MethodReplaceContract = "replace_contract"
	MethodAcceptMigration = "accept_migration"
	MethodGetContract     = "get_contract"
	MethodGetOwner        = "get_owner"
	MethodChangeContract  = "change_contract"
)

type entryPoint struct {
	readOnly bool
	invoke   func(c Contract, env Env, args Args) (any, bool, error)
}

// Each invoke reports ok=false when c lacks the capability.
var entryPoints = map[string]entryPoint{
	MethodGetState: {readOnly: true, invoke: func(c Contract, _ Env, _ Args) (any, bool, error) {
		impl, ok := c.(Implementation)
		if !ok {
			return nil, false, nil
		}
		return impl.State(), true, nil
	}},
	MethodGetVersion: {readOnly: true, invoke: func(c Contract, _ Env, _ Args) (any, bool, error) {
		impl, ok := c.(Implementation)
		if !ok {
			return nil, false, nil
		}
		return impl.Version(), true, nil
	}},
	MethodIncreaseCounter: {invoke: func(c Contract, env Env, _ Args) (any, bool, error) {
		impl, ok := c.(Implementation)
		if !ok {
			return nil, false, nil
		}
		return nil, true, impl.IncreaseCounter(env)
	}},
	MethodDecreaseCounter: {invoke: func(c Contract, env Env, args Args) (any, bool, error) {
		d, ok := c.(Decrementer)
		if !ok {
			return nil, false, nil
		}
		n, err := args.Uint64(0)
		if err != nil {
			return nil, true, err
		}
		return nil, true, d.DecreaseCounter(env, n)
	}},
	MethodReplaceContract: {invoke: func(c Contract, env Env, args Args) (any, bool, error) {
		impl, ok := c.(Implementation)
		if !ok {
			return nil, false, nil
		}
		// The caller check comes before argument decoding so that an
		// outsider learns nothing beyond "not the factory".
		if !env.Caller().Same(impl.Factory()) {
			return nil, true, ErrNotFactory
		}
		next, err := args.Address(0)
		if err != nil {
			return nil, true, err
		}
		st, err := impl.ReplaceContract(env, next)
		if err != nil {
			return nil, true, err
		}
		return st, true, nil
	}},
	MethodAcceptMigration: {invoke: func(c Contract, env Env, args Args) (any, bool, error) {
		m, ok := c.(Migratable)
		if !ok {
			return nil, false, nil
		}
		seed, err := args.State(0)
		if err != nil {
			return nil, true, err
		}
		return nil, true, m.AcceptMigration(env, seed)
	}},
	MethodGetContract: {readOnly: true, invoke: func(c Contract, _ Env, _ Args) (any, bool, error) {
		r, ok := c.(Registry)
		if !ok {
			return nil, false, nil
		}
		return r.Current(), true, nil
	}},
	MethodGetOwner: {readOnly: true, invoke: func(c Contract, _ Env, _ Args) (any, bool, error) {
		r, ok := c.(Registry)
		if !ok {
			return nil, false, nil
		}
		return r.Owner(), true, nil
	}},
	MethodChangeContract: {invoke: func(c Contract, env Env, args Args) (any, bool, error) {
		r, ok := c.(Registry)
		if !ok {
			return nil, false, nil
		}
		if !env.Caller().Same(r.Owner()) {
			return nil, true, ErrNotOwner
		}
		next, err := args.Address(0)
		if err != nil {
			return nil, true, err
		}
		return nil, true, r.ChangeContract(env, next)
	}},
}

// Invoke runs method on c.
func Invoke(c Contract, env Env, method string, args Args) (any, error) {
	ep, ok := entryPoints[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntryPoint, method)
	}
	out, supported, err := ep.invoke(c, env, args)
	if !supported {
		return nil, fmt.Errorf("%w: %s has no %s", ErrUnknownEntryPoint, c.Code(), method)
	}
	return out, err
}

// IsReadOnly reports whether method never mutates state.
func IsReadOnly(method string) bool {
	return entryPoints[method].readOnly
}

// Methods lists the entry points c supports.
func Methods(c Contract) []string {
	var out []string
	for name := range entryPoints {
		if supports(c, name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func supports(c Contract, method string) bool {
	switch method {
	case MethodGetState, MethodGetVersion, MethodIncreaseCounter, MethodReplaceContract:
		_, ok := c.(Implementation)
		return ok
	case MethodDecreaseCounter:
		_, ok := c.(Decrementer)
		return ok
	case MethodAcceptMigration:
		_, ok := c.(Migratable)
		return ok
	case MethodGetContract, MethodGetOwner, MethodChangeContract:
		_, ok := c.(Registry)
		return ok
	}
	return false
}
