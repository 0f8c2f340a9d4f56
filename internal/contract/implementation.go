package contract

import (
	"fmt"
	"math"

	"upgradereg/internal/address"
)

// Status is the lifecycle of an implementation instance. Replaced is terminal.
type Status uint8

const (
	Active Status = iota
	Replaced
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Replaced:
		return "replaced"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// State is what get_state reports and what a retired instance hands to its
// successor.
type State struct {
	Counter  uint64 `json:"counter"`
	Replaced bool   `json:"replaced"`
}

// Implementation is the capability set every version exposes.
type Implementation interface {
	Contract
	Factory() address.Address
	Version() string
	Status() Status
	State() State
	IncreaseCounter(env Env) error
	ReplaceContract(env Env, successor address.Address) (State, error)
}

// Decrementer is implemented by versions that can lower the counter.
type Decrementer interface {
	DecreaseCounter(env Env, n uint64) error
}

// Migratable is implemented by versions that can inherit a predecessor's
// state. The seed is accepted once, while active, from the factory or, for an
// instance deployed without one, from a registry owned by its deployer.
type Migratable interface {
	AcceptMigration(env Env, seed State) error
}

// core carries the state and rules shared by every version. Versions embed it
// and add their own entry points on top.
type core struct {
	factory address.Address
	counter uint64
	status  Status
	seeded  bool
	// unbound means factory is the deploying account, not a registry.
	unbound bool
}

func newCore(env Env, args Args) (core, error) {
	counter, err := args.Uint64(0)
	if err != nil {
		return core{}, err
	}
	if args.Len() > 1 {
		factory, err := args.Address(1)
		if err != nil {
			return core{}, err
		}
		return core{factory: factory, counter: counter, status: Active}, nil
	}
	return core{factory: env.Caller(), counter: counter, status: Active, unbound: true}, nil
}

func (c *core) Factory() address.Address { return c.factory }

func (c *core) Status() Status { return c.status }

func (c *core) State() State {
	return State{Counter: c.counter, Replaced: c.status == Replaced}
}

func (c *core) active() error {
	if c.status == Replaced {
		return ErrAlreadyReplaced
	}
	return nil
}

func (c *core) IncreaseCounter(env Env) error {
	if err := c.active(); err != nil {
		return err
	}
	if c.counter == math.MaxUint64 {
		return ErrOverflow
	}
	c.counter++
	return nil
}

func (c *core) ReplaceContract(env Env, successor address.Address) (State, error) {
	if !env.Caller().Same(c.factory) {
		return State{}, ErrNotFactory
	}
	if err := c.active(); err != nil {
		return State{}, err
	}
	if successor.IsZero() {
		return State{}, fmt.Errorf("%w: empty successor", ErrInvalidArgument)
	}
	snapshot := c.State()
	c.status = Replaced
	if bal := env.Balance(env.Self()); bal > 0 {
		if err := env.Transfer(successor, bal); err != nil {
			return State{}, fmt.Errorf("forward balance: %w", err)
		}
	}
	return snapshot, nil
}

func (c *core) AcceptMigration(env Env, seed State) error {
	if !env.Caller().Same(c.factory) {
		if c.seeded || c.status == Replaced || !c.ownedByDeployer(env) {
			return ErrNotFactory
		}
		c.factory = env.Caller()
		c.unbound = false
	}
	if err := c.active(); err != nil {
		return err
	}
	if c.seeded {
		return ErrAlreadySeeded
	}
	c.counter = seed.Counter
	c.seeded = true
	return nil
}

// ownedByDeployer reports whether the caller is a registry whose owner is the
// account that deployed this unbound instance.
func (c *core) ownedByDeployer(env Env) bool {
	if !c.unbound {
		return false
	}
	out, err := env.Call(env.Caller(), MethodGetOwner)
	if err != nil {
		return false
	}
	owner, ok := out.(address.Address)
	return ok && owner.Same(c.factory)
}
