package contract

import "fmt"

const (
	CodeV1      = "UpgradableContractV1"
	CodeV2      = "UpgradableContractV2"
	CodeFactory = "Factory"
)

// V1 is the bootstrap version: counter increments only.
type V1 struct {
	core
}

// NewV1 takes (counter [, factory]).
func NewV1(env Env, args Args) (Contract, error) {
	c, err := newCore(env, args)
	if err != nil {
		return nil, err
	}
	return &V1{core: c}, nil
}

func (v *V1) Code() string    { return CodeV1 }
func (v *V1) Version() string { return "v1" }

func (v *V1) Clone() Contract {
	cp := *v
	return &cp
}

// V2 adds decrease_counter.
type V2 struct {
	core
}

// NewV2 takes (counter [, factory]).
func NewV2(env Env, args Args) (Contract, error) {
	c, err := newCore(env, args)
	if err != nil {
		return nil, err
	}
	return &V2{core: c}, nil
}

func (v *V2) Code() string    { return CodeV2 }
func (v *V2) Version() string { return "v2" }

func (v *V2) Clone() Contract {
	cp := *v
	return &cp
}

func (v *V2) DecreaseCounter(env Env, n uint64) error {
	if err := v.active(); err != nil {
		return err
	}
	if n > v.counter {
		return fmt.Errorf("%w: %d exceeds %d", ErrUnderflow, n, v.counter)
	}
	v.counter -= n
	return nil
}
