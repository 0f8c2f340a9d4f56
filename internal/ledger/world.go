package ledger

import (
	"fmt"
	"math"

	"upgradereg/internal/address"
	"upgradereg/internal/contract"
)

// world is the complete ledger state. Transactions mutate it in place; the
// ledger keeps a clone taken before each transaction and swaps it back in on
// failure.
type world struct {
	balances  map[string]uint64
	contracts map[string]contract.Contract
	accounts  map[string]bool
	nonce     uint64
}

func newWorld() *world {
	return &world{
		balances:  map[string]uint64{},
		contracts: map[string]contract.Contract{},
		accounts:  map[string]bool{},
	}
}

func (w *world) clone() *world {
	cp := &world{
		balances:  make(map[string]uint64, len(w.balances)),
		contracts: make(map[string]contract.Contract, len(w.contracts)),
		accounts:  make(map[string]bool, len(w.accounts)),
		nonce:     w.nonce,
	}
	for k, v := range w.balances {
		cp.balances[k] = v
	}
	for k, v := range w.contracts {
		cp.contracts[k] = v.Clone()
	}
	for k, v := range w.accounts {
		cp.accounts[k] = v
	}
	return cp
}

func (w *world) balance(a address.Address) uint64 {
	return w.balances[a.Key()]
}

func (w *world) transfer(from, to address.Address, amount uint64) error {
	if amount == 0 || from.Same(to) {
		return nil
	}
	have := w.balances[from.Key()]
	if have < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, from, have, amount)
	}
	if w.balances[to.Key()] > math.MaxUint64-amount {
		return fmt.Errorf("%w at %s", ErrBalanceOverflow, to)
	}
	w.balances[from.Key()] = have - amount
	w.balances[to.Key()] += amount
	return nil
}

func (w *world) contract(a address.Address) (contract.Contract, error) {
	c, ok := w.contracts[a.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, a)
	}
	return c, nil
}
