// Package ledger is a single-node development ledger: it holds balances and
// contract instances, runs every transaction atomically under one lock, and
// journals committed transactions so a restarted node can replay them.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"upgradereg/internal/address"
	"upgradereg/internal/contract"
	"upgradereg/internal/model"
)

const defaultMaxCallDepth = 32

// Journal persists committed transactions. It is called with the ledger lock
// held, so implementations see transactions in commit order.
type Journal interface {
	Append(tx model.Transaction) error
}

// Recorder receives per-transaction observations.
type Recorder interface {
	ObserveTransaction(kind, method, outcome string, d time.Duration)
	SetContracts(n int)
	Journaled()
}

type Genesis struct {
	Accounts []address.Address
	Balance  uint64
}

type Options struct {
	Codes        contract.Codebook
	Journal      Journal
	Recorder     Recorder
	Logger       *slog.Logger
	MaxCallDepth int
}

type Ledger struct {
	mu        sync.Mutex
	world     *world
	snapshots []*world
	accounts  []address.Address

	codes    contract.Codebook
	journal  Journal
	recorder Recorder
	log      *slog.Logger
	maxDepth int
}

// ContractInfo describes a deployed instance.
type ContractInfo struct {
	Address address.Address `json:"address"`
	Code    string          `json:"code"`
	Methods []string        `json:"methods"`
	Balance uint64          `json:"balance"`
}

func New(genesis Genesis, opts Options) *Ledger {
	if opts.Codes == nil {
		opts.Codes = contract.Builtin()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.MaxCallDepth <= 0 {
		opts.MaxCallDepth = defaultMaxCallDepth
	}

	w := newWorld()
	accounts := make([]address.Address, 0, len(genesis.Accounts))
	for _, a := range genesis.Accounts {
		if w.accounts[a.Key()] {
			continue
		}
		w.accounts[a.Key()] = true
		w.balances[a.Key()] = genesis.Balance
		accounts = append(accounts, a)
	}

	return &Ledger{
		world:    w,
		accounts: accounts,
		codes:    opts.Codes,
		journal:  opts.Journal,
		recorder: opts.Recorder,
		log:      opts.Logger,
		maxDepth: opts.MaxCallDepth,
	}
}

// Deploy creates an instance of code, funded with amount from caller.
func (l *Ledger) Deploy(ctx context.Context, caller address.Address, code string, amount uint64, args contract.Args) (address.Address, error) {
	out, err := l.execute(ctx, model.Transaction{
		Kind:   model.DEPLOY,
		Caller: caller.String(),
		Code:   code,
		Amount: amount,
		Args:   args,
	})
	if err != nil {
		return "", err
	}
	return out.(address.Address), nil
}

// Call invokes method on target as caller, after moving amount from caller
// to target.
func (l *Ledger) Call(ctx context.Context, caller, target address.Address, method string, amount uint64, args contract.Args) (any, error) {
	return l.execute(ctx, model.Transaction{
		Kind:   model.CALL,
		Caller: caller.String(),
		Target: target.String(),
		Method: method,
		Amount: amount,
		Args:   args,
	})
}

func (l *Ledger) Spend(ctx context.Context, caller, to address.Address, amount uint64) error {
	_, err := l.execute(ctx, model.Transaction{
		Kind:   model.SPEND,
		Caller: caller.String(),
		Target: to.String(),
		Amount: amount,
	})
	return err
}

// Snapshot saves the current state and returns the snapshot depth.
func (l *Ledger) Snapshot(ctx context.Context) (int, error) {
	out, err := l.execute(ctx, model.Transaction{Kind: model.SNAPSHOT})
	if err != nil {
		return 0, err
	}
	return out.(int), nil
}

// Rollback restores the most recent snapshot. The snapshot is kept, so
// repeated rollbacks return to the same point.
func (l *Ledger) Rollback(ctx context.Context) error {
	_, err := l.execute(ctx, model.Transaction{Kind: model.ROLLBACK})
	return err
}

func (l *Ledger) Balance(a address.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.world.balance(a)
}

func (l *Ledger) Accounts() []address.Address {
	return append([]address.Address(nil), l.accounts...)
}

func (l *Ledger) Contract(a address.Address) (ContractInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.world.contract(a)
	if err != nil {
		return ContractInfo{}, err
	}
	return ContractInfo{
		Address: a.AsContract(),
		Code:    c.Code(),
		Methods: contract.Methods(c),
		Balance: l.world.balance(a),
	}, nil
}

func (l *Ledger) Codes() []string {
	return l.codes.Names()
}

// Replay applies journaled transactions without journaling them again.
// A transaction that fails is skipped and logged; it was committed once, so a
// failure here means the journal and the codebook disagree.
func (l *Ledger) Replay(ctx context.Context, txs []model.Transaction) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	applied := 0
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		pre := l.world.clone()
		preSnaps := len(l.snapshots)
		if _, err := l.apply(tx); err != nil {
			l.world = pre
			l.snapshots = l.snapshots[:preSnaps]
			l.log.Warn("replay skipped transaction", "seq", tx.Sequence, "id", tx.ID, "kind", tx.Kind.String(), "error", err)
			continue
		}
		applied++
	}
	l.observeContracts()
	l.log.Info("replayed journal", "applied", applied, "total", len(txs))
	return applied, nil
}

func (l *Ledger) execute(ctx context.Context, tx model.Transaction) (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	tx.ID = uuid.NewString()
	mutating := mutates(tx)

	var pre *world
	preSnaps := len(l.snapshots)
	if mutating {
		pre = l.world.clone()
	}

	out, err := l.apply(tx)
	if err == nil && mutating && l.journal != nil {
		if jerr := l.journal.Append(tx); jerr != nil {
			err = fmt.Errorf("journal %s: %w", tx.ID, jerr)
		} else if l.recorder != nil {
			l.recorder.Journaled()
		}
	}
	if err != nil && mutating {
		l.world = pre
		l.snapshots = l.snapshots[:preSnaps]
	}

	if l.recorder != nil {
		l.recorder.ObserveTransaction(tx.Kind.String(), tx.Method, ErrorKind(err), time.Since(start))
	}
	if err != nil {
		l.log.Debug("transaction aborted", "id", tx.ID, "kind", tx.Kind.String(), "method", tx.Method, "caller", tx.Caller, "target", tx.Target, "error", err)
		return nil, err
	}
	if mutating {
		l.observeContracts()
		l.log.Debug("transaction committed", "id", tx.ID, "kind", tx.Kind.String(), "method", tx.Method, "caller", tx.Caller, "target", tx.Target)
	}
	return out, nil
}

func mutates(tx model.Transaction) bool {
	if tx.Kind != model.CALL {
		return true
	}
	return tx.Amount > 0 || !contract.IsReadOnly(tx.Method)
}

func (l *Ledger) apply(tx model.Transaction) (any, error) {
	caller := address.Address(tx.Caller)
	target := address.Address(tx.Target)

	switch tx.Kind {
	case model.DEPLOY:
		if err := l.requireAccount(caller); err != nil {
			return nil, err
		}
		return l.deploy(caller, tx.Code, tx.Amount, tx.Args, 0)

	case model.CALL:
		if err := l.requireAccount(caller); err != nil {
			return nil, err
		}
		if _, err := l.world.contract(target); err != nil {
			return nil, err
		}
		if err := l.world.transfer(caller, target, tx.Amount); err != nil {
			return nil, err
		}
		return l.call(caller, target, tx.Method, tx.Args, 0)

	case model.SPEND:
		if err := l.requireAccount(caller); err != nil {
			return nil, err
		}
		return nil, l.world.transfer(caller, target, tx.Amount)

	case model.SNAPSHOT:
		l.snapshots = append(l.snapshots, l.world.clone())
		return len(l.snapshots), nil

	case model.ROLLBACK:
		if len(l.snapshots) == 0 {
			return nil, ErrNoSnapshot
		}
		l.world = l.snapshots[len(l.snapshots)-1].clone()
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported transaction kind %d", tx.Kind)
	}
}

func (l *Ledger) requireAccount(a address.Address) error {
	if a.IsContract() || !l.world.accounts[a.Key()] {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, a)
	}
	return nil
}

func (l *Ledger) deploy(deployer address.Address, code string, amount uint64, args contract.Args, depth int) (address.Address, error) {
	if depth > l.maxDepth {
		return "", ErrCallDepthExceeded
	}
	ctor, ok := l.codes[code]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCode, code)
	}
	l.world.nonce++
	addr := address.ForContract(deployer, l.world.nonce)
	if err := l.world.transfer(deployer, addr, amount); err != nil {
		return "", err
	}
	c, err := ctor(&frame{l: l, caller: deployer, self: addr, depth: depth}, args)
	if err != nil {
		return "", fmt.Errorf("init %s: %w", code, err)
	}
	l.world.contracts[addr.Key()] = c
	return addr, nil
}

func (l *Ledger) call(caller, target address.Address, method string, args contract.Args, depth int) (any, error) {
	if depth > l.maxDepth {
		return nil, ErrCallDepthExceeded
	}
	c, err := l.world.contract(target)
	if err != nil {
		return nil, err
	}
	return contract.Invoke(c, &frame{l: l, caller: caller, self: target.AsContract(), depth: depth}, method, args)
}

func (l *Ledger) observeContracts() {
	if l.recorder != nil {
		l.recorder.SetContracts(len(l.world.contracts))
	}
}

// frame is the contract.Env of one call. Nested calls and deploys made
// through it run as frame.self.
type frame struct {
	l      *Ledger
	caller address.Address
	self   address.Address
	depth  int
}

func (f *frame) Caller() address.Address { return f.caller }
func (f *frame) Self() address.Address   { return f.self }

func (f *frame) Balance(a address.Address) uint64 {
	return f.l.world.balance(a)
}

func (f *frame) Transfer(to address.Address, amount uint64) error {
	return f.l.world.transfer(f.self, to, amount)
}

func (f *frame) Deploy(code string, amount uint64, args ...any) (address.Address, error) {
	encoded, err := contract.EncodeArgs(args...)
	if err != nil {
		return "", err
	}
	return f.l.deploy(f.self, code, amount, encoded, f.depth+1)
}

func (f *frame) Call(target address.Address, method string, args ...any) (any, error) {
	encoded, err := contract.EncodeArgs(args...)
	if err != nil {
		return nil, err
	}
	return f.l.call(f.self, target, method, encoded, f.depth+1)
}

// EncodeResult renders an entry point result for clients.
func EncodeResult(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(v)
}
