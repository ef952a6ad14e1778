// Package auth decides which addresses may submit batches to the
// settlement.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/ethereum/go-ethereum/common"
)

// ErrNotManager is returned when a non-manager edits the allow list.
var ErrNotManager = errors.New("GPv2: caller not manager")

// Authenticator answers whether an address is currently an allowed solver.
type Authenticator interface {
	IsSolver(ctx context.Context, addr common.Address) (bool, error)
}

// ABI is the allow list contract interface.
var ABI = chain.MustParseABI(`[
	{"type":"function","name":"manager","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"function","name":"setManager","stateMutability":"nonpayable","inputs":[{"name":"manager","type":"address"}],"outputs":[]},
	{"type":"function","name":"addSolver","stateMutability":"nonpayable","inputs":[{"name":"solver","type":"address"}],"outputs":[]},
	{"type":"function","name":"removeSolver","stateMutability":"nonpayable","inputs":[{"name":"solver","type":"address"}],"outputs":[]},
	{"type":"function","name":"isSolver","stateMutability":"view","inputs":[{"name":"prospectiveSolver","type":"address"}],"outputs":[{"type":"bool"}]},
	{"type":"event","name":"ManagerChanged","anonymous":false,"inputs":[{"name":"newManager","type":"address","indexed":false},{"name":"oldManager","type":"address","indexed":false}]},
	{"type":"event","name":"SolverAdded","anonymous":false,"inputs":[{"name":"solver","type":"address","indexed":false}]},
	{"type":"event","name":"SolverRemoved","anonymous":false,"inputs":[{"name":"solver","type":"address","indexed":false}]}
]`)

// AllowList is a manager-controlled solver allow list deployed on the host.
type AllowList struct {
	manager *chain.StorageMap[struct{}, common.Address]
	solvers *chain.StorageMap[common.Address, bool]
}

// NewAllowList creates an allow list administered by manager.
func NewAllowList(j *chain.Journal, manager common.Address) *AllowList {
	a := &AllowList{
		manager: chain.NewStorageMap[struct{}, common.Address](j),
		solvers: chain.NewStorageMap[common.Address, bool](j),
	}
	a.manager.Set(struct{}{}, manager)
	return a
}

// Manager returns the current manager.
func (a *AllowList) Manager() common.Address {
	m, _ := a.manager.Get(struct{}{})
	return m
}

// IsSolver implements Authenticator.
func (a *AllowList) IsSolver(_ context.Context, addr common.Address) (bool, error) {
	ok, _ := a.solvers.Get(addr)
	return ok, nil
}

// AddSolver allow-lists addr directly. It is used at genesis and by tests.
func (a *AllowList) AddSolver(addr common.Address) {
	a.solvers.Set(addr, true)
}

// RemoveSolver removes addr directly.
func (a *AllowList) RemoveSolver(addr common.Address) {
	a.solvers.Delete(addr)
}

// Call dispatches allow list calldata.
func (a *AllowList) Call(ctx context.Context, env *chain.Env) ([]byte, error) {
	m, args, err := chain.UnpackCall(&ABI, env.Input)
	if err != nil {
		return nil, err
	}
	switch m.Name {
	case "manager":
		return m.Outputs.Pack(a.Manager())
	case "isSolver":
		ok, _ := a.IsSolver(ctx, args[0].(common.Address))
		return m.Outputs.Pack(ok)
	}

	if env.Caller != a.Manager() {
		return nil, chain.NewRevert(ErrNotManager)
	}
	addr := args[0].(common.Address)
	switch m.Name {
	case "setManager":
		old := a.Manager()
		a.manager.Set(struct{}{}, addr)
		return nil, chain.EmitEvent(env, ABI.Events["ManagerChanged"], nil, addr, old)
	case "addSolver":
		a.AddSolver(addr)
		return nil, chain.EmitEvent(env, ABI.Events["SolverAdded"], nil, addr)
	case "removeSolver":
		a.RemoveSolver(addr)
		return nil, chain.EmitEvent(env, ABI.Events["SolverRemoved"], nil, addr)
	}
	return nil, chain.Revertf("function selector not recognized")
}

// Any is an Authenticator that accepts an address if any of its members
// does. Members are asked in order; the first error aborts.
type Any []Authenticator

// IsSolver implements Authenticator.
func (as Any) IsSolver(ctx context.Context, addr common.Address) (bool, error) {
	for _, a := range as {
		ok, err := a.IsSolver(ctx, addr)
		if err != nil {
			return false, fmt.Errorf("auth: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
