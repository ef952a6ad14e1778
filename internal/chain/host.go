package chain

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// MaxCallDepth bounds nested calls.
const MaxCallDepth = 1024

// Receipt status values.
const (
	StatusFailed     uint64 = 0
	StatusSuccessful uint64 = 1
)

// Contract is code deployed at an address. Call receives the ABI-encoded
// input and returns the raw return data, or an error (normally a *Revert)
// which rolls back every state change the call made.
type Contract interface {
	Call(ctx context.Context, env *Env) ([]byte, error)
}

// Env is the context of a single call frame.
type Env struct {
	Host    *Host
	Caller  common.Address
	Address common.Address
	Value   *uint256.Int
	Input   []byte
}

// Call performs a nested call from the executing contract.
func (e *Env) Call(ctx context.Context, to common.Address, value *uint256.Int, input []byte) ([]byte, error) {
	return e.Host.Call(ctx, e.Address, to, value, input)
}

// StaticCall performs a nested call that must not change state.
func (e *Env) StaticCall(ctx context.Context, to common.Address, input []byte) ([]byte, error) {
	return e.Host.StaticCall(ctx, e.Address, to, input)
}

// Emit appends an event log attributed to the executing contract.
func (e *Env) Emit(topics []common.Hash, data []byte) {
	e.Host.Emit(types.Log{Address: e.Address, Topics: topics, Data: data})
}

// Receipt describes the outcome of a top-level transaction.
type Receipt struct {
	TxHash       common.Hash
	From         common.Address
	To           common.Address
	BlockNumber  uint64
	BlockTime    uint64
	Status       uint64
	ReturnData   []byte
	RevertReason string
	Logs         []*types.Log
}

// Host executes transactions against deployed contracts. All state lives in
// journaled storage so a failing transaction leaves no trace. A Host runs one
// transaction at a time.
type Host struct {
	mu sync.Mutex

	chainID  *big.Int
	time     uint64
	number   uint64
	nonce    uint64
	depth    int
	journal  *Journal
	code     map[common.Address]Contract
	balances *StorageMap[common.Address, *uint256.Int]
	logs     []*types.Log
}

// NewHost creates an empty host for the given chain id.
func NewHost(chainID uint64) *Host {
	j := &Journal{}
	return &Host{
		chainID:  new(big.Int).SetUint64(chainID),
		journal:  j,
		code:     make(map[common.Address]Contract),
		balances: NewStorageMap[common.Address, *uint256.Int](j),
	}
}

// ChainID returns the chain id contracts observe.
func (h *Host) ChainID() *big.Int {
	return new(big.Int).Set(h.chainID)
}

// Journal returns the journal contracts record their storage writes in.
func (h *Host) Journal() *Journal {
	return h.journal
}

// Time returns the current block timestamp.
func (h *Host) Time() uint64 {
	return h.time
}

// SetTime sets the block timestamp used by subsequent transactions.
func (h *Host) SetTime(ts uint64) {
	h.time = ts
}

// BlockNumber returns the number of the last executed transaction's block.
func (h *Host) BlockNumber() uint64 {
	return h.number
}

// Deploy installs c at addr, replacing any existing code.
func (h *Host) Deploy(addr common.Address, c Contract) {
	h.code[addr] = c
}

// HasCode reports whether a contract is deployed at addr.
func (h *Host) HasCode(addr common.Address) bool {
	_, ok := h.code[addr]
	return ok
}

// Code returns the contract deployed at addr.
func (h *Host) Code(addr common.Address) (Contract, bool) {
	c, ok := h.code[addr]
	return c, ok
}

// Balance returns the native value balance of addr.
func (h *Host) Balance(addr common.Address) *uint256.Int {
	if b, ok := h.balances.Get(addr); ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Mint credits native value to addr.
func (h *Host) Mint(addr common.Address, amount *uint256.Int) {
	bal := h.Balance(addr)
	h.balances.Set(addr, bal.Add(bal, amount))
}

// Transfer moves native value between accounts.
func (h *Host) Transfer(from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	fromBal := h.Balance(from)
	if fromBal.Lt(amount) {
		return Revertf("insufficient balance for transfer")
	}
	h.balances.Set(from, new(uint256.Int).Sub(fromBal, amount))
	toBal := h.Balance(to)
	h.balances.Set(to, toBal.Add(toBal, amount))
	return nil
}

// Emit appends a log to the current transaction.
func (h *Host) Emit(log types.Log) {
	l := log
	l.Topics = append([]common.Hash(nil), log.Topics...)
	l.Data = append([]byte(nil), log.Data...)
	h.logs = append(h.logs, &l)
	n := len(h.logs) - 1
	h.journal.Append(func() { h.logs = h.logs[:n] })
}

// Call executes input against the contract at to, transferring value first.
// A call to an address without code succeeds with empty return data. Every
// state change of a failing call is reverted before the error is returned.
func (h *Host) Call(ctx context.Context, caller, to common.Address, value *uint256.Int, input []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.depth >= MaxCallDepth {
		return nil, Revertf("max call depth exceeded")
	}
	if value == nil {
		value = new(uint256.Int)
	}

	snap := h.journal.Snapshot()
	if err := h.Transfer(caller, to, value); err != nil {
		h.journal.RevertTo(snap)
		return nil, err
	}

	c, ok := h.code[to]
	if !ok {
		return nil, nil
	}

	h.depth++
	ret, err := c.Call(ctx, &Env{
		Host:    h,
		Caller:  caller,
		Address: to,
		Value:   value.Clone(),
		Input:   input,
	})
	h.depth--
	if err != nil {
		h.journal.RevertTo(snap)
		return nil, err
	}
	return ret, nil
}

// StaticCall is Call without value; it fails if the callee changed any
// journaled state, in which case those changes are reverted.
func (h *Host) StaticCall(ctx context.Context, caller, to common.Address, input []byte) ([]byte, error) {
	snap := h.journal.Snapshot()
	ret, err := h.Call(ctx, caller, to, nil, input)
	if err != nil {
		return nil, err
	}
	if h.journal.Snapshot() != snap {
		h.journal.RevertTo(snap)
		return nil, Revertf("state change during static call")
	}
	return ret, nil
}

// Transact runs a top-level transaction. On failure every effect is rolled
// back and the receipt carries the revert reason alongside the returned error.
func (h *Host) Transact(ctx context.Context, from, to common.Address, value *uint256.Int, input []byte) (*Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.number++
	h.nonce++
	h.logs = nil
	h.journal.Reset()

	receipt := &Receipt{
		TxHash:      h.txHash(from, to, input),
		From:        from,
		To:          to,
		BlockNumber: h.number,
		BlockTime:   h.time,
	}

	ret, err := h.Call(ctx, from, to, value, input)
	if err != nil {
		h.journal.RevertTo(0)
		h.logs = nil
		receipt.Status = StatusFailed
		if r, ok := AsRevert(err); ok {
			receipt.RevertReason = r.Reason
			receipt.ReturnData = r.Data
		} else {
			receipt.RevertReason = err.Error()
		}
		return receipt, err
	}

	for i, l := range h.logs {
		l.BlockNumber = receipt.BlockNumber
		l.TxHash = receipt.TxHash
		l.Index = uint(i)
	}
	receipt.Status = StatusSuccessful
	receipt.ReturnData = ret
	receipt.Logs = h.logs
	h.logs = nil
	h.journal.Reset()
	return receipt, nil
}

// Query performs a read-only call outside of any transaction.
func (h *Host) Query(ctx context.Context, to common.Address, input []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := h.journal.Snapshot()
	defer h.journal.RevertTo(snap)
	return h.StaticCall(ctx, common.Address{}, to, input)
}

// Apply runs fn with exclusive access to the host, committing the state
// changes it makes unless it returns an error. It is used for genesis and
// restore operations that bypass calldata.
func (h *Host) Apply(fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := h.journal.Snapshot()
	if err := fn(); err != nil {
		h.journal.RevertTo(snap)
		return err
	}
	h.journal.Reset()
	return nil
}

func (h *Host) txHash(from, to common.Address, input []byte) common.Hash {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], h.nonce)
	return ethcrypto.Keccak256Hash(h.chainID.Bytes(), n[:], from.Bytes(), to.Bytes(), input)
}
