// Package settlement implements the batch settlement contract: it verifies
// signed orders, executes them at uniform clearing prices, sequences solver
// interactions around the token transfers, and does all of it atomically
// under a reentrancy guard.
package settlement

import (
	"context"
	"math/big"

	"github.com/alanyoungcy/batchsettle/internal/auth"
	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/alanyoungcy/batchsettle/internal/signing"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// PreSigned is the preSignature value of a pre-signed order.
var PreSigned = new(uint256.Int).SetBytes(ethcrypto.Keccak256([]byte("GPv2Signing.Scheme.PreSign")))

// Config describes one settlement deployment.
type Config struct {
	Address       common.Address
	Relayer       common.Address
	Vault         common.Address
	DomainName    string
	DomainVersion string
	StrictEIP1271 bool
}

// Settlement is the settlement contract.
type Settlement struct {
	address common.Address
	relayer common.Address
	vault   common.Address
	domain  common.Hash

	authenticator auth.Authenticator
	verifier      *signing.Verifier
	guard         guard

	filled    *chain.StorageMap[order.UID, *uint256.Int]
	preSigned *chain.StorageMap[order.UID, bool]
}

// Deploy installs a settlement and its relayer on host.
func Deploy(host *chain.Host, cfg Config, authenticator auth.Authenticator) *Settlement {
	if cfg.DomainName == "" {
		cfg.DomainName = order.DomainName
	}
	if cfg.DomainVersion == "" {
		cfg.DomainVersion = order.DomainVersion
	}
	s := &Settlement{
		address:       cfg.Address,
		relayer:       cfg.Relayer,
		vault:         cfg.Vault,
		domain:        order.DomainSeparator(cfg.DomainName, cfg.DomainVersion, host.ChainID(), cfg.Address),
		authenticator: authenticator,
		filled:        chain.NewStorageMap[order.UID, *uint256.Int](host.Journal()),
		preSigned:     chain.NewStorageMap[order.UID, bool](host.Journal()),
	}
	s.verifier = &signing.Verifier{PreSignatures: s, StrictEIP1271: cfg.StrictEIP1271}
	host.Deploy(cfg.Address, s)
	host.Deploy(cfg.Relayer, NewRelayer(cfg.Address, cfg.Vault))
	return s
}

// Address returns the settlement's address.
func (s *Settlement) Address() common.Address { return s.address }

// RelayerAddress returns the address owners approve for their funds.
func (s *Settlement) RelayerAddress() common.Address { return s.relayer }

// DomainSeparator returns the EIP-712 domain orders are signed under.
func (s *Settlement) DomainSeparator() common.Hash { return s.domain }

// FilledAmount returns the cumulative fill of uid.
func (s *Settlement) FilledAmount(uid order.UID) *uint256.Int {
	if f, ok := s.filled.Get(uid); ok {
		return f.Clone()
	}
	return new(uint256.Int)
}

// IsPreSigned implements signing.PreSignatures.
func (s *Settlement) IsPreSigned(uid order.UID) bool {
	ok, _ := s.preSigned.Get(uid)
	return ok
}

// Restore loads persisted fill and pre-signature state. It must run inside
// chain.Host.Apply.
func (s *Settlement) Restore(filled map[order.UID]*uint256.Int, preSigned []order.UID) {
	for uid, amount := range filled {
		if amount.IsZero() {
			s.filled.Delete(uid)
			continue
		}
		s.filled.Set(uid, amount.Clone())
	}
	for _, uid := range preSigned {
		s.preSigned.Set(uid, true)
	}
}

// Call dispatches settlement calldata. Plain value transfers are accepted.
func (s *Settlement) Call(ctx context.Context, env *chain.Env) ([]byte, error) {
	if len(env.Input) == 0 {
		return nil, nil
	}
	m, args, err := chain.UnpackCall(&ABI, env.Input)
	if err != nil {
		return nil, err
	}

	switch m.Name {
	case "settle":
		return nil, s.settle(ctx, env,
			args[0].([]common.Address),
			args[1].([]*big.Int),
			args[2].([][]byte),
			args[3].([][][]byte),
			args[4].([]byte),
		)
	case "swap":
		var in swapArgs
		if err := m.Inputs.Copy(&in, args); err != nil {
			return nil, chain.Revertf("invalid calldata for %s", m.Name)
		}
		return nil, s.swap(ctx, env, &in)
	case "setPreSignature":
		return nil, s.setPreSignature(env, args[0].([]byte), args[1].(bool))
	case "invalidateOrder":
		return nil, s.invalidateOrder(env, args[0].([]byte))
	case "filledAmount":
		uid, err := order.ParseUID(args[0].([]byte))
		if err != nil {
			return nil, chain.NewRevert(err)
		}
		return m.Outputs.Pack(s.FilledAmount(uid).ToBig())
	case "preSignature":
		uid, err := order.ParseUID(args[0].([]byte))
		if err != nil {
			return nil, chain.NewRevert(err)
		}
		value := new(big.Int)
		if s.IsPreSigned(uid) {
			value = PreSigned.ToBig()
		}
		return m.Outputs.Pack(value)
	case "domainSeparator":
		return m.Outputs.Pack([32]byte(s.domain))
	case "vaultRelayer":
		return m.Outputs.Pack(s.relayer)
	}
	return nil, chain.Revertf("function selector not recognized")
}

// onlySolver rejects callers the authenticator does not know.
func (s *Settlement) onlySolver(ctx context.Context, env *chain.Env) error {
	ok, err := s.authenticator.IsSolver(ctx, env.Caller)
	if err != nil {
		return err
	}
	if !ok {
		return chain.NewRevert(ErrNotSolver)
	}
	return nil
}

func (s *Settlement) settle(ctx context.Context, env *chain.Env, tokens []common.Address, prices []*big.Int, trades [][]byte, interactions [][][]byte, refunds []byte) error {
	release, err := s.guard.enter()
	if err != nil {
		return err
	}
	defer release()
	if err := s.onlySolver(ctx, env); err != nil {
		return err
	}

	if len(tokens) != len(prices) {
		return chain.NewRevert(ErrMalformedBatch)
	}
	if len(interactions) != NumPhases {
		return chain.NewRevert(ErrMalformedInteractionList)
	}
	clearing := make([]uint256.Int, len(prices))
	for i, p := range prices {
		clearing[i].Set(chain.ToU256(p))
	}

	if err := s.executeInteractions(ctx, env, interactions[PhasePre]); err != nil {
		return err
	}

	in, out, err := s.computeTradeExecutions(ctx, env, tokens, clearing, trades)
	if err != nil {
		return err
	}

	pull, err := TransferFromAccountsCall(in)
	if err != nil {
		return err
	}
	if _, err := env.Call(ctx, s.relayer, nil, pull); err != nil {
		return err
	}

	if err := s.executeInteractions(ctx, env, interactions[PhaseIntra]); err != nil {
		return err
	}
	if err := pushToAccounts(ctx, env, s.vault, out); err != nil {
		return err
	}
	if err := s.executeInteractions(ctx, env, interactions[PhasePost]); err != nil {
		return err
	}
	if err := s.freeOrderStorage(env, refunds); err != nil {
		return err
	}
	return s.emitSettlement(env, env.Caller)
}

// computeTradeExecutions decodes, verifies and executes every trade,
// returning the transfers into and out of the settlement.
func (s *Settlement) computeTradeExecutions(ctx context.Context, env *chain.Env, tokens []common.Address, prices []uint256.Int, trades [][]byte) ([]Transfer, []Transfer, error) {
	in := make([]Transfer, len(trades))
	out := make([]Transfer, len(trades))

	var t order.Trade
	for i, record := range trades {
		if err := order.DecodeTrade(tokens, record, &t); err != nil {
			return nil, nil, chain.NewRevert(err)
		}
		rec, err := s.verifier.Recover(ctx, env, s.domain, &t.Order, t.SigningScheme, t.Signature)
		if err != nil {
			return nil, nil, err
		}
		exec, err := s.executeTrade(env, &rec, &t, &prices[t.SellTokenIndex], &prices[t.BuyTokenIndex])
		if err != nil {
			return nil, nil, err
		}
		in[i] = newTransfer(exec.Owner, exec.SellToken, &exec.SellAmount, t.Order.SellTokenBalance)
		out[i] = newTransfer(exec.Receiver, exec.BuyToken, &exec.BuyAmount, t.Order.BuyTokenBalance)
	}
	return in, out, nil
}

// freeOrderStorage clears fill and pre-signature state of expired orders.
func (s *Settlement) freeOrderStorage(env *chain.Env, refunds []byte) error {
	uids, err := order.SplitUIDs(refunds)
	if err != nil {
		return chain.NewRevert(err)
	}
	for _, uid := range uids {
		if uint64(uid.ValidTo()) >= env.Host.Time() {
			return chain.NewRevert(ErrOrderStillValid)
		}
		s.filled.Delete(uid)
		s.preSigned.Delete(uid)
	}
	return nil
}

func (s *Settlement) setPreSignature(env *chain.Env, rawUID []byte, signed bool) error {
	uid, err := order.ParseUID(rawUID)
	if err != nil {
		return chain.NewRevert(err)
	}
	if uid.Owner() != env.Caller {
		return chain.NewRevert(ErrCannotPreSign)
	}
	if signed {
		s.preSigned.Set(uid, true)
	} else {
		s.preSigned.Delete(uid)
	}
	return chain.EmitEvent(env, ABI.Events["PreSignature"], []common.Hash{chain.AddressTopic(env.Caller)}, uid[:], signed)
}

func (s *Settlement) invalidateOrder(env *chain.Env, rawUID []byte) error {
	uid, err := order.ParseUID(rawUID)
	if err != nil {
		return chain.NewRevert(err)
	}
	if uid.Owner() != env.Caller {
		return chain.NewRevert(ErrNotOrderOwner)
	}
	s.filled.Set(uid, InvalidatedFill.Clone())
	return chain.EmitEvent(env, ABI.Events["OrderInvalidated"], []common.Hash{chain.AddressTopic(env.Caller)}, uid[:])
}
