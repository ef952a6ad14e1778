// Package signing recovers the owner of an order under each of the four
// signing schemes and produces ECDSA order signatures from local keys.
package signing

import (
	"bytes"
	"context"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// ECDSASignatureLength is r ‖ s ‖ v.
const ECDSASignatureLength = 65

// Caller performs calls on behalf of the verifying contract.
type Caller interface {
	Call(ctx context.Context, to common.Address, value *uint256.Int, input []byte) ([]byte, error)
	StaticCall(ctx context.Context, to common.Address, input []byte) ([]byte, error)
}

// PreSignatures reports whether an owner pre-authorized an order UID.
type PreSignatures interface {
	IsPreSigned(uid order.UID) bool
}

// Recovered is the outcome of a successful verification.
type Recovered struct {
	Owner  common.Address
	Digest common.Hash
	UID    order.UID
}

// Verifier recovers order owners. Failures are returned as *chain.Revert
// wrapping the package's sentinel errors; a reverting EIP-1271 verifier's
// revert is returned unchanged.
type Verifier struct {
	PreSignatures PreSignatures
	// StrictEIP1271 makes the isValidSignature call static.
	StrictEIP1271 bool
}

// Recover returns the owner of o under scheme, together with its digest and
// UID. It never writes state itself; only an EIP-1271 verifier can.
func (v *Verifier) Recover(ctx context.Context, caller Caller, domain common.Hash, o *order.Order, scheme order.SigningScheme, signature []byte) (Recovered, error) {
	digest := o.Hash(domain)
	var (
		owner common.Address
		err   error
	)
	switch scheme {
	case order.SchemeEIP712:
		owner, err = recoverECDSA(digest, signature, ErrInvalidEIP712Signature)
	case order.SchemeEthSign:
		owner, err = recoverECDSA(common.BytesToHash(accounts.TextHash(digest[:])), signature, ErrInvalidEthSignSignature)
	case order.SchemeEIP1271:
		owner, err = v.recoverEIP1271(ctx, caller, digest, signature)
	case order.SchemePreSign:
		owner, err = v.recoverPreSigned(digest, o.ValidTo, signature)
	default:
		err = chain.NewRevert(ErrInvalidSigningScheme)
	}
	if err != nil {
		return Recovered{}, err
	}
	return Recovered{
		Owner:  owner,
		Digest: digest,
		UID:    order.PackUID(digest, owner, o.ValidTo),
	}, nil
}

func recoverECDSA(digest common.Hash, signature []byte, invalid error) (common.Address, error) {
	if len(signature) != ECDSASignatureLength {
		return common.Address{}, chain.NewRevert(ErrMalformedECDSASignature)
	}
	v := signature[64]
	if v != 27 && v != 28 {
		return common.Address{}, chain.NewRevert(invalid)
	}
	var sig [ECDSASignatureLength]byte
	copy(sig[:], signature)
	sig[64] = v - 27

	pub, err := ethcrypto.SigToPub(digest[:], sig[:])
	if err != nil {
		return common.Address{}, chain.NewRevert(invalid)
	}
	owner := ethcrypto.PubkeyToAddress(*pub)
	if owner == (common.Address{}) {
		return common.Address{}, chain.NewRevert(invalid)
	}
	return owner, nil
}

func (v *Verifier) recoverEIP1271(ctx context.Context, caller Caller, digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) < common.AddressLength {
		return common.Address{}, chain.NewRevert(ErrMalformedEIP1271)
	}
	verifier := common.BytesToAddress(signature[:common.AddressLength])

	input, err := PackIsValidSignature(digest, signature[common.AddressLength:])
	if err != nil {
		return common.Address{}, chain.NewRevert(ErrMalformedEIP1271)
	}

	var ret []byte
	if v.StrictEIP1271 {
		ret, err = caller.StaticCall(ctx, verifier, input)
	} else {
		ret, err = caller.Call(ctx, verifier, nil, input)
	}
	if err != nil {
		return common.Address{}, err
	}
	if !bytes.Equal(ret, magicValueReturn) {
		return common.Address{}, chain.NewRevert(ErrInvalidEIP1271Signature)
	}
	return verifier, nil
}

func (v *Verifier) recoverPreSigned(digest common.Hash, validTo uint32, signature []byte) (common.Address, error) {
	if len(signature) != common.AddressLength {
		return common.Address{}, chain.NewRevert(ErrMalformedAuthorization)
	}
	owner := common.BytesToAddress(signature)
	if v.PreSignatures == nil || !v.PreSignatures.IsPreSigned(order.PackUID(digest, owner, validTo)) {
		return common.Address{}, chain.NewRevert(ErrOrderNotPreAuthorized)
	}
	return owner, nil
}
