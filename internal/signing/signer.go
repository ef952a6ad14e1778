package signing

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer produces ECDSA order signatures for a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("signing/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk), nil
}

// NewSignerFromKey wraps an already parsed key.
func NewSignerFromKey(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignOrder signs o under domain with an ECDSA scheme, returning the
// 65-byte signature the trade record carries.
func (s *Signer) SignOrder(domain common.Hash, o *order.Order, scheme order.SigningScheme) ([]byte, error) {
	digest := o.Hash(domain)
	switch scheme {
	case order.SchemeEIP712:
		return s.SignDigest(digest)
	case order.SchemeEthSign:
		return s.SignMessage(digest[:])
	default:
		return nil, fmt.Errorf("signing/signer: %s: %w", scheme, ErrUnsupportedSigningScheme)
	}
}

// SignMessage signs msg with the "\x19Ethereum Signed Message" prefix.
func (s *Signer) SignMessage(msg []byte) ([]byte, error) {
	return s.SignDigest(common.BytesToHash(accounts.TextHash(msg)))
}

// SignDigest signs a 32-byte digest and returns r ‖ s ‖ v with v in {27, 28}.
func (s *Signer) SignDigest(digest common.Hash) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest[:], s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("signing/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}
