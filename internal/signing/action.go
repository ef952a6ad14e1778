package signing

import (
	"fmt"

	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Owner actions the API accepts on behalf of an order owner.
const (
	ActionInvalidate = "invalidate"
	ActionPreSign    = "presign"
	ActionRevoke     = "revoke"
)

// ActionDigest is keccak256(action ‖ uid), the message an owner signs with
// eth_sign to authorize an action on one of their orders.
func ActionDigest(action string, uid order.UID) common.Hash {
	return ethcrypto.Keccak256Hash([]byte(action), uid[:])
}

// SignAction signs an owner action.
func (s *Signer) SignAction(action string, uid order.UID) ([]byte, error) {
	digest := ActionDigest(action, uid)
	return s.SignMessage(digest[:])
}

// RecoverAction returns the address that signed action for uid.
func RecoverAction(action string, uid order.UID, signature []byte) (common.Address, error) {
	digest := ActionDigest(action, uid)
	owner, err := recoverECDSA(common.BytesToHash(accounts.TextHash(digest[:])), signature, ErrInvalidEthSignSignature)
	if err != nil {
		return common.Address{}, fmt.Errorf("signing: recover %s: %w", action, err)
	}
	return owner, nil
}
