package order

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Default EIP-712 domain parameters of the settlement contract.
const (
	DomainName    = "Gnosis Protocol"
	DomainVersion = "v2"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	domainTypeHash = ethcrypto.Keccak256Hash(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// TypeHash is the EIP-712 type hash of Order.
	TypeHash = ethcrypto.Keccak256Hash([]byte(
		"Order(address sellToken,address buyToken,address receiver,uint256 sellAmount,uint256 buyAmount," +
			"uint32 validTo,bytes32 appData,uint256 feeAmount,string kind,bool partiallyFillable," +
			"string sellTokenBalance,string buyTokenBalance)",
	))

	kindSellMarker        = ethcrypto.Keccak256Hash([]byte("sell"))
	kindBuyMarker         = ethcrypto.Keccak256Hash([]byte("buy"))
	balanceERC20Marker    = ethcrypto.Keccak256Hash([]byte("erc20"))
	balanceExternalMarker = ethcrypto.Keccak256Hash([]byte("external"))
	balanceInternalMarker = ethcrypto.Keccak256Hash([]byte("internal"))
)

func (k Kind) marker() common.Hash {
	if k == KindBuy {
		return kindBuyMarker
	}
	return kindSellMarker
}

func (b TokenBalance) marker() common.Hash {
	switch b {
	case BalanceExternal:
		return balanceExternalMarker
	case BalanceInternal:
		return balanceInternalMarker
	default:
		return balanceERC20Marker
	}
}

// DomainSeparator computes the EIP-712 domain separator binding order
// signatures to one deployment on one chain.
func DomainSeparator(name, version string, chainID *big.Int, verifyingContract common.Address) common.Hash {
	var buf [5 * 32]byte
	copy(buf[0:32], domainTypeHash[:])
	copy(buf[32:64], ethcrypto.Keccak256([]byte(name)))
	copy(buf[64:96], ethcrypto.Keccak256([]byte(version)))
	copy(buf[96:128], math.U256Bytes(new(big.Int).Set(chainID)))
	copy(buf[140:160], verifyingContract[:])
	return ethcrypto.Keccak256Hash(buf[:])
}

// StructHash returns hashStruct(order) as defined by EIP-712.
func (o *Order) StructHash() common.Hash {
	var buf [13 * 32]byte
	copy(buf[0:32], TypeHash[:])
	copy(buf[44:64], o.SellToken[:])
	copy(buf[76:96], o.BuyToken[:])
	copy(buf[108:128], o.Receiver[:])
	o.SellAmount.PutUint256(buf[128:160])
	o.BuyAmount.PutUint256(buf[160:192])
	binary.BigEndian.PutUint32(buf[220:224], o.ValidTo)
	copy(buf[224:256], o.AppData[:])
	o.FeeAmount.PutUint256(buf[256:288])
	kind := o.Kind.marker()
	copy(buf[288:320], kind[:])
	if o.PartiallyFillable {
		buf[351] = 1
	}
	sellBalance := o.SellTokenBalance.marker()
	copy(buf[352:384], sellBalance[:])
	buyBalance := o.BuyTokenBalance.marker()
	copy(buf[384:416], buyBalance[:])
	return ethcrypto.Keccak256Hash(buf[:])
}

// Hash returns the EIP-712 signing digest of the order under domain.
func (o *Order) Hash(domain common.Hash) common.Hash {
	structHash := o.StructHash()
	var buf [66]byte
	buf[0], buf[1] = 0x19, 0x01
	copy(buf[2:34], domain[:])
	copy(buf[34:66], structHash[:])
	return ethcrypto.Keccak256Hash(buf[:])
}

// UIDLength is the byte length of an order UID.
const UIDLength = 56

// UID identifies an order: digest ‖ owner ‖ validTo.
type UID [UIDLength]byte

// ComputeUID derives the UID of o signed by owner under domain.
func ComputeUID(domain common.Hash, o *Order, owner common.Address) UID {
	return PackUID(o.Hash(domain), owner, o.ValidTo)
}

// PackUID builds a UID from its parts.
func PackUID(digest common.Hash, owner common.Address, validTo uint32) UID {
	var u UID
	copy(u[0:32], digest[:])
	copy(u[32:52], owner[:])
	binary.BigEndian.PutUint32(u[52:56], validTo)
	return u
}

// ParseUID validates the length of b and copies it into a UID.
func ParseUID(b []byte) (UID, error) {
	var u UID
	if len(b) != UIDLength {
		return u, ErrInvalidUID
	}
	copy(u[:], b)
	return u, nil
}

// UIDFromHex parses a 0x-prefixed hex UID.
func UIDFromHex(s string) (UID, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return UID{}, ErrInvalidUID
	}
	return ParseUID(b)
}

// Params splits the UID into its digest, owner and expiry.
func (u UID) Params() (common.Hash, common.Address, uint32) {
	return u.Digest(), u.Owner(), u.ValidTo()
}

// Digest returns the order digest part of the UID.
func (u UID) Digest() common.Hash {
	return common.BytesToHash(u[0:32])
}

// Owner returns the owner part of the UID.
func (u UID) Owner() common.Address {
	return common.BytesToAddress(u[32:52])
}

// ValidTo returns the expiry part of the UID.
func (u UID) ValidTo() uint32 {
	return binary.BigEndian.Uint32(u[52:56])
}

// Hex returns the 0x-prefixed hex encoding of the UID.
func (u UID) Hex() string {
	return hexutil.Encode(u[:])
}

func (u UID) String() string {
	return u.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (u UID) MarshalText() ([]byte, error) {
	return []byte(u.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *UID) UnmarshalText(text []byte) error {
	parsed, err := UIDFromHex(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// PackUIDs concatenates UIDs into the order-refund byte string.
func PackUIDs(uids ...UID) []byte {
	out := make([]byte, 0, len(uids)*UIDLength)
	for _, u := range uids {
		out = append(out, u[:]...)
	}
	return out
}

// SplitUIDs splits a concatenation of UIDs.
func SplitUIDs(b []byte) ([]UID, error) {
	if len(b)%UIDLength != 0 {
		return nil, ErrInvalidUID
	}
	uids := make([]UID, len(b)/UIDLength)
	for i := range uids {
		copy(uids[i][:], b[i*UIDLength:(i+1)*UIDLength])
	}
	return uids, nil
}
