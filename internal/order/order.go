// Package order implements the order codec: the EIP-712 order hash, order
// UIDs, the packed trade flags, and the binary trade and interaction records
// a batch is made of.
package order

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidUID           = errors.New("GPv2: invalid uid")
	ErrInvalidFlags         = errors.New("GPv2: invalid trade flags")
	ErrIndexOutOfRange      = errors.New("GPv2: token index out of range")
	ErrMalformedTrade       = errors.New("GPv2: malformed trade")
	ErrMalformedInteraction = errors.New("GPv2: malformed interaction")
	ErrTokenNotListed       = errors.New("order: token not in token list")
)

// NativeToken is the marker address standing for the chain's native value.
// It may only appear as an order's buy token.
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// ReceiverSameAsOwner is the receiver value meaning "pay the order owner".
var ReceiverSameAsOwner = common.Address{}

// Kind is the side of an order.
type Kind uint8

const (
	KindSell Kind = iota
	KindBuy
)

func (k Kind) String() string {
	switch k {
	case KindSell:
		return "sell"
	case KindBuy:
		return "buy"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses "sell" or "buy".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "sell":
		return KindSell, nil
	case "buy":
		return KindBuy, nil
	}
	return 0, fmt.Errorf("order: unknown kind %q", s)
}

// TokenBalance selects where an order's tokens are taken from or paid to.
type TokenBalance uint8

const (
	BalanceERC20 TokenBalance = iota
	BalanceExternal
	BalanceInternal
)

func (b TokenBalance) String() string {
	switch b {
	case BalanceERC20:
		return "erc20"
	case BalanceExternal:
		return "external"
	case BalanceInternal:
		return "internal"
	default:
		return fmt.Sprintf("balance(%d)", uint8(b))
	}
}

// ParseTokenBalance parses "erc20", "external" or "internal". The empty
// string means erc20.
func ParseTokenBalance(s string) (TokenBalance, error) {
	switch s {
	case "", "erc20":
		return BalanceERC20, nil
	case "external":
		return BalanceExternal, nil
	case "internal":
		return BalanceInternal, nil
	}
	return 0, fmt.Errorf("order: unknown token balance %q", s)
}

// SigningScheme is the way an order was authorized by its owner.
type SigningScheme uint8

const (
	SchemeEIP712 SigningScheme = iota
	SchemeEthSign
	SchemeEIP1271
	SchemePreSign
)

func (s SigningScheme) String() string {
	switch s {
	case SchemeEIP712:
		return "eip712"
	case SchemeEthSign:
		return "ethsign"
	case SchemeEIP1271:
		return "eip1271"
	case SchemePreSign:
		return "presign"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// ParseSigningScheme parses a scheme name.
func ParseSigningScheme(s string) (SigningScheme, error) {
	switch s {
	case "eip712":
		return SchemeEIP712, nil
	case "ethsign":
		return SchemeEthSign, nil
	case "eip1271":
		return SchemeEIP1271, nil
	case "presign":
		return SchemePreSign, nil
	}
	return 0, fmt.Errorf("order: unknown signing scheme %q", s)
}

// Order is a trader's signed intent.
type Order struct {
	SellToken         common.Address
	BuyToken          common.Address
	Receiver          common.Address
	SellAmount        uint256.Int
	BuyAmount         uint256.Int
	ValidTo           uint32
	AppData           common.Hash
	FeeAmount         uint256.Int
	Kind              Kind
	PartiallyFillable bool
	SellTokenBalance  TokenBalance
	BuyTokenBalance   TokenBalance
}

// ActualReceiver resolves the payout address for an order owned by owner.
func (o *Order) ActualReceiver(owner common.Address) common.Address {
	if o.Receiver == ReceiverSameAsOwner {
		return owner
	}
	return o.Receiver
}
