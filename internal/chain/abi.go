package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MustParseABI parses a JSON ABI definition or panics. It is meant for
// package-level contract interfaces.
func MustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}

// UnpackCall resolves the method input selects and decodes its arguments.
func UnpackCall(contractABI *abi.ABI, input []byte) (*abi.Method, []any, error) {
	if len(input) < 4 {
		return nil, nil, Revertf("function selector not recognized")
	}
	m, err := contractABI.MethodById(input[:4])
	if err != nil {
		return nil, nil, Revertf("function selector not recognized")
	}
	args, err := m.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, nil, Revertf("invalid calldata for %s", m.Name)
	}
	return m, args, nil
}

// EmitEvent ABI-encodes an event and appends it to env's logs. Indexed
// arguments are passed as topics, the rest as values.
func EmitEvent(env *Env, ev abi.Event, topics []common.Hash, values ...any) error {
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		return err
	}
	all := make([]common.Hash, 0, 1+len(topics))
	all = append(all, ev.ID)
	all = append(all, topics...)
	env.Emit(all, data)
	return nil
}

// AddressTopic left-pads an address into an event topic.
func AddressTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

// TopicAddress is the inverse of AddressTopic.
func TopicAddress(h common.Hash) common.Address {
	return common.BytesToAddress(h.Bytes())
}

// ToU256 converts an ABI-decoded uint256 argument.
func ToU256(v any) *uint256.Int {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return new(uint256.Int)
	}
	u, _ := uint256.FromBig(b)
	return u
}
