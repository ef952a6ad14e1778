package signing

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// EIP1271MagicValue is bytes4(keccak256("isValidSignature(bytes32,bytes)")).
var EIP1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

const eip1271JSON = `[{
	"type": "function",
	"name": "isValidSignature",
	"stateMutability": "view",
	"inputs": [
		{"name": "hash", "type": "bytes32"},
		{"name": "signature", "type": "bytes"}
	],
	"outputs": [{"name": "magicValue", "type": "bytes4"}]
}]`

// EIP1271ABI is the ABI of the contract signature verifier interface.
var EIP1271ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(eip1271JSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

var magicValueReturn = func() []byte {
	out, err := EIP1271ABI.Methods["isValidSignature"].Outputs.Pack(EIP1271MagicValue)
	if err != nil {
		panic(err)
	}
	return out
}()

// PackIsValidSignature builds isValidSignature calldata.
func PackIsValidSignature(digest common.Hash, signature []byte) ([]byte, error) {
	return EIP1271ABI.Pack("isValidSignature", [32]byte(digest), signature)
}

// UnpackIsValidSignature decodes isValidSignature calldata, without the
// selector.
func UnpackIsValidSignature(args []byte) (common.Hash, []byte, error) {
	values, err := EIP1271ABI.Methods["isValidSignature"].Inputs.Unpack(args)
	if err != nil {
		return common.Hash{}, nil, err
	}
	return common.Hash(values[0].([32]byte)), values[1].([]byte), nil
}

// MagicValueReturn returns the exact return data of a successful
// isValidSignature call.
func MagicValueReturn() []byte {
	return append([]byte(nil), magicValueReturn...)
}
