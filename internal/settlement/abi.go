package settlement

import (
	"math/big"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/alanyoungcy/batchsettle/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ABI is the settlement contract interface.
var ABI = chain.MustParseABI(`[
	{"type":"function","name":"settle","stateMutability":"nonpayable","inputs":[
		{"name":"tokens","type":"address[]"},
		{"name":"clearingPrices","type":"uint256[]"},
		{"name":"trades","type":"bytes[]"},
		{"name":"interactions","type":"bytes[][]"},
		{"name":"orderRefunds","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"swap","stateMutability":"nonpayable","inputs":[
		{"name":"swaps","type":"tuple[]","components":[
			{"name":"poolId","type":"bytes32"},
			{"name":"assetInIndex","type":"uint256"},
			{"name":"assetOutIndex","type":"uint256"},
			{"name":"amount","type":"uint256"},
			{"name":"userData","type":"bytes"}]},
		{"name":"tokens","type":"address[]"},
		{"name":"trade","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"setPreSignature","stateMutability":"nonpayable","inputs":[
		{"name":"orderUid","type":"bytes"},{"name":"signed","type":"bool"}],"outputs":[]},
	{"type":"function","name":"invalidateOrder","stateMutability":"nonpayable","inputs":[
		{"name":"orderUid","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"filledAmount","stateMutability":"view","inputs":[
		{"name":"orderUid","type":"bytes"}],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"preSignature","stateMutability":"view","inputs":[
		{"name":"orderUid","type":"bytes"}],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"domainSeparator","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes32"}]},
	{"type":"function","name":"vaultRelayer","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"event","name":"Trade","anonymous":false,"inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"sellToken","type":"address","indexed":false},
		{"name":"buyToken","type":"address","indexed":false},
		{"name":"sellAmount","type":"uint256","indexed":false},
		{"name":"buyAmount","type":"uint256","indexed":false},
		{"name":"feeAmount","type":"uint256","indexed":false},
		{"name":"orderUid","type":"bytes","indexed":false}]},
	{"type":"event","name":"Interaction","anonymous":false,"inputs":[
		{"name":"target","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false},
		{"name":"selector","type":"bytes4","indexed":false}]},
	{"type":"event","name":"Settlement","anonymous":false,"inputs":[
		{"name":"solver","type":"address","indexed":true}]},
	{"type":"event","name":"PreSignature","anonymous":false,"inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"orderUid","type":"bytes","indexed":false},
		{"name":"signed","type":"bool","indexed":false}]},
	{"type":"event","name":"OrderInvalidated","anonymous":false,"inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"orderUid","type":"bytes","indexed":false}]}
]`)

// Batch is the input of settle.
type Batch struct {
	Tokens         []common.Address
	ClearingPrices []*uint256.Int
	Trades         [][]byte
	Interactions   [3][]order.Interaction
	OrderRefunds   []order.UID
}

// Pack builds settle calldata.
func (b *Batch) Pack() ([]byte, error) {
	prices := make([]*big.Int, len(b.ClearingPrices))
	for i, p := range b.ClearingPrices {
		prices[i] = p.ToBig()
	}
	interactions := make([][][]byte, len(b.Interactions))
	for phase, list := range b.Interactions {
		interactions[phase] = make([][]byte, len(list))
		for i := range list {
			interactions[phase][i] = list[i].Encode()
		}
	}
	trades := b.Trades
	if trades == nil {
		trades = [][]byte{}
	}
	return ABI.Pack("settle", b.Tokens, prices, trades, interactions, order.PackUIDs(b.OrderRefunds...))
}

// SwapCall builds swap calldata.
func SwapCall(swaps []vault.BatchSwapStep, tokens []common.Address, trade []byte) ([]byte, error) {
	if swaps == nil {
		swaps = []vault.BatchSwapStep{}
	}
	return ABI.Pack("swap", swaps, tokens, trade)
}

// SetPreSignatureCall builds setPreSignature calldata.
func SetPreSignatureCall(uid order.UID, signed bool) []byte {
	input, _ := ABI.Pack("setPreSignature", uid[:], signed)
	return input
}

// InvalidateOrderCall builds invalidateOrder calldata.
func InvalidateOrderCall(uid order.UID) []byte {
	input, _ := ABI.Pack("invalidateOrder", uid[:])
	return input
}

// FilledAmountCall builds filledAmount calldata.
func FilledAmountCall(uid order.UID) []byte {
	input, _ := ABI.Pack("filledAmount", uid[:])
	return input
}

// PreSignatureCall builds preSignature calldata.
func PreSignatureCall(uid order.UID) []byte {
	input, _ := ABI.Pack("preSignature", uid[:])
	return input
}
