package order

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TradeHeaderLength is the fixed-size prefix of an encoded trade, before
// the signature bytes.
//
//	sellTokenIndex u16 | buyTokenIndex u16 | receiver 20 | sellAmount 32 |
//	buyAmount 32 | validTo u32 | appData 32 | feeAmount 32 | flags u8 |
//	executedAmount 32 | signatureLength u16 | signature
const TradeHeaderLength = 2 + 2 + 20 + 32 + 32 + 4 + 32 + 32 + 1 + 32 + 2

const maxSignatureLength = 1<<16 - 1

// Trade is one order as submitted inside a batch. Tokens are referenced by
// index into the batch's token list.
type Trade struct {
	SellTokenIndex uint16
	BuyTokenIndex  uint16
	Order          Order
	SigningScheme  SigningScheme
	ExecutedAmount uint256.Int
	Signature      []byte
}

// NewTrade resolves the order's tokens against tokens and returns a trade
// ready for encoding.
func NewTrade(tokens []common.Address, o *Order, scheme SigningScheme, executed *uint256.Int, signature []byte) (*Trade, error) {
	sellIdx, ok := TokenIndex(tokens, o.SellToken)
	if !ok {
		return nil, ErrTokenNotListed
	}
	buyIdx, ok := TokenIndex(tokens, o.BuyToken)
	if !ok {
		return nil, ErrTokenNotListed
	}
	t := &Trade{
		SellTokenIndex: sellIdx,
		BuyTokenIndex:  buyIdx,
		Order:          *o,
		SigningScheme:  scheme,
		Signature:      signature,
	}
	if executed != nil {
		t.ExecutedAmount.Set(executed)
	}
	return t, nil
}

// TokenIndex returns the first index of token in tokens.
func TokenIndex(tokens []common.Address, token common.Address) (uint16, bool) {
	for i, t := range tokens {
		if t == token {
			return uint16(i), true
		}
	}
	return 0, false
}

// Flags returns the packed-flag view of the trade.
func (t *Trade) Flags() Flags {
	return Flags{
		Kind:              t.Order.Kind,
		PartiallyFillable: t.Order.PartiallyFillable,
		SellTokenBalance:  t.Order.SellTokenBalance,
		BuyTokenBalance:   t.Order.BuyTokenBalance,
		SigningScheme:     t.SigningScheme,
	}
}

// Encode serializes the trade record.
func (t *Trade) Encode() ([]byte, error) {
	if len(t.Signature) > maxSignatureLength {
		return nil, ErrMalformedTrade
	}
	flags, err := EncodeFlags(t.Flags())
	if err != nil {
		return nil, err
	}
	out := make([]byte, TradeHeaderLength+len(t.Signature))
	o := &t.Order
	binary.BigEndian.PutUint16(out[0:2], t.SellTokenIndex)
	binary.BigEndian.PutUint16(out[2:4], t.BuyTokenIndex)
	copy(out[4:24], o.Receiver[:])
	o.SellAmount.PutUint256(out[24:56])
	o.BuyAmount.PutUint256(out[56:88])
	binary.BigEndian.PutUint32(out[88:92], o.ValidTo)
	copy(out[92:124], o.AppData[:])
	o.FeeAmount.PutUint256(out[124:156])
	out[156] = flags
	t.ExecutedAmount.PutUint256(out[157:189])
	binary.BigEndian.PutUint16(out[189:191], uint16(len(t.Signature)))
	copy(out[TradeHeaderLength:], t.Signature)
	return out, nil
}

// DecodeTrade parses a trade record into t, resolving token indices against
// tokens. The signature slice aliases record.
func DecodeTrade(tokens []common.Address, record []byte, t *Trade) error {
	if len(record) < TradeHeaderLength {
		return ErrMalformedTrade
	}
	sigLen := int(binary.BigEndian.Uint16(record[189:191]))
	if len(record) != TradeHeaderLength+sigLen {
		return ErrMalformedTrade
	}
	flags, err := DecodeFlags(record[156])
	if err != nil {
		return err
	}
	t.SellTokenIndex = binary.BigEndian.Uint16(record[0:2])
	t.BuyTokenIndex = binary.BigEndian.Uint16(record[2:4])
	if int(t.SellTokenIndex) >= len(tokens) || int(t.BuyTokenIndex) >= len(tokens) {
		return ErrIndexOutOfRange
	}

	o := &t.Order
	o.SellToken = tokens[t.SellTokenIndex]
	o.BuyToken = tokens[t.BuyTokenIndex]
	copy(o.Receiver[:], record[4:24])
	o.SellAmount.SetBytes32(record[24:56])
	o.BuyAmount.SetBytes32(record[56:88])
	o.ValidTo = binary.BigEndian.Uint32(record[88:92])
	copy(o.AppData[:], record[92:124])
	o.FeeAmount.SetBytes32(record[124:156])
	o.Kind = flags.Kind
	o.PartiallyFillable = flags.PartiallyFillable
	o.SellTokenBalance = flags.SellTokenBalance
	o.BuyTokenBalance = flags.BuyTokenBalance

	t.SigningScheme = flags.SigningScheme
	t.ExecutedAmount.SetBytes32(record[157:189])
	t.Signature = record[TradeHeaderLength:]
	return nil
}
