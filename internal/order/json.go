package order

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(text []byte) (err error) {
	*k, err = ParseKind(string(text))
	return err
}

func (b TokenBalance) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *TokenBalance) UnmarshalText(text []byte) (err error) {
	*b, err = ParseTokenBalance(string(text))
	return err
}

func (s SigningScheme) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SigningScheme) UnmarshalText(text []byte) (err error) {
	*s, err = ParseSigningScheme(string(text))
	return err
}

// orderJSON is the API form of an order. Amounts are decimal strings.
type orderJSON struct {
	SellToken         common.Address `json:"sellToken"`
	BuyToken          common.Address `json:"buyToken"`
	Receiver          common.Address `json:"receiver"`
	SellAmount        string         `json:"sellAmount"`
	BuyAmount         string         `json:"buyAmount"`
	ValidTo           uint32         `json:"validTo"`
	AppData           common.Hash    `json:"appData"`
	FeeAmount         string         `json:"feeAmount"`
	Kind              Kind           `json:"kind"`
	PartiallyFillable bool           `json:"partiallyFillable"`
	SellTokenBalance  TokenBalance   `json:"sellTokenBalance"`
	BuyTokenBalance   TokenBalance   `json:"buyTokenBalance"`
}

// MarshalJSON encodes the order in its API form.
func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		SellToken:         o.SellToken,
		BuyToken:          o.BuyToken,
		Receiver:          o.Receiver,
		SellAmount:        o.SellAmount.Dec(),
		BuyAmount:         o.BuyAmount.Dec(),
		ValidTo:           o.ValidTo,
		AppData:           o.AppData,
		FeeAmount:         o.FeeAmount.Dec(),
		Kind:              o.Kind,
		PartiallyFillable: o.PartiallyFillable,
		SellTokenBalance:  o.SellTokenBalance,
		BuyTokenBalance:   o.BuyTokenBalance,
	})
}

// UnmarshalJSON decodes the API form of an order. A missing fee or balance
// field takes its zero value.
func (o *Order) UnmarshalJSON(data []byte) error {
	var raw orderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Order{
		SellToken:         raw.SellToken,
		BuyToken:          raw.BuyToken,
		Receiver:          raw.Receiver,
		ValidTo:           raw.ValidTo,
		AppData:           raw.AppData,
		Kind:              raw.Kind,
		PartiallyFillable: raw.PartiallyFillable,
		SellTokenBalance:  raw.SellTokenBalance,
		BuyTokenBalance:   raw.BuyTokenBalance,
	}
	for _, f := range []struct {
		name string
		src  string
		dst  *uint256.Int
	}{
		{"sellAmount", raw.SellAmount, &out.SellAmount},
		{"buyAmount", raw.BuyAmount, &out.BuyAmount},
		{"feeAmount", raw.FeeAmount, &out.FeeAmount},
	} {
		if f.src == "" {
			continue
		}
		if err := f.dst.SetFromDecimal(f.src); err != nil {
			return fmt.Errorf("order: %s: %w", f.name, err)
		}
	}
	*o = out
	return nil
}
