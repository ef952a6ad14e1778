package order

// Trade flags bit layout:
//
//	bit 0     kind (0 sell, 1 buy)
//	bit 1     partially fillable
//	bits 2-3  sell token balance (00 erc20, 10 external, 11 internal)
//	bit 4     buy token balance (0 erc20, 1 internal)
//	bits 5-6  signing scheme
//	bit 7     reserved, must be zero
const (
	flagKindBuy         = 0x01
	flagPartial         = 0x02
	sellBalanceMask     = 0x0c
	sellBalanceExternal = 0x08
	sellBalanceInternal = 0x0c
	flagBuyInternal     = 0x10
	schemeShift         = 5
	schemeMask          = 0x03 << schemeShift
	flagReserved        = 0x80
)

// Flags are the fields of an order that travel packed in one byte.
type Flags struct {
	Kind              Kind
	PartiallyFillable bool
	SellTokenBalance  TokenBalance
	BuyTokenBalance   TokenBalance
	SigningScheme     SigningScheme
}

// EncodeFlags packs f. External buy balances have no encoding.
func EncodeFlags(f Flags) (byte, error) {
	var b byte
	switch f.Kind {
	case KindSell:
	case KindBuy:
		b |= flagKindBuy
	default:
		return 0, ErrInvalidFlags
	}
	if f.PartiallyFillable {
		b |= flagPartial
	}
	switch f.SellTokenBalance {
	case BalanceERC20:
	case BalanceExternal:
		b |= sellBalanceExternal
	case BalanceInternal:
		b |= sellBalanceInternal
	default:
		return 0, ErrInvalidFlags
	}
	switch f.BuyTokenBalance {
	case BalanceERC20:
	case BalanceInternal:
		b |= flagBuyInternal
	default:
		return 0, ErrInvalidFlags
	}
	if f.SigningScheme > SchemePreSign {
		return 0, ErrInvalidFlags
	}
	b |= byte(f.SigningScheme) << schemeShift
	return b, nil
}

// DecodeFlags unpacks b, rejecting reserved bit patterns.
func DecodeFlags(b byte) (Flags, error) {
	var f Flags
	if b&flagReserved != 0 {
		return f, ErrInvalidFlags
	}
	if b&flagKindBuy != 0 {
		f.Kind = KindBuy
	}
	f.PartiallyFillable = b&flagPartial != 0
	switch b & sellBalanceMask {
	case 0:
		f.SellTokenBalance = BalanceERC20
	case sellBalanceExternal:
		f.SellTokenBalance = BalanceExternal
	case sellBalanceInternal:
		f.SellTokenBalance = BalanceInternal
	default:
		return f, ErrInvalidFlags
	}
	if b&flagBuyInternal != 0 {
		f.BuyTokenBalance = BalanceInternal
	}
	f.SigningScheme = SigningScheme((b & schemeMask) >> schemeShift)
	return f, nil
}
