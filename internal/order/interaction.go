package order

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// InteractionHeaderLength is target 20 | value 32, followed by calldata.
const InteractionHeaderLength = 20 + 32

// Interaction is an arbitrary call the settlement makes on a solver's
// behalf.
type Interaction struct {
	Target   common.Address
	Value    uint256.Int
	CallData []byte
}

// Selector returns the first four calldata bytes, or zero when the
// calldata is shorter than that.
func (i *Interaction) Selector() [4]byte {
	var sel [4]byte
	if len(i.CallData) >= 4 {
		copy(sel[:], i.CallData[:4])
	}
	return sel
}

// Encode serializes the interaction.
func (i *Interaction) Encode() []byte {
	out := make([]byte, InteractionHeaderLength+len(i.CallData))
	copy(out[0:20], i.Target[:])
	i.Value.PutUint256(out[20:52])
	copy(out[InteractionHeaderLength:], i.CallData)
	return out
}

// DecodeInteraction parses b into i. CallData aliases b.
func DecodeInteraction(b []byte, i *Interaction) error {
	if len(b) < InteractionHeaderLength {
		return ErrMalformedInteraction
	}
	copy(i.Target[:], b[0:20])
	i.Value.SetBytes32(b[20:52])
	i.CallData = b[InteractionHeaderLength:]
	return nil
}
