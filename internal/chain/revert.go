package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// revertSelector is the 4-byte selector of Error(string).
var revertSelector = ethcrypto.Keccak256([]byte("Error(string)"))[:4]

var stringArgs = func() abi.Arguments {
	t, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: t}}
}()

// Revert is the error returned by a failed call. Data holds the raw revert
// payload exactly as the failing contract produced it, so callers further up
// the stack can propagate it unchanged.
type Revert struct {
	Reason string
	Data   []byte
	cause  error
}

// Error returns the revert reason.
func (r *Revert) Error() string {
	if r.Reason == "" {
		return "execution reverted"
	}
	return r.Reason
}

// Unwrap exposes the sentinel the revert was raised from, if any.
func (r *Revert) Unwrap() error {
	return r.cause
}

// NewRevert raises a revert whose reason is the message of sentinel.
// errors.Is(err, sentinel) holds for the returned error.
func NewRevert(sentinel error) *Revert {
	reason := sentinel.Error()
	return &Revert{Reason: reason, Data: EncodeRevertReason(reason), cause: sentinel}
}

// Revertf raises a revert with a formatted reason string.
func Revertf(format string, args ...any) *Revert {
	reason := fmt.Sprintf(format, args...)
	return &Revert{Reason: reason, Data: EncodeRevertReason(reason)}
}

// RevertWithData raises a revert carrying raw return data. The reason is
// decoded when the payload is an Error(string).
func RevertWithData(data []byte) *Revert {
	reason, err := abi.UnpackRevert(data)
	if err != nil {
		reason = ""
	}
	return &Revert{Reason: reason, Data: append([]byte(nil), data...)}
}

// AsRevert extracts the *Revert from err.
func AsRevert(err error) (*Revert, bool) {
	var r *Revert
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// EncodeRevertReason ABI-encodes reason as Error(string) revert data.
func EncodeRevertReason(reason string) []byte {
	packed, err := stringArgs.Pack(reason)
	if err != nil {
		return nil
	}
	out := make([]byte, 0, len(revertSelector)+len(packed))
	out = append(out, revertSelector...)
	return append(out, packed...)
}

// ClassError is an error with a specific message that also matches a
// broader class under errors.Is.
type ClassError struct {
	Reason string
	Class  error
}

// NewClassError returns a ClassError.
func NewClassError(reason string, class error) *ClassError {
	return &ClassError{Reason: reason, Class: class}
}

func (e *ClassError) Error() string { return e.Reason }
func (e *ClassError) Unwrap() error { return e.Class }
