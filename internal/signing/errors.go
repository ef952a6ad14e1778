package signing

import (
	"errors"

	"github.com/alanyoungcy/batchsettle/internal/chain"
)

// ErrInvalidSignature is matched by every scheme-specific invalid signature
// error.
var ErrInvalidSignature = errors.New("invalid signature")

// ErrMalformedSignature is matched by every scheme-specific malformed
// signature error.
var ErrMalformedSignature = errors.New("malformed signature")

var (
	ErrMalformedECDSASignature  = chain.NewClassError("GPv2: malformed ecdsa signature", ErrMalformedSignature)
	ErrMalformedEIP1271         = chain.NewClassError("GPv2: malformed eip1271 signature", ErrMalformedSignature)
	ErrMalformedAuthorization   = chain.NewClassError("GPv2: malformed presignature", ErrMalformedSignature)
	ErrInvalidEIP712Signature   = chain.NewClassError("GPv2: invalid eip712 signature", ErrInvalidSignature)
	ErrInvalidEthSignSignature  = chain.NewClassError("GPv2: invalid ethsign signature", ErrInvalidSignature)
	ErrInvalidEIP1271Signature  = chain.NewClassError("GPv2: invalid eip1271 signature", ErrInvalidSignature)
	ErrOrderNotPreAuthorized    = errors.New("GPv2: order not presigned")
	ErrInvalidSigningScheme     = errors.New("GPv2: invalid signing scheme")
	ErrUnsupportedSigningScheme = errors.New("signing: scheme cannot be produced from a private key")
)
