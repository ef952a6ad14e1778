package settlement

import "github.com/alanyoungcy/batchsettle/internal/chain"

// guard is the "currently executing" flag of the settlement entry points.
// It is held for the whole of one settle or swap and rejects any nested
// entry, whoever the caller is.
type guard struct {
	entered bool
}

// enter acquires the guard. The returned release must be deferred by the
// caller so that every exit path clears the flag.
func (g *guard) enter() (release func(), err error) {
	if g.entered {
		return nil, chain.NewRevert(ErrReentrantCall)
	}
	g.entered = true
	return func() { g.entered = false }, nil
}
