package settlement

import (
	"context"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/alanyoungcy/batchsettle/internal/order"
)

// Phase is the point of a settlement at which an interaction list runs.
type Phase int

const (
	// PhasePre runs before any trade is computed or funds are moved.
	PhasePre Phase = iota
	// PhaseIntra runs once sell amounts are in the settlement and before
	// buy amounts are paid out.
	PhaseIntra
	// PhasePost runs after every payout.
	PhasePost
)

// NumPhases is the number of interaction lists a batch carries.
const NumPhases = 3

func (p Phase) String() string {
	switch p {
	case PhasePre:
		return "pre"
	case PhaseIntra:
		return "intra"
	case PhasePost:
		return "post"
	default:
		return "unknown"
	}
}

// executeInteractions runs one phase's interactions in order. The first
// failure aborts, carrying the callee's revert data unchanged.
func (s *Settlement) executeInteractions(ctx context.Context, env *chain.Env, encoded [][]byte) error {
	var in order.Interaction
	for _, raw := range encoded {
		if err := order.DecodeInteraction(raw, &in); err != nil {
			return chain.NewRevert(err)
		}
		if in.Target == s.relayer {
			return chain.NewRevert(ErrForbiddenInteraction)
		}
		if _, err := env.Call(ctx, in.Target, &in.Value, in.CallData); err != nil {
			return err
		}
		if err := s.emitInteraction(env, &in); err != nil {
			return err
		}
	}
	return nil
}
