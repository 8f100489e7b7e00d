// Package reshard implements the distributed-tensor reshard engine: given a tensor laid out
// across a device mesh according to one distributed.Placement, it produces an equivalent
// tensor laid out according to a different, target Placement.
//
// The engine classifies each (source, target) transition into one of a family of strategies
// -- partial→replicated, replicated→sharded, sharded→replicated, same-status, and cross-mesh
// variants of each -- and executes the matching one against the communication layer (see the
// comms package). Strategies are held by a Registry and dispatched first-match; the Engine is
// the single public entry point.
//
// Execution is SPMD: every process participating in a transition calls Engine.Reshard with
// the same source and target placements and the same global shape, each on its own shard.
// A transition that does not fit a single strategy cell (e.g. changing the shard axis and
// resolving a partial sum at once) must be decomposed upstream into a sequence of single-cell
// transitions; the engine performs no multi-step planning.
package reshard

import (
	"context"

	"github.com/gomlx/reshard/pkg/comms"
	"github.com/gomlx/reshard/pkg/core/distributed"
)

// Function is one reshard strategy: a suitability predicate over placement transitions and
// the evaluation that realizes a matching transition.
//
// Implementations are stateless values registered once at startup; the same Function value
// serves every process and every call.
type Function interface {
	// Name identifies the strategy in logs and errors.
	Name() string

	// IsSuitable reports whether this strategy realizes the transition from src to dst.
	// Predicates of distinct registered strategies are mutually exclusive -- each covers
	// exactly one cell of the (placement-kind transition × mesh relation) matrix.
	IsSuitable(src, dst *distributed.Placement) bool

	// Eval executes the transition on this process's shard and returns the resulting view.
	//
	// It returns (nil, nil) when this process holds no piece of the result -- only possible
	// on cross-mesh transitions, for processes outside the target mesh.
	Eval(ctx context.Context, proc comms.Process, t *distributed.Tensor, dst *distributed.Placement) (*distributed.Tensor, error)
}
