package reshard

import (
	"github.com/gomlx/reshard/pkg/comms"
	"github.com/pkg/errors"
)

// Error taxonomy of the reshard engine. All are unrecoverable at the point of detection and
// surface directly to the caller, wrapped with transition context -- match with errors.Is.
// The engine never falls back to a different strategy when the intended one fails.
var (
	// ErrNoSuitableStrategy means no registered strategy matches the (source, target)
	// placement transition.
	ErrNoSuitableStrategy = errors.New("no suitable reshard strategy for transition")

	// ErrShapeMismatch means local buffer shapes are inconsistent with the declared
	// placement -- a precondition violation upstream. It aliases the communication layer's
	// sentinel so faults detected there surface unmodified.
	ErrShapeMismatch = comms.ErrShapeMismatch

	// ErrUnshardableDimension means a requested shard count cannot be applied to a tensor
	// axis without producing an empty shard.
	ErrUnshardableDimension = errors.New("tensor axis cannot be sharded into this many non-empty slices")

	// ErrUnreachablePeer means a cross-mesh relocation requires a process pairing the
	// communication layer cannot resolve. Aliases the communication layer's sentinel.
	ErrUnreachablePeer = comms.ErrUnknownPeer

	// ErrPartialOverlapUnsupported means source and target meshes overlap in a way that
	// would require one process to play two relocation roles at once; the transition is
	// rejected rather than guessing intent.
	ErrPartialOverlapUnsupported = errors.New("partially overlapping source and target meshes are not supported")
)
