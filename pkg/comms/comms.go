// Package comms defines the communication layer the reshard engine is built on: per-process
// handles to collective and point-to-point operations over a world of SPMD processes.
//
// The engine consumes this interface; it does not implement transport. The localfabric
// sub-package provides an in-process implementation used by tests and the simulator; a real
// deployment would plug in a fabric backed by NCCL/gloo/RPC with the same contract.
//
// Contract, shared by every implementation:
//
//   - Groups are slices of global process ids. Every member of a group must call the same
//     collective with the same group (same order) -- the SPMD lock-step contract. Collectives
//     match by per-process program order within a group; the layer provides no other
//     coordination and does not detect mismatched calls.
//   - Calls block until the local contribution completes, and honor ctx cancellation.
//   - Failures are final: the layer never retries, the caller treats any error as fatal for
//     the operation in flight.
package comms

import (
	"context"

	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/gomlx/reshard/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Sentinel errors of the communication layer. Use errors.Is to test for them.
var (
	// ErrUnknownPeer is returned when a process id cannot be resolved to a channel.
	ErrUnknownPeer = errors.New("unknown peer process")

	// ErrShapeMismatch is returned when the buffers contributed to a collective do not have
	// identical shapes across the group.
	ErrShapeMismatch = errors.New("buffer shapes differ across collective group")
)

// Process is one process's handle into the communication fabric. All methods block until the
// local contribution to the operation completes.
//
// A Process handle is used by a single goroutine at a time (the process it represents);
// distinct handles of the same fabric are safe to use concurrently.
type Process interface {
	// Rank is the global id of this process in the world.
	Rank() int

	// WorldSize is the total number of processes in the fabric.
	WorldSize() int

	// AllReduceSum element-wise sums the tensors contributed by every member of group and
	// returns the reduced tensor to each of them. The reduction is deterministic: every
	// member accumulates in ascending group order, so all members receive bit-identical
	// results. The result dtype equals the input dtype.
	AllReduceSum(ctx context.Context, group []int, t *tensors.Tensor) (*tensors.Tensor, error)

	// AllGather returns, to every member of group, the tensors contributed by all members in
	// group order. Contributions may differ in shape (e.g. uneven shards).
	AllGather(ctx context.Context, group []int, t *tensors.Tensor) ([]*tensors.Tensor, error)

	// Send delivers a copy of t to process `to`. It blocks until the receiver has picked the
	// value up (rendezvous semantics).
	Send(ctx context.Context, to int, t *tensors.Tensor) error

	// Recv blocks until a tensor arrives from process `from`, and checks it has the expected
	// shape (ErrShapeMismatch otherwise).
	Recv(ctx context.Context, from int, expected shapes.Shape) (*tensors.Tensor, error)
}
