package reshard

import (
	"context"

	"github.com/gomlx/reshard/pkg/comms"
	"github.com/gomlx/reshard/pkg/core/distributed"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Phase tracks a reshard call through its lifecycle. There is no retry phase: communication
// failures are fatal to the current call, retries (if any) belong to the communication layer.
type Phase int

const (
	// PhaseUnresolved : source and target placements differ, no strategy selected yet.
	PhaseUnresolved Phase = iota
	// PhaseDispatched : a strategy accepted the transition.
	PhaseDispatched
	// PhaseTransforming : collective/point-to-point operations issued.
	PhaseTransforming
	// PhaseResolved : placements equal, data consistent. Terminal.
	PhaseResolved
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseUnresolved:
		return "Unresolved"
	case PhaseDispatched:
		return "Dispatched"
	case PhaseTransforming:
		return "Transforming"
	case PhaseResolved:
		return "Resolved"
	}
	return "InvalidPhase"
}

// Engine is one process's reshard engine: a strategy registry plus this process's handle
// into the communication fabric.
//
// The engine holds no mutable state across calls -- the registry is read-only after startup
// and placements/tensors are immutable values -- so a single Engine serves any number of
// sequential reshard calls. Each call blocks until this process's local contribution
// completes; the actual parallelism is across processes, each running the same strategy on
// its own shard (SPMD). Cancellation and deadlines come from the caller's ctx and are honored
// by the communication layer; the engine imposes none of its own.
type Engine struct {
	registry *Registry
	proc     comms.Process
}

// NewEngine creates an engine over the given strategy registry and process handle.
// Use DefaultRegistry() for the standard strategy family.
func NewEngine(registry *Registry, proc comms.Process) *Engine {
	return &Engine{registry: registry, proc: proc}
}

// Process returns the communication handle this engine issues operations through.
func (e *Engine) Process() comms.Process { return e.proc }

// Reshard transforms t into an equivalent tensor with the dst placement. It is the only
// public entry point of the engine.
//
// All processes participating in the transition must call Reshard in lock-step with the
// same source placement, target placement and global shape -- mismatched calls produce
// undefined communication behavior, which is a caller contract, not a fault the engine
// detects.
//
// The input is never mutated; the returned tensor shares the input's local buffer only when
// the transformation is provably a no-op. On cross-mesh transitions, a process that holds no
// piece of the result (it is outside the target mesh) receives (nil, nil).
func (e *Engine) Reshard(ctx context.Context, t *distributed.Tensor, dst *distributed.Placement) (*distributed.Tensor, error) {
	src := t.Placement()
	if src.Equal(dst) {
		// Compatible for a no-op: same mesh, mapping and partials.
		return t, nil
	}
	rank := e.proc.Rank()
	if !src.Mesh().HasDevice(rank) && !dst.Mesh().HasDevice(rank) {
		klog.V(1).Infof("reshard: rank %d takes no part in transition %s -> %s", rank, src, dst)
		return nil, nil
	}

	phase := PhaseUnresolved
	fn, err := e.registry.Find(src, dst)
	if err != nil {
		return nil, err
	}
	phase = PhaseDispatched
	klog.V(1).Infof("reshard: rank %d %s: %s for %s -> %s", rank, phase, fn.Name(), src, dst)

	phase = PhaseTransforming
	out, err := fn.Eval(ctx, e.proc, t, dst)
	if err != nil {
		return nil, errors.Wrapf(err, "reshard: rank %d %s failed in phase %s", rank, fn.Name(), phase)
	}
	phase = PhaseResolved
	klog.V(1).Infof("reshard: rank %d %s: %s done", rank, phase, fn.Name())
	return out, nil
}
