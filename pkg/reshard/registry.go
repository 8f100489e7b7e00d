package reshard

import (
	"github.com/gomlx/reshard/pkg/core/distributed"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Registry holds an ordered list of reshard strategies and resolves, for a given
// (source, target) placement pair, the single strategy responsible for realizing the
// transition.
//
// A Registry is populated once at startup and read-only thereafter; it is passed explicitly
// to NewEngine rather than living as process-wide state, so tests can run scenario-specific
// strategy sets.
type Registry struct {
	funcs []Function
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a strategy to the registry. Registration order is the dispatch scan
// order; it is a tie-break only -- registered predicates are mutually exclusive, with
// cross-mesh specializations separated from their single-mesh counterparts by the
// mesh-equality check inside each predicate.
//
// Register is not safe to call concurrently with Find; populate the registry before use.
func (r *Registry) Register(f Function) {
	r.funcs = append(r.funcs, f)
}

// Find scans the registered strategies in order and returns the first whose predicate
// accepts the transition. It fails wrapping ErrNoSuitableStrategy if none match.
func (r *Registry) Find(src, dst *distributed.Placement) (Function, error) {
	for _, f := range r.funcs {
		if f.IsSuitable(src, dst) {
			klog.V(2).Infof("reshard: %s accepts transition %s -> %s", f.Name(), src, dst)
			return f, nil
		}
	}
	return nil, errors.Wrapf(ErrNoSuitableStrategy, "transition %s -> %s", src, dst)
}

// Functions returns the registered strategies in registration order.
func (r *Registry) Functions() []Function {
	return r.funcs
}

// DefaultRegistry returns a registry with the full family of strategies, in the reference
// registration order.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(PartialToReplicated{})
	r.Register(PartialToReplicatedCrossMesh{})
	r.Register(ReplicatedToSharded{})
	r.Register(ReplicatedToShardedCrossMesh{})
	r.Register(SameStatus{})
	r.Register(ShardedToReplicated{})
	r.Register(ShardedToReplicatedCrossMesh{})
	return r
}
