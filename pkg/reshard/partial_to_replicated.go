package reshard

import (
	"context"

	"github.com/gomlx/reshard/pkg/comms"
	"github.com/gomlx/reshard/pkg/core/distributed"
	"github.com/pkg/errors"
)

// PartialToReplicated resolves pending-sum partial state on a single mesh: one sum
// all-reduce per partial mesh axis, in ascending axis order, after which every process in
// each reduction group holds the fully reduced value. The tensor shape and the sharding
// mapping are unchanged.
type PartialToReplicated struct{}

var _ Function = PartialToReplicated{}

// Name implements Function.
func (PartialToReplicated) Name() string { return "PartialToReplicated" }

// IsSuitable implements Function: source carries partial state, target carries none, the
// sharding mapping is unchanged and both placements live on the same mesh.
func (PartialToReplicated) IsSuitable(src, dst *distributed.Placement) bool {
	return src.IsPartial() &&
		!dst.IsPartial() &&
		src.SameMapping(dst) &&
		src.Mesh().Equal(dst.Mesh())
}

// Eval implements Function.
func (PartialToReplicated) Eval(ctx context.Context, proc comms.Process, t *distributed.Tensor, dst *distributed.Placement) (*distributed.Tensor, error) {
	mesh := t.Mesh()
	local := t.Local()
	// Ascending mesh-axis order keeps the multi-axis reduction deterministic for a fixed
	// topology.
	for _, meshAxis := range t.Placement().PartialAxes() {
		group, err := mesh.GroupFor(meshAxis, proc.Rank())
		if err != nil {
			return nil, errors.Wrapf(err, "%s: reduction group for mesh axis %d", PartialToReplicated{}.Name(), meshAxis)
		}
		local, err = proc.AllReduceSum(ctx, group, local)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: all-reduce along mesh axis %d", PartialToReplicated{}.Name(), meshAxis)
		}
	}
	return distributed.New(proc.Rank(), local, dst, t.GlobalShape())
}
