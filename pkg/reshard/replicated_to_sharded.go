package reshard

import (
	"context"

	"github.com/gomlx/reshard/pkg/comms"
	"github.com/gomlx/reshard/pkg/core/distributed"
	"github.com/gomlx/reshard/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ReplicatedToSharded shards one tensor axis of a fully replicated tensor over one mesh
// axis. Because every process already holds the full tensor, this is a pure local slice --
// no communication: each process computes which contiguous range is its own from its own
// mesh coordinate.
//
// Uneven axes split balanced: the first `length % k` shards get one element more, e.g.
// length 10 over 3 processes yields shard sizes 4, 3, 3.
type ReplicatedToSharded struct{}

var _ Function = ReplicatedToSharded{}

// Name implements Function.
func (ReplicatedToSharded) Name() string { return "ReplicatedToSharded" }

// IsSuitable implements Function: source is fully replicated, target introduces exactly one
// shard assignment and no partial state, on the same mesh.
func (ReplicatedToSharded) IsSuitable(src, dst *distributed.Placement) bool {
	return src.IsReplicated() &&
		!dst.IsPartial() &&
		len(shardedTensorAxes(dst)) == 1 &&
		src.Rank() == dst.Rank() &&
		src.Mesh().Equal(dst.Mesh())
}

// Eval implements Function.
func (ReplicatedToSharded) Eval(ctx context.Context, proc comms.Process, t *distributed.Tensor, dst *distributed.Placement) (*distributed.Tensor, error) {
	tensorAxis := shardedTensorAxes(dst)[0]
	meshAxis := dst.MeshAxisForTensorAxis(tensorAxis)
	mesh := dst.Mesh()
	coords, err := mesh.CoordinatesOf(proc.Rank())
	if err != nil {
		return nil, errors.Wrapf(err, "%s", ReplicatedToSharded{}.Name())
	}
	global := t.GlobalShape()
	start, count, err := distributed.ShardRange(global.Dim(tensorAxis), mesh.AxisSize(meshAxis), coords[meshAxis])
	if err != nil {
		return nil, errors.Wrapf(ErrUnshardableDimension,
			"%s: tensor axis %d of length %d over mesh axis %d of size %d",
			ReplicatedToSharded{}.Name(), tensorAxis, global.Dim(tensorAxis), meshAxis, mesh.AxisSize(meshAxis))
	}
	local, err := tensors.Slice(t.Local(), tensorAxis, start, count)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: slicing own shard", ReplicatedToSharded{}.Name())
	}
	return distributed.New(proc.Rank(), local, dst, global)
}

// shardedTensorAxes returns the tensor axes a placement shards, in ascending order.
func shardedTensorAxes(p *distributed.Placement) []int {
	var axes []int
	for tensorAxis, meshAxis := range p.DimsMapping() {
		if meshAxis != distributed.AxisReplicated {
			axes = append(axes, tensorAxis)
		}
	}
	return axes
}
