package reshard

import (
	"context"

	"github.com/gomlx/reshard/pkg/comms"
	"github.com/gomlx/reshard/pkg/core/distributed"
	"github.com/gomlx/reshard/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ShardedToReplicated gathers the per-process slices of one sharded tensor axis (an
// all-gather along the mesh axis being removed) and concatenates them in ascending
// mesh-coordinate order, so every process ends up holding the identical full tensor.
//
// The concatenation order exactly inverts the slicing order of ReplicatedToSharded, so the
// result is reproducible regardless of which process one observes.
type ShardedToReplicated struct{}

var _ Function = ShardedToReplicated{}

// Name implements Function.
func (ShardedToReplicated) Name() string { return "ShardedToReplicated" }

// IsSuitable implements Function: source shards exactly one tensor axis and carries no
// partial state, target is fully replicated, on the same mesh.
func (ShardedToReplicated) IsSuitable(src, dst *distributed.Placement) bool {
	return !src.IsPartial() &&
		len(shardedTensorAxes(src)) == 1 &&
		dst.IsReplicated() &&
		src.Rank() == dst.Rank() &&
		src.Mesh().Equal(dst.Mesh())
}

// Eval implements Function.
func (ShardedToReplicated) Eval(ctx context.Context, proc comms.Process, t *distributed.Tensor, dst *distributed.Placement) (*distributed.Tensor, error) {
	src := t.Placement()
	tensorAxis := shardedTensorAxes(src)[0]
	meshAxis := src.MeshAxisForTensorAxis(tensorAxis)
	mesh := src.Mesh()
	group, err := mesh.GroupFor(meshAxis, proc.Rank())
	if err != nil {
		return nil, errors.Wrapf(err, "%s: gather group for mesh axis %d", ShardedToReplicated{}.Name(), meshAxis)
	}
	parts, err := proc.AllGather(ctx, group, t.Local())
	if err != nil {
		return nil, errors.Wrapf(err, "%s: all-gather along mesh axis %d", ShardedToReplicated{}.Name(), meshAxis)
	}
	// parts arrive in group order == ascending mesh coordinate along meshAxis.
	local, err := tensors.Concat(parts, tensorAxis)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: concatenating gathered shards", ShardedToReplicated{}.Name())
	}
	global := t.GlobalShape()
	if local.Shape().Dim(tensorAxis) != global.Dim(tensorAxis) {
		return nil, errors.Wrapf(ErrShapeMismatch,
			"%s: gathered shards concatenate to dimension %d on axis %d, global shape %s expects %d",
			ShardedToReplicated{}.Name(), local.Shape().Dim(tensorAxis), tensorAxis, global, global.Dim(tensorAxis))
	}
	return distributed.New(proc.Rank(), local, dst, global)
}
