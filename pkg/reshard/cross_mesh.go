package reshard

import (
	"context"
	"slices"

	"github.com/pkg/errors"

	"github.com/gomlx/reshard/pkg/comms"
	"github.com/gomlx/reshard/pkg/core/distributed"
)

// crossMeshable reports whether src -> dst is a cross-mesh transition the relocation helper
// can serve: different meshes with identical logical shapes, so devices pair up one-to-one
// by row-major position.
func crossMeshable(src, dst *distributed.Placement) bool {
	return !src.Mesh().Equal(dst.Mesh()) &&
		slices.Equal(src.Mesh().AxesSizes(), dst.Mesh().AxesSizes())
}

// relocate moves a tensor to an equally-shaped mesh without changing its layout: device i of
// the source mesh sends its shard to device i of the destination mesh (row-major order), and
// the placement is carried over via Placement.OnMesh.
//
// Pairs where source and destination are the same process keep their local buffer. Meshes
// that overlap beyond such self-pairs are rejected with ErrPartialOverlapUnsupported: a
// process that would both send and receive in the same lock-step call cannot be ordered
// safely against its peers.
//
// Returns (nil, nil) on processes that are not part of the destination mesh.
func relocate(ctx context.Context, proc comms.Process, t *distributed.Tensor, dst *distributed.Placement) (*distributed.Tensor, error) {
	srcMesh, dstMesh := t.Mesh(), dst.Mesh()
	srcIDs, dstIDs := srcMesh.DeviceIDs(), dstMesh.DeviceIDs()
	if len(srcIDs) != len(dstIDs) {
		return nil, errors.Errorf("relocate: meshes %s and %s have different device counts", srcMesh, dstMesh)
	}
	if srcMesh.Overlaps(dstMesh) {
		for i := range srcIDs {
			if srcIDs[i] == dstIDs[i] {
				continue
			}
			if dstMesh.HasDevice(srcIDs[i]) || srcMesh.HasDevice(dstIDs[i]) {
				return nil, errors.Wrapf(ErrPartialOverlapUnsupported,
					"relocate: device pair %d -> %d straddles overlapping meshes %s and %s",
					srcIDs[i], dstIDs[i], srcMesh, dstMesh)
			}
		}
	}
	rank := proc.Rank()
	if i := slices.Index(srcIDs, rank); i >= 0 && dstIDs[i] != rank {
		if err := proc.Send(ctx, dstIDs[i], t.Local()); err != nil {
			return nil, errors.Wrapf(err, "relocate: send to %d", dstIDs[i])
		}
	}
	j := slices.Index(dstIDs, rank)
	if j < 0 {
		return nil, nil
	}
	local := t.Local()
	if srcIDs[j] != rank {
		expected, err := dst.ShardShape(t.GlobalShape(), rank)
		if err != nil {
			return nil, errors.Wrapf(err, "relocate: device %d", rank)
		}
		local, err = proc.Recv(ctx, srcIDs[j], expected)
		if err != nil {
			return nil, errors.Wrapf(err, "relocate: recv from %d", srcIDs[j])
		}
	}
	return distributed.New(rank, local, dst, t.GlobalShape())
}

// PartialToReplicatedCrossMesh is PartialToReplicated across two equally-shaped meshes: the
// partial shards are first relocated device-by-device to the destination mesh, then reduced
// there.
type PartialToReplicatedCrossMesh struct{}

var _ Function = PartialToReplicatedCrossMesh{}

// Name implements Function.
func (PartialToReplicatedCrossMesh) Name() string { return "PToRCrossMesh" }

// IsSuitable implements Function.
func (PartialToReplicatedCrossMesh) IsSuitable(src, dst *distributed.Placement) bool {
	return src.IsPartial() && !dst.IsPartial() && src.SameMapping(dst) && crossMeshable(src, dst)
}

// Eval implements Function.
func (f PartialToReplicatedCrossMesh) Eval(ctx context.Context, proc comms.Process, t *distributed.Tensor, dst *distributed.Placement) (*distributed.Tensor, error) {
	tmp, err := t.Placement().OnMesh(dst.Mesh())
	if err != nil {
		return nil, errors.Wrapf(err, "%s", f.Name())
	}
	moved, err := relocate(ctx, proc, t, tmp)
	if err != nil || moved == nil {
		return nil, err
	}
	return PartialToReplicated{}.Eval(ctx, proc, moved, dst)
}

// ReplicatedToShardedCrossMesh is ReplicatedToSharded across two equally-shaped meshes: the
// full replicas are relocated to the destination mesh, then each destination device slices
// out its own shard locally.
type ReplicatedToShardedCrossMesh struct{}

var _ Function = ReplicatedToShardedCrossMesh{}

// Name implements Function.
func (ReplicatedToShardedCrossMesh) Name() string { return "RToSCrossMesh" }

// IsSuitable implements Function.
func (ReplicatedToShardedCrossMesh) IsSuitable(src, dst *distributed.Placement) bool {
	return src.IsReplicated() && !dst.IsPartial() &&
		len(shardedTensorAxes(dst)) == 1 &&
		src.Rank() == dst.Rank() &&
		crossMeshable(src, dst)
}

// Eval implements Function.
func (f ReplicatedToShardedCrossMesh) Eval(ctx context.Context, proc comms.Process, t *distributed.Tensor, dst *distributed.Placement) (*distributed.Tensor, error) {
	tmp, err := t.Placement().OnMesh(dst.Mesh())
	if err != nil {
		return nil, errors.Wrapf(err, "%s", f.Name())
	}
	moved, err := relocate(ctx, proc, t, tmp)
	if err != nil || moved == nil {
		return nil, err
	}
	return ReplicatedToSharded{}.Eval(ctx, proc, moved, dst)
}

// ShardedToReplicatedCrossMesh is ShardedToReplicated across two equally-shaped meshes: the
// shards are relocated to the destination mesh (shard-sized transfers, not full replicas),
// then all-gathered there.
type ShardedToReplicatedCrossMesh struct{}

var _ Function = ShardedToReplicatedCrossMesh{}

// Name implements Function.
func (ShardedToReplicatedCrossMesh) Name() string { return "SToRCrossMesh" }

// IsSuitable implements Function.
func (ShardedToReplicatedCrossMesh) IsSuitable(src, dst *distributed.Placement) bool {
	return !src.IsPartial() &&
		len(shardedTensorAxes(src)) == 1 &&
		dst.IsReplicated() &&
		src.Rank() == dst.Rank() &&
		crossMeshable(src, dst)
}

// Eval implements Function.
func (f ShardedToReplicatedCrossMesh) Eval(ctx context.Context, proc comms.Process, t *distributed.Tensor, dst *distributed.Placement) (*distributed.Tensor, error) {
	tmp, err := t.Placement().OnMesh(dst.Mesh())
	if err != nil {
		return nil, errors.Wrapf(err, "%s", f.Name())
	}
	moved, err := relocate(ctx, proc, t, tmp)
	if err != nil || moved == nil {
		return nil, err
	}
	return ShardedToReplicated{}.Eval(ctx, proc, moved, dst)
}
