package reshard

import (
	"context"
	"slices"

	"github.com/gomlx/reshard/pkg/comms"
	"github.com/gomlx/reshard/pkg/core/distributed"
)

// SameStatus handles transitions that change where a tensor lives but not how it is laid
// out: the placement kind (sharding mapping and partial state) is unchanged, while the mesh
// is the same, a relabeling of the same process group, or a different process group entirely.
//
// It exists so downstream compiler logic can always request a reshard without special-casing
// the "nothing to do" condition:
//
//   - Placements strictly equal: no-op, the input tensor is returned unchanged.
//   - Same process set under a different logical mesh shape with equivalent per-axis
//     grouping: local relabel, no data movement.
//   - Different process group with the same mesh shape: pairwise point-to-point relocation
//     (see relocate).
type SameStatus struct{}

var _ Function = SameStatus{}

// Name implements Function.
func (SameStatus) Name() string { return "SameStatus" }

// IsSuitable implements Function.
func (SameStatus) IsSuitable(src, dst *distributed.Placement) bool {
	if src.Rank() != dst.Rank() {
		return false
	}
	if src.Equal(dst) {
		return true
	}
	if src.Mesh().SameProcessSet(dst.Mesh()) {
		return equivalentGrouping(src, dst)
	}
	return slices.Equal(src.Mesh().AxesSizes(), dst.Mesh().AxesSizes()) &&
		src.SameMapping(dst) &&
		src.SamePartial(dst)
}

// Eval implements Function.
func (SameStatus) Eval(ctx context.Context, proc comms.Process, t *distributed.Tensor, dst *distributed.Placement) (*distributed.Tensor, error) {
	src := t.Placement()
	if src.Equal(dst) {
		return t, nil
	}
	if src.Mesh().SameProcessSet(dst.Mesh()) {
		// Same processes, same per-axis grouping: relabel only, the local buffer is reused.
		return distributed.New(proc.Rank(), t.Local(), dst, t.GlobalShape())
	}
	return relocate(ctx, proc, t, dst)
}

// equivalentGrouping reports whether two placements of the same tensor rank induce the same
// per-process data: for every sharded tensor axis and every partial slot, the replica groups
// (and each process's position within them) agree between the two meshes. When it holds, a
// transition between the placements is a pure relabeling.
func equivalentGrouping(src, dst *distributed.Placement) bool {
	srcMapping, dstMapping := src.DimsMapping(), dst.DimsMapping()
	for i := range srcMapping {
		srcReplicated := srcMapping[i] == distributed.AxisReplicated
		dstReplicated := dstMapping[i] == distributed.AxisReplicated
		if srcReplicated != dstReplicated {
			return false
		}
		if srcReplicated {
			continue
		}
		if !sameReplicaGroups(src.Mesh(), srcMapping[i], dst.Mesh(), dstMapping[i]) {
			return false
		}
	}
	srcPartial, dstPartial := src.PartialAxes(), dst.PartialAxes()
	if len(srcPartial) != len(dstPartial) {
		return false
	}
	for i := range srcPartial {
		if !sameReplicaGroups(src.Mesh(), srcPartial[i], dst.Mesh(), dstPartial[i]) {
			return false
		}
	}
	return true
}

func sameReplicaGroups(m1 *distributed.DeviceMesh, axis1 int, m2 *distributed.DeviceMesh, axis2 int) bool {
	groups1, err := m1.ReplicaGroups(axis1)
	if err != nil {
		return false
	}
	groups2, err := m2.ReplicaGroups(axis2)
	if err != nil {
		return false
	}
	return slices.EqualFunc(groups1, groups2, slices.Equal)
}
