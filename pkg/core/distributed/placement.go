package distributed

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/gomlx/reshard/pkg/support/sets"
	"github.com/pkg/errors"
)

// AxisReplicated marks a tensor axis that is not sharded over any mesh axis.
const AxisReplicated = -1

// Placement describes how one tensor's elements are distributed across a DeviceMesh.
//
// It is an immutable value with three parts:
//
//   - Mesh: the DeviceMesh the tensor lives on.
//   - DimsMapping: one entry per tensor axis, either AxisReplicated or the index of the mesh
//     axis that shards this tensor axis. A mesh axis shards at most one tensor axis.
//   - PartialAxes: the mesh axes over which the tensor is only partially summed -- each
//     process holds a partial contribution that must be sum-reduced to obtain the logical
//     value. A mesh axis cannot be simultaneously partial and used in DimsMapping.
//
// Two placements are compatible for a no-op iff mesh, DimsMapping and PartialAxes are all
// equal (see Equal).
type Placement struct {
	mesh        *DeviceMesh
	dimsMapping []int
	partialAxes []int // Sorted and deduplicated.
}

// NewPlacement creates a Placement. It validates the mapping and partial axes against the
// mesh, and normalizes partialAxes (sorting, deduplication).
func NewPlacement(mesh *DeviceMesh, dimsMapping []int, partialAxes ...int) (*Placement, error) {
	if mesh == nil {
		return nil, errors.New("NewPlacement: mesh cannot be nil")
	}
	dimsMapping = slices.Clone(dimsMapping)
	meshAxesUsed := sets.Make[int]()
	for tensorAxis, meshAxis := range dimsMapping {
		if meshAxis == AxisReplicated {
			continue
		}
		if meshAxis < 0 || meshAxis >= mesh.Rank() {
			return nil, errors.Errorf("NewPlacement: tensor axis %d maps to mesh axis %d, out-of-range for %s",
				tensorAxis, meshAxis, mesh)
		}
		if meshAxesUsed.Has(meshAxis) {
			return nil, errors.Errorf("NewPlacement: mesh axis %d shards more than one tensor axis", meshAxis)
		}
		meshAxesUsed.Insert(meshAxis)
	}
	partialSet := sets.Make[int](len(partialAxes))
	for _, meshAxis := range partialAxes {
		if meshAxis < 0 || meshAxis >= mesh.Rank() {
			return nil, errors.Errorf("NewPlacement: partial mesh axis %d out-of-range for %s", meshAxis, mesh)
		}
		if meshAxesUsed.Has(meshAxis) {
			return nil, errors.Errorf("NewPlacement: mesh axis %d cannot be both partial and sharding a tensor axis",
				meshAxis)
		}
		partialSet.Insert(meshAxis)
	}
	return &Placement{
		mesh:        mesh,
		dimsMapping: dimsMapping,
		partialAxes: sets.Sorted(partialSet),
	}, nil
}

// Replicated returns the Placement of a tensor of the given rank fully replicated on the mesh.
func Replicated(mesh *DeviceMesh, rank int) *Placement {
	dimsMapping := make([]int, rank)
	for i := range dimsMapping {
		dimsMapping[i] = AxisReplicated
	}
	p, _ := NewPlacement(mesh, dimsMapping)
	return p
}

// Mesh the tensor is placed on.
func (p *Placement) Mesh() *DeviceMesh { return p.mesh }

// Rank is the rank of the tensor this placement describes.
func (p *Placement) Rank() int { return len(p.dimsMapping) }

// DimsMapping returns a copy of the tensor-axis to mesh-axis mapping.
func (p *Placement) DimsMapping() []int { return slices.Clone(p.dimsMapping) }

// PartialAxes returns a copy of the sorted mesh axes carrying pending-sum partial state.
func (p *Placement) PartialAxes() []int { return slices.Clone(p.partialAxes) }

// IsPartial reports whether any mesh axis holds partial (pending-sum) state.
func (p *Placement) IsPartial() bool { return len(p.partialAxes) > 0 }

// IsSharded reports whether any tensor axis is sharded over a mesh axis.
func (p *Placement) IsSharded() bool {
	for _, meshAxis := range p.dimsMapping {
		if meshAxis != AxisReplicated {
			return true
		}
	}
	return false
}

// IsReplicated reports whether every process holds the identical, complete tensor: no
// sharding and no partial state.
func (p *Placement) IsReplicated() bool {
	return !p.IsSharded() && !p.IsPartial()
}

// MeshAxisForTensorAxis returns the mesh axis sharding the given tensor axis, or AxisReplicated.
func (p *Placement) MeshAxisForTensorAxis(tensorAxis int) int {
	return p.dimsMapping[tensorAxis]
}

// TensorAxisForMeshAxis returns the tensor axis sharded by the given mesh axis, or -1 if the
// mesh axis shards nothing.
func (p *Placement) TensorAxisForMeshAxis(meshAxis int) int {
	return slices.Index(p.dimsMapping, meshAxis)
}

// SameMapping reports whether p and p2 have identical DimsMapping, regardless of mesh or
// partial state.
func (p *Placement) SameMapping(p2 *Placement) bool {
	return slices.Equal(p.dimsMapping, p2.dimsMapping)
}

// SamePartial reports whether p and p2 have identical PartialAxes.
func (p *Placement) SamePartial(p2 *Placement) bool {
	return slices.Equal(p.partialAxes, p2.partialAxes)
}

// Equal reports whether p and p2 describe the same placement: same mesh (value equality, see
// DeviceMesh.Equal), same DimsMapping and same PartialAxes. This is the "compatible for a
// no-op" predicate.
func (p *Placement) Equal(p2 *Placement) bool {
	if p == p2 {
		return true
	}
	if p == nil || p2 == nil {
		return false
	}
	return p.mesh.Equal(p2.mesh) && p.SameMapping(p2) && p.SamePartial(p2)
}

// OnMesh returns a copy of the placement transplanted onto another mesh with the same rank --
// the mapping and partial axes are carried over unchanged. Used for cross-mesh relocation.
func (p *Placement) OnMesh(mesh *DeviceMesh) (*Placement, error) {
	if mesh.Rank() != p.mesh.Rank() {
		return nil, errors.Errorf("OnMesh: cannot carry placement from %s to %s, mesh ranks differ",
			p.mesh, mesh)
	}
	return NewPlacement(mesh, p.dimsMapping, p.partialAxes...)
}

// ShardSizes returns the dimension each of numShards contiguous shards gets from an axis of
// the given length: the first length%numShards shards get one extra element, so e.g. length
// 10 over 3 shards yields 4, 3, 3.
//
// It errors if length < numShards, which would leave some shard empty.
func ShardSizes(length, numShards int) ([]int, error) {
	if numShards <= 0 {
		return nil, errors.Errorf("ShardSizes: numShards must be > 0, got %d", numShards)
	}
	if length < numShards {
		return nil, errors.Errorf("ShardSizes: axis of length %d cannot be split into %d non-empty shards",
			length, numShards)
	}
	base, extra := length/numShards, length%numShards
	sizes := make([]int, numShards)
	for i := range sizes {
		sizes[i] = base
		if i < extra {
			sizes[i]++
		}
	}
	return sizes, nil
}

// ShardRange returns the [start, start+count) range of the shard with the given index, under
// the same balanced split rule as ShardSizes.
func ShardRange(length, numShards, index int) (start, count int, err error) {
	sizes, err := ShardSizes(length, numShards)
	if err != nil {
		return 0, 0, err
	}
	if index < 0 || index >= numShards {
		return 0, 0, errors.Errorf("ShardRange: shard index %d out-of-range for %d shards", index, numShards)
	}
	for i := 0; i < index; i++ {
		start += sizes[i]
	}
	return start, sizes[index], nil
}

// ShardShape returns the shape of the local shard held by deviceID for a tensor with the
// given global (logical, unsharded) shape under this placement.
//
// Partial axes do not affect the shard shape: a partial contribution has the full shape.
func (p *Placement) ShardShape(global shapes.Shape, deviceID int) (shapes.Shape, error) {
	if global.Rank() != p.Rank() {
		return shapes.Invalid(), errors.Errorf("ShardShape: global shape %s has rank %d, placement %s expects %d",
			global, global.Rank(), p, p.Rank())
	}
	coords, err := p.mesh.CoordinatesOf(deviceID)
	if err != nil {
		return shapes.Invalid(), err
	}
	local := global.Clone()
	for tensorAxis, meshAxis := range p.dimsMapping {
		if meshAxis == AxisReplicated {
			continue
		}
		_, count, err := ShardRange(global.Dimensions[tensorAxis], p.mesh.AxisSize(meshAxis), coords[meshAxis])
		if err != nil {
			return shapes.Invalid(), errors.Wrapf(err, "ShardShape: tensor axis %d over mesh axis %d", tensorAxis, meshAxis)
		}
		local.Dimensions[tensorAxis] = count
	}
	return local, nil
}

// String implements fmt.Stringer: e.g. `Placement{mesh=(x:2, y:2), mapping=[S(0), R], partial=[1]}`.
func (p *Placement) String() string {
	if p == nil {
		return "Placement<nil>"
	}
	var sb strings.Builder
	sb.WriteString("Placement{mapping=[")
	for i, meshAxis := range p.dimsMapping {
		if i > 0 {
			sb.WriteString(", ")
		}
		if meshAxis == AxisReplicated {
			sb.WriteString("R")
		} else {
			_, _ = fmt.Fprintf(&sb, "S(%s)", p.mesh.axesNames[meshAxis])
		}
	}
	sb.WriteString("]")
	if p.IsPartial() {
		_, _ = fmt.Fprintf(&sb, ", partial=%v", p.partialAxes)
	}
	_, _ = fmt.Fprintf(&sb, ", mesh=%s}", p.mesh)
	return sb.String()
}

// PlacementBuilder is a more ergonomic way of building a Placement.
type PlacementBuilder struct {
	mesh        *DeviceMesh
	dimsMapping []int
	partialAxes []int
	err         error
}

// BuildPlacement starts a PlacementBuilder on the given mesh.
//
// Example:
//
//	placement, err := distributed.BuildPlacement(mesh).S("model").R().Partial("batch").Done()
func BuildPlacement(mesh *DeviceMesh) *PlacementBuilder {
	return &PlacementBuilder{mesh: mesh}
}

// R adds a replicated tensor axis.
func (b *PlacementBuilder) R() *PlacementBuilder {
	b.dimsMapping = append(b.dimsMapping, AxisReplicated)
	return b
}

// S adds a tensor axis sharded over the named mesh axis.
func (b *PlacementBuilder) S(meshAxisName string) *PlacementBuilder {
	meshAxis, err := b.mesh.AxisByName(meshAxisName)
	if err != nil && b.err == nil {
		b.err = err
	}
	b.dimsMapping = append(b.dimsMapping, meshAxis)
	return b
}

// Partial marks the named mesh axes as carrying pending-sum partial state.
func (b *PlacementBuilder) Partial(meshAxisNames ...string) *PlacementBuilder {
	for _, name := range meshAxisNames {
		meshAxis, err := b.mesh.AxisByName(name)
		if err != nil && b.err == nil {
			b.err = err
		}
		b.partialAxes = append(b.partialAxes, meshAxis)
	}
	return b
}

// Done builds the Placement according to the builder specification.
func (b *PlacementBuilder) Done() (*Placement, error) {
	if b.err != nil {
		return nil, b.err
	}
	return NewPlacement(b.mesh, b.dimsMapping, b.partialAxes...)
}
