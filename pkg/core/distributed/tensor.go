package distributed

import (
	"fmt"

	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/gomlx/reshard/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Tensor is one process's view of a tensor distributed across a DeviceMesh: the local shard
// held by this process, the Placement describing the layout, and the global (logical,
// unsharded) shape the distributed value represents.
//
// The engine runs in SPMD style: every process holds its own distributed.Tensor value for the
// same logical tensor, differing only in the local shard. Tensor values are never mutated --
// every reshard produces a new Tensor, and the local buffer is reused only when the
// transformation is provably a no-op.
type Tensor struct {
	local       *tensors.Tensor
	placement   *Placement
	globalShape shapes.Shape
}

// New creates the view of a distributed tensor held by deviceID.
//
// It validates that the local shard's shape matches what the placement prescribes for this
// device given the global shape.
func New(deviceID int, local *tensors.Tensor, placement *Placement, globalShape shapes.Shape) (*Tensor, error) {
	if local == nil || placement == nil {
		return nil, errors.New("distributed.New: local tensor and placement cannot be nil")
	}
	want, err := placement.ShardShape(globalShape, deviceID)
	if err != nil {
		return nil, errors.Wrapf(err, "distributed.New: device %d", deviceID)
	}
	if !local.Shape().Equal(want) {
		return nil, errors.Errorf("distributed.New: device %d holds shard %s, but %s with global shape %s requires %s",
			deviceID, local.Shape(), placement, globalShape, want)
	}
	return &Tensor{
		local:       local,
		placement:   placement,
		globalShape: globalShape.Clone(),
	}, nil
}

// Absent creates the view of a distributed tensor held by a process that owns no shard of
// it: the process participates in a lock-step reshard call whose source mesh it does not
// belong to. Local() is nil on the returned value.
func Absent(placement *Placement, globalShape shapes.Shape) (*Tensor, error) {
	if placement == nil {
		return nil, errors.New("distributed.Absent: placement cannot be nil")
	}
	if placement.Rank() != globalShape.Rank() {
		return nil, errors.Errorf("distributed.Absent: placement %s has rank %d, but global shape %s has rank %d",
			placement, placement.Rank(), globalShape, globalShape.Rank())
	}
	return &Tensor{
		placement:   placement,
		globalShape: globalShape.Clone(),
	}, nil
}

// Local returns the shard of the tensor held by this process. It is nil for a tensor built
// with Absent, on a process outside the tensor's mesh.
func (t *Tensor) Local() *tensors.Tensor { return t.local }

// Placement describing how the tensor is laid out on its mesh.
func (t *Tensor) Placement() *Placement { return t.placement }

// Mesh the tensor is placed on. Shortcut to t.Placement().Mesh().
func (t *Tensor) Mesh() *DeviceMesh { return t.placement.Mesh() }

// GlobalShape is the logical, unsharded shape the distributed tensor represents.
func (t *Tensor) GlobalShape() shapes.Shape { return t.globalShape.Clone() }

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t == nil {
		return "distributed.Tensor<nil>"
	}
	local := "absent"
	if t.local != nil {
		local = t.local.Shape().String()
	}
	return fmt.Sprintf("distributed.Tensor{global=%s, local=%s, %s}", t.globalShape, local, t.placement)
}
