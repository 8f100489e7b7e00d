package distributed

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/stretchr/testify/require"
)

func mesh2x2(t *testing.T) *DeviceMesh {
	mesh, err := NewDeviceMesh([]int{2, 2}, []string{"x", "y"})
	require.NoError(t, err)
	return mesh
}

func TestNewPlacement(t *testing.T) {
	mesh := mesh2x2(t)

	p, err := NewPlacement(mesh, []int{0, AxisReplicated}, 1)
	require.NoError(t, err)
	require.Equal(t, 2, p.Rank())
	require.True(t, p.IsSharded())
	require.True(t, p.IsPartial())
	require.False(t, p.IsReplicated())
	require.Equal(t, 0, p.MeshAxisForTensorAxis(0))
	require.Equal(t, 0, p.TensorAxisForMeshAxis(0))
	require.Equal(t, -1, p.TensorAxisForMeshAxis(1))

	// A mesh axis shards at most one tensor axis.
	_, err = NewPlacement(mesh, []int{0, 0})
	require.Error(t, err)
	// A mesh axis cannot be simultaneously partial and sharding.
	_, err = NewPlacement(mesh, []int{0, AxisReplicated}, 0)
	require.Error(t, err)
	// Out-of-range mesh axes.
	_, err = NewPlacement(mesh, []int{2})
	require.Error(t, err)
	_, err = NewPlacement(mesh, []int{AxisReplicated}, 5)
	require.Error(t, err)

	// Partial axes are normalized: sorted and deduplicated.
	p, err = NewPlacement(mesh, []int{AxisReplicated}, 1, 0, 1)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, p.PartialAxes())

	replicated := Replicated(mesh, 3)
	require.True(t, replicated.IsReplicated())
	require.Equal(t, 3, replicated.Rank())
}

func TestPlacementBuilder(t *testing.T) {
	mesh := mesh2x2(t)

	p, err := BuildPlacement(mesh).S("y").R().Partial("x").Done()
	require.NoError(t, err)
	require.Equal(t, []int{1, AxisReplicated}, p.DimsMapping())
	require.Equal(t, []int{0}, p.PartialAxes())

	_, err = BuildPlacement(mesh).S("nope").Done()
	require.Error(t, err)
}

func TestPlacementEqual(t *testing.T) {
	mesh := mesh2x2(t)
	p1, err := NewPlacement(mesh, []int{0, AxisReplicated})
	require.NoError(t, err)
	p2, err := NewPlacement(mesh, []int{0, AxisReplicated})
	require.NoError(t, err)
	require.True(t, p1.Equal(p2))
	require.True(t, p1.SameMapping(p2))
	require.True(t, p1.SamePartial(p2))

	p3, err := NewPlacement(mesh, []int{0, AxisReplicated}, 1)
	require.NoError(t, err)
	require.False(t, p1.Equal(p3))
	require.True(t, p1.SameMapping(p3))
	require.False(t, p1.SamePartial(p3))

	other, err := mesh.WithDeviceIDs(4, 5, 6, 7)
	require.NoError(t, err)
	p4, err := p1.OnMesh(other)
	require.NoError(t, err)
	require.False(t, p1.Equal(p4))
	require.True(t, p1.SameMapping(p4))
}

func TestShardSizes(t *testing.T) {
	sizes, err := ShardSizes(10, 3)
	require.NoError(t, err)
	require.Equal(t, []int{4, 3, 3}, sizes)

	sizes, err = ShardSizes(12, 4)
	require.NoError(t, err)
	require.Equal(t, []int{3, 3, 3, 3}, sizes)

	// Shards cover the axis exactly.
	start := 0
	for i := range 3 {
		gotStart, count, err := ShardRange(10, 3, i)
		require.NoError(t, err)
		require.Equal(t, start, gotStart)
		start += count
	}
	require.Equal(t, 10, start)

	_, err = ShardSizes(2, 3)
	require.Error(t, err)
	_, _, err = ShardRange(10, 3, 3)
	require.Error(t, err)
}

func TestShardShape(t *testing.T) {
	mesh := mesh2x2(t)
	global := shapes.Make(dtypes.Float32, 10, 8)

	p, err := NewPlacement(mesh, []int{0, AxisReplicated})
	require.NoError(t, err)

	// Mesh axis "x" has size 2: rows split 5/5 regardless of the "y" coordinate.
	for deviceID := 0; deviceID < 4; deviceID++ {
		local, err := p.ShardShape(global, deviceID)
		require.NoError(t, err)
		require.Equal(t, []int{5, 8}, local.Dimensions)
	}

	// Partial state does not change the shard shape.
	p, err = NewPlacement(mesh, []int{AxisReplicated, AxisReplicated}, 0)
	require.NoError(t, err)
	local, err := p.ShardShape(global, 3)
	require.NoError(t, err)
	require.Equal(t, []int{10, 8}, local.Dimensions)

	// Rank mismatch.
	_, err = p.ShardShape(shapes.Make(dtypes.Float32, 10), 0)
	require.Error(t, err)
	// Unknown device.
	_, err = p.ShardShape(global, 99)
	require.Error(t, err)
	// Axis shorter than the mesh axis sharding it.
	p, err = NewPlacement(mesh, []int{AxisReplicated, 1})
	require.NoError(t, err)
	_, err = p.ShardShape(shapes.Make(dtypes.Float32, 10, 1), 0)
	require.Error(t, err)
}
