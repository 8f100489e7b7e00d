package distributed

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/gomlx/reshard/pkg/core/tensors"
	"github.com/stretchr/testify/require"
)

func TestNewTensor(t *testing.T) {
	mesh := mesh2x2(t)
	global := shapes.Make(dtypes.Float32, 10, 8)
	p, err := NewPlacement(mesh, []int{0, AxisReplicated})
	require.NoError(t, err)

	shard := tensors.FromScalarAndDimensions(float32(1), 5, 8)
	dt, err := New(1, shard, p, global)
	require.NoError(t, err)
	require.Same(t, shard, dt.Local())
	require.True(t, dt.Placement().Equal(p))
	require.True(t, dt.GlobalShape().Equal(global))

	// Wrong shard shape for the placement.
	_, err = New(1, tensors.FromScalarAndDimensions(float32(1), 10, 8), p, global)
	require.Error(t, err)
	// Device outside the mesh.
	_, err = New(99, shard, p, global)
	require.Error(t, err)
	_, err = New(1, nil, p, global)
	require.Error(t, err)
}

func TestAbsentTensor(t *testing.T) {
	mesh := mesh2x2(t)
	global := shapes.Make(dtypes.Float32, 10, 8)
	p := Replicated(mesh, 2)

	dt, err := Absent(p, global)
	require.NoError(t, err)
	require.Nil(t, dt.Local())
	require.True(t, dt.Placement().Equal(p))
	require.Contains(t, dt.String(), "absent")

	_, err = Absent(p, shapes.Make(dtypes.Float32, 10))
	require.Error(t, err)
	_, err = Absent(nil, global)
	require.Error(t, err)
}
