// Package distributed defines the data model for cross-device tensors:
//
//   - DeviceMesh: the logical topology of a set of processes/devices, in terms of axes and their sizes.
//   - Placement: how one tensor's elements are laid out on a DeviceMesh (sharding and partial state).
//   - Tensor: one process's view of a tensor distributed across a DeviceMesh.
//
// These are the inputs and outputs of the reshard engine (see the reshard package).
package distributed

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/reshard/pkg/support/sets"
	"github.com/gomlx/reshard/pkg/support/xslices"
	"github.com/pkg/errors"
)

// DeviceMesh defines the logical topology of a set of processes (devices).
//
// A mesh is an N-dimensional arrangement of global device ids, with named axes. Meshes are
// values: they are never mutated after creation, and two meshes with the same axes sizes and
// the same device ids (in the same row-major order) are the same mesh for matching purposes
// -- see DeviceMesh.Equal.
type DeviceMesh struct {
	name string

	// axesNames are the names of the mesh axes.
	axesNames []string

	// axesSizes defines the number of devices along each mesh axis.
	axesSizes []int

	// nameToAxis maps axis names to their index.
	nameToAxis map[string]int

	// deviceIDs is the list of global device (process) ids in the mesh, in row-major mesh order.
	deviceIDs []int
}

const DefaultMeshName = "mesh"

// IsNameValid checks whether a name is a valid identifier for a mesh name or axis name.
func IsNameValid(name string) bool {
	if name == "" {
		return false
	}
	if name[0] >= '0' && name[0] <= '9' {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return false
	}
	return true
}

// NewDeviceMesh creates a new logical topology of a set of processes.
//
//   - axesSizes: defines the number of devices along each mesh axis, one value per axis.
//   - axesNames: the names of the mesh axes, one value per axis. They must be valid
//     identifiers (see IsNameValid).
//
// The mesh is assigned the sequential device ids 0..NumDevices()-1 -- use WithDeviceIDs to
// derive a mesh over a different process group (as needed for cross-mesh resharding).
//
// A DeviceMesh can also be assigned a name, but because there is usually only one mesh, it
// defaults to "mesh" (DefaultMeshName).
func NewDeviceMesh(axesSizes []int, axesNames []string) (*DeviceMesh, error) {
	if len(axesSizes) != len(axesNames) {
		return nil, errors.Errorf("axesSizes and axesNames must have the same length, got %d and %d",
			len(axesSizes), len(axesNames))
	}
	if len(axesSizes) == 0 {
		return nil, errors.New("DeviceMesh axesSizes cannot be empty")
	}

	axesNames = slices.Clone(axesNames)
	numDevices := 1
	nameToAxis := make(map[string]int, len(axesSizes))
	for i, name := range axesNames {
		if !IsNameValid(name) {
			return nil, errors.Errorf(
				"DeviceMesh axis name %q at index %d is not a valid identifier, it must start with an ASCII letter "+
					"and be followed only by letters, numbers or underscore", name, i)
		}
		if _, found := nameToAxis[name]; found {
			return nil, errors.Errorf("DeviceMesh axis name %q is duplicated", name)
		}
		if axesSizes[i] <= 0 {
			return nil, errors.Errorf("DeviceMesh axis %q must have size > 0, got %d", name, axesSizes[i])
		}
		nameToAxis[name] = i
		numDevices *= axesSizes[i]
	}

	m := &DeviceMesh{
		name:       DefaultMeshName,
		axesNames:  axesNames,
		axesSizes:  axesSizes,
		nameToAxis: nameToAxis,
		deviceIDs:  xslices.Iota(0, numDevices),
	}
	return m, nil
}

// WithDeviceIDs returns a copy of the mesh holding the given global device ids, in row-major
// mesh order. The number of ids must match NumDevices() and they must not repeat.
//
// The receiver is unchanged: meshes are immutable values.
func (m *DeviceMesh) WithDeviceIDs(deviceIDs ...int) (*DeviceMesh, error) {
	if len(deviceIDs) != m.NumDevices() {
		return nil, errors.Errorf("deviceIDs must have %d elements (NumDevices()), got %d",
			m.NumDevices(), len(deviceIDs))
	}
	seen := sets.Make[int](len(deviceIDs))
	for _, device := range deviceIDs {
		if device < 0 {
			return nil, errors.Errorf("device ids must be >= 0, got %d", device)
		}
		if seen.Has(device) {
			return nil, errors.Errorf("device id %d is duplicated in mesh assignment", device)
		}
		seen.Insert(device)
	}
	m2 := &DeviceMesh{
		name:       m.name,
		axesNames:  m.axesNames,
		axesSizes:  m.axesSizes,
		nameToAxis: m.nameToAxis,
		deviceIDs:  slices.Clone(deviceIDs),
	}
	return m2, nil
}

// WithName returns a copy of the mesh with the given name. The name is a label only, it does
// not participate in mesh equality.
func (m *DeviceMesh) WithName(name string) *DeviceMesh {
	m2 := &DeviceMesh{
		name:       name,
		axesNames:  m.axesNames,
		axesSizes:  m.axesSizes,
		nameToAxis: m.nameToAxis,
		deviceIDs:  m.deviceIDs,
	}
	return m2
}

// Name returns the mesh name.
func (m *DeviceMesh) Name() string {
	return m.name
}

// NumDevices returns the total number of devices in the mesh.
func (m *DeviceMesh) NumDevices() int {
	return len(m.deviceIDs)
}

// Rank returns the number of axes in the mesh.
func (m *DeviceMesh) Rank() int {
	return len(m.axesSizes)
}

// AxesNames returns a copy of the mesh's axis names.
func (m *DeviceMesh) AxesNames() []string {
	return slices.Clone(m.axesNames)
}

// AxesSizes returns a copy of the mesh's axes sizes.
func (m *DeviceMesh) AxesSizes() []int {
	return slices.Clone(m.axesSizes)
}

// AxisSize returns the number of devices along the given mesh axis index.
func (m *DeviceMesh) AxisSize(axis int) int {
	return m.axesSizes[axis]
}

// AxisByName returns the index of the axis with the given name.
func (m *DeviceMesh) AxisByName(name string) (int, error) {
	idx, found := m.nameToAxis[name]
	if !found {
		return 0, errors.Errorf("mesh axis %q not found in %s", name, m)
	}
	return idx, nil
}

// DeviceIDs returns a copy of the global device ids in the mesh, in row-major mesh order.
func (m *DeviceMesh) DeviceIDs() []int {
	return slices.Clone(m.deviceIDs)
}

// HasDevice returns whether the given global device id belongs to the mesh.
func (m *DeviceMesh) HasDevice(deviceID int) bool {
	return slices.Contains(m.deviceIDs, deviceID)
}

// Equal reports whether m and m2 are the same mesh for matching purposes: same axes sizes and
// same device ids in the same order. Axis names and the mesh name are labels only.
func (m *DeviceMesh) Equal(m2 *DeviceMesh) bool {
	if m == m2 {
		return true
	}
	if m == nil || m2 == nil {
		return false
	}
	return slices.Equal(m.axesSizes, m2.axesSizes) && slices.Equal(m.deviceIDs, m2.deviceIDs)
}

// SameProcessSet reports whether m and m2 span exactly the same set of global device ids,
// regardless of the logical mesh shape laid over them.
func (m *DeviceMesh) SameProcessSet(m2 *DeviceMesh) bool {
	return sets.MakeWith(m.deviceIDs...).Equal(sets.MakeWith(m2.deviceIDs...))
}

// Overlaps reports whether m and m2 have at least one device in common.
func (m *DeviceMesh) Overlaps(m2 *DeviceMesh) bool {
	return sets.MakeWith(m.deviceIDs...).Intersects(sets.MakeWith(m2.deviceIDs...))
}

// flatIndexOf returns the row-major position of the given device id in the mesh, or -1.
func (m *DeviceMesh) flatIndexOf(deviceID int) int {
	return slices.Index(m.deviceIDs, deviceID)
}

// coordinatesOfFlat converts a row-major position into per-axis mesh coordinates.
func (m *DeviceMesh) coordinatesOfFlat(flatIdx int) []int {
	coords := make([]int, m.Rank())
	remaining := flatIdx
	for i := m.Rank() - 1; i >= 0; i-- {
		coords[i] = remaining % m.axesSizes[i]
		remaining /= m.axesSizes[i]
	}
	return coords
}

// CoordinatesOf returns the per-axis mesh coordinates of the given global device id.
func (m *DeviceMesh) CoordinatesOf(deviceID int) ([]int, error) {
	flatIdx := m.flatIndexOf(deviceID)
	if flatIdx < 0 {
		return nil, errors.Errorf("device %d is not part of %s", deviceID, m)
	}
	return m.coordinatesOfFlat(flatIdx), nil
}

// DeviceAt returns the global device id at the given per-axis mesh coordinates.
func (m *DeviceMesh) DeviceAt(coords ...int) (int, error) {
	if len(coords) != m.Rank() {
		return 0, errors.Errorf("DeviceAt: expected %d coordinates for %s, got %d", m.Rank(), m, len(coords))
	}
	flatIdx := 0
	for i, coord := range coords {
		if coord < 0 || coord >= m.axesSizes[i] {
			return 0, errors.Errorf("DeviceAt: coordinate #%d (%d) out-of-range for %s", i, coord, m)
		}
		flatIdx = flatIdx*m.axesSizes[i] + coord
	}
	return m.deviceIDs[flatIdx], nil
}

// ReplicaGroups returns the groups of global device ids spanned by a collective operation
// along the given mesh axis: each group holds the devices whose coordinates agree on every
// other axis, ordered by ascending coordinate along the operation axis.
//
// Example:
//
//	m, _ := NewDeviceMesh([]int{2, 2}, []string{"batch", "model"})
//	m.ReplicaGroups(0)  // -> [][]int{{0, 2}, {1, 3}}
//	m.ReplicaGroups(1)  // -> [][]int{{0, 1}, {2, 3}}
func (m *DeviceMesh) ReplicaGroups(axis int) ([][]int, error) {
	if axis < 0 || axis >= m.Rank() {
		return nil, errors.Errorf("ReplicaGroups: axis %d out-of-range for %s", axis, m)
	}
	groupSize := m.axesSizes[axis]
	numGroups := m.NumDevices() / groupSize
	groups := make([][]int, numGroups)
	for i := range groups {
		groups[i] = make([]int, groupSize)
	}
	for flatIdx, deviceID := range m.deviceIDs {
		coords := m.coordinatesOfFlat(flatIdx)

		// Group index: the flat index over the remaining axes.
		groupIdx := 0
		for i, size := range m.axesSizes {
			if i == axis {
				continue
			}
			groupIdx = groupIdx*size + coords[i]
		}
		groups[groupIdx][coords[axis]] = deviceID
	}
	return groups, nil
}

// GroupFor returns the replica group along the given mesh axis that contains deviceID.
func (m *DeviceMesh) GroupFor(axis, deviceID int) ([]int, error) {
	groups, err := m.ReplicaGroups(axis)
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		if slices.Contains(group, deviceID) {
			return group, nil
		}
	}
	return nil, errors.Errorf("device %d is not part of %s", deviceID, m)
}

// String implements the fmt.Stringer interface.
func (m *DeviceMesh) String() string {
	var sb strings.Builder
	sb.WriteString("DeviceMesh(")
	for i, name := range m.axesNames {
		if i > 0 {
			sb.WriteString(", ")
		}
		_, _ = fmt.Fprintf(&sb, "%s: %d", name, m.axesSizes[i])
	}
	_, _ = fmt.Fprintf(&sb, " | devices=%v)", m.deviceIDs)
	return sb.String()
}
