// reshard_simulator runs named resharding scenarios on an in-process fabric and reports the
// data movement each one costs.
//
// Every scenario spins up a world of lock-step processes (one goroutine per process), builds
// the source distribution on each of them, drives the reshard engine and verifies the result
// against the expected global tensor. Usage:
//
//	reshard_simulator               # run all scenarios
//	reshard_simulator -scenario=p_to_r
//	reshard_simulator -list
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/gomlx/reshard/pkg/comms/localfabric"
	"github.com/gomlx/reshard/pkg/core/distributed"
	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/gomlx/reshard/pkg/core/tensors"
	"github.com/gomlx/reshard/pkg/reshard"
)

var (
	flagScenario = flag.String("scenario", "all", "Scenario to run, or \"all\".")
	flagList     = flag.Bool("list", false, "List available scenarios and exit.")
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row == 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Left)
			} else {
				s = s.Align(lipgloss.Right)
			}
			return
		})
}

// scenario is one named SPMD run: world processes, a transition to perform and verify.
type scenario struct {
	name        string
	description string
	world       int
	run         func(ctx context.Context, fabric *localfabric.Fabric) error
}

var scenarios = []scenario{
	{
		name:        "p_to_r",
		description: "[4]x: partial(x) -> replicated (all-reduce)",
		world:       4,
		run:         runPartialToReplicated,
	},
	{
		name:        "r_to_s",
		description: "[4]x: replicated -> sharded(x) on a 10-row tensor (local slice)",
		world:       4,
		run:         runReplicatedToSharded,
	},
	{
		name:        "s_to_r",
		description: "[4]x: sharded(x) -> replicated (all-gather)",
		world:       4,
		run:         runShardedToReplicated,
	},
	{
		name:        "relabel",
		description: "[4]x -> reversed device order: replicated relabel, no movement",
		world:       4,
		run:         runRelabel,
	},
	{
		name:        "cross_mesh_s_to_r",
		description: "sharded(x) on devices {0,1} -> replicated on devices {2,3}",
		world:       4,
		run:         runCrossMeshShardedToReplicated,
	},
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(flag.Args()) > 0 {
		klog.Errorf("Unexpected arguments %v. See 'reshard_simulator -help'.", flag.Args())
		os.Exit(1)
	}

	if *flagList {
		for _, s := range scenarios {
			fmt.Printf("%s\t%s\n", s.name, s.description)
		}
		return
	}

	selected := selectScenarios(*flagScenario)
	if len(selected) == 0 {
		klog.Errorf("Unknown scenario %q. See 'reshard_simulator -list'.", *flagScenario)
		os.Exit(1)
	}

	ctx := context.Background()
	fmt.Println(titleStyle.Render("Reshard scenarios"))
	table := newPlainTable()
	table.Row("Scenario", "World", "Transition", "Bytes moved", "Status")
	failed := false
	for _, s := range selected {
		fabric := must.M1(localfabric.New(s.world))
		status := "ok"
		if err := s.run(ctx, fabric); err != nil {
			status = fmt.Sprintf("FAILED: %v", err)
			failed = true
		}
		table.Row(s.name, humanize.Comma(int64(s.world)), s.description,
			humanize.Bytes(fabric.BytesMoved()), status)
	}
	fmt.Println(table.Render())
	if failed {
		os.Exit(1)
	}
}

func selectScenarios(name string) []scenario {
	if name == "all" {
		return scenarios
	}
	for _, s := range scenarios {
		if s.name == name {
			return []scenario{s}
		}
	}
	return nil
}

// spmd runs fn once per rank, lock-step style, and fails on the first error.
func spmd(ctx context.Context, fabric *localfabric.Fabric, fn func(ctx context.Context, engine *reshard.Engine, rank int) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for rank := 0; rank < fabric.WorldSize(); rank++ {
		proc, err := fabric.Process(rank)
		if err != nil {
			return err
		}
		engine := reshard.NewEngine(reshard.DefaultRegistry(), proc)
		group.Go(func() error {
			return fn(groupCtx, engine, proc.Rank())
		})
	}
	return group.Wait()
}

func iotaTensor(dims ...int) *tensors.Tensor {
	size := 1
	for _, d := range dims {
		size *= d
	}
	flat := make([]float32, size)
	for i := range flat {
		flat[i] = float32(i)
	}
	return tensors.FromFlatDataAndDimensions(flat, dims...)
}

func runPartialToReplicated(ctx context.Context, fabric *localfabric.Fabric) error {
	mesh := must.M1(distributed.NewDeviceMesh([]int{4}, []string{"x"}))
	src := must.M1(distributed.BuildPlacement(mesh).R().R().Partial("x").Done())
	dst := distributed.Replicated(mesh, 2)
	global := shapes.Make(dtypes.Float32, 2, 3)

	return spmd(ctx, fabric, func(ctx context.Context, engine *reshard.Engine, rank int) error {
		local := tensors.FromScalarAndDimensions(float32(rank+1), 2, 3)
		in := must.M1(distributed.New(rank, local, src, global))
		out, err := engine.Reshard(ctx, in, dst)
		if err != nil {
			return err
		}
		// 1+2+3+4
		var bad error
		tensors.MustConstFlatData(out.Local(), func(flat []float32) {
			for _, v := range flat {
				if v != 10 {
					bad = fmt.Errorf("rank %d: got %v, want 10 everywhere", rank, v)
					return
				}
			}
		})
		return bad
	})
}

func runReplicatedToSharded(ctx context.Context, fabric *localfabric.Fabric) error {
	mesh := must.M1(distributed.NewDeviceMesh([]int{4}, []string{"x"}))
	src := distributed.Replicated(mesh, 2)
	dst := must.M1(distributed.BuildPlacement(mesh).S("x").R().Done())
	global := shapes.Make(dtypes.Float32, 10, 4)

	return spmd(ctx, fabric, func(ctx context.Context, engine *reshard.Engine, rank int) error {
		in := must.M1(distributed.New(rank, iotaTensor(10, 4), src, global))
		out, err := engine.Reshard(ctx, in, dst)
		if err != nil {
			return err
		}
		start, count := must.M2(distributed.ShardRange(10, 4, rank))
		if got := out.Local().Shape().Dim(0); got != count {
			return fmt.Errorf("rank %d: shard has %d rows, want %d", rank, got, count)
		}
		var bad error
		tensors.MustConstFlatData(out.Local(), func(flat []float32) {
			if flat[0] != float32(start*4) {
				bad = fmt.Errorf("rank %d: shard starts at %v, want %v", rank, flat[0], start*4)
			}
		})
		return bad
	})
}

func runShardedToReplicated(ctx context.Context, fabric *localfabric.Fabric) error {
	mesh := must.M1(distributed.NewDeviceMesh([]int{4}, []string{"x"}))
	src := must.M1(distributed.BuildPlacement(mesh).S("x").R().Done())
	dst := distributed.Replicated(mesh, 2)
	global := shapes.Make(dtypes.Float32, 10, 4)
	want := iotaTensor(10, 4)

	return spmd(ctx, fabric, func(ctx context.Context, engine *reshard.Engine, rank int) error {
		start, count := must.M2(distributed.ShardRange(10, 4, rank))
		shard := must.M1(tensors.Slice(want, 0, start, count))
		in := must.M1(distributed.New(rank, shard, src, global))
		out, err := engine.Reshard(ctx, in, dst)
		if err != nil {
			return err
		}
		if !out.Local().Equal(want) {
			return fmt.Errorf("rank %d: gathered tensor differs from the global value", rank)
		}
		return nil
	})
}

func runRelabel(ctx context.Context, fabric *localfabric.Fabric) error {
	srcMesh := must.M1(distributed.NewDeviceMesh([]int{4}, []string{"x"}))
	dstMesh := must.M1(srcMesh.WithDeviceIDs(3, 2, 1, 0))
	src := distributed.Replicated(srcMesh, 2)
	dst := distributed.Replicated(dstMesh, 2)
	global := shapes.Make(dtypes.Float32, 2, 3)

	return spmd(ctx, fabric, func(ctx context.Context, engine *reshard.Engine, rank int) error {
		in := must.M1(distributed.New(rank, iotaTensor(2, 3), src, global))
		out, err := engine.Reshard(ctx, in, dst)
		if err != nil {
			return err
		}
		if !out.Placement().Equal(dst) {
			return fmt.Errorf("rank %d: relabel produced placement %s", rank, out.Placement())
		}
		return nil
	})
}

func runCrossMeshShardedToReplicated(ctx context.Context, fabric *localfabric.Fabric) error {
	base := must.M1(distributed.NewDeviceMesh([]int{2}, []string{"x"}))
	srcMesh := must.M1(base.WithDeviceIDs(0, 1))
	dstMesh := must.M1(base.WithDeviceIDs(2, 3))
	src := must.M1(distributed.BuildPlacement(srcMesh).S("x").R().Done())
	dst := distributed.Replicated(dstMesh, 2)
	global := shapes.Make(dtypes.Float32, 10, 4)
	want := iotaTensor(10, 4)

	return spmd(ctx, fabric, func(ctx context.Context, engine *reshard.Engine, rank int) error {
		var in *distributed.Tensor
		if srcMesh.HasDevice(rank) {
			start, count := must.M2(distributed.ShardRange(10, 2, rank))
			shard := must.M1(tensors.Slice(want, 0, start, count))
			in = must.M1(distributed.New(rank, shard, src, global))
		} else {
			in = must.M1(distributed.Absent(src, global))
		}
		out, err := engine.Reshard(ctx, in, dst)
		if err != nil {
			return err
		}
		if srcMesh.HasDevice(rank) {
			if out != nil {
				return fmt.Errorf("rank %d left the tensor's mesh but still got a result", rank)
			}
			return nil
		}
		if out == nil {
			return fmt.Errorf("rank %d is on the target mesh but got no result", rank)
		}
		if !out.Local().Equal(want) {
			return fmt.Errorf("rank %d: relocated tensor differs from the global value", rank)
		}
		return nil
	})
}
