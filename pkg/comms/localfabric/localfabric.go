// Package localfabric implements the comms contract with an in-process world of goroutines.
//
// One Fabric value holds worldSize process handles. Point-to-point transfers use rendezvous
// channels; collectives use a keyed rendezvous table, with keys formed from the group and a
// per-process program-order sequence number -- under the SPMD lock-step contract this matches
// the n-th collective call of every member of a group against each other.
//
// The fabric is used by the reshard engine tests and by the simulator CLI. It is not a
// performance-oriented transport.
package localfabric

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gomlx/reshard/pkg/comms"
	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/gomlx/reshard/pkg/core/tensors"
	"github.com/gomlx/reshard/pkg/support/xsync"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Fabric is an in-process communication world. Create it with New and hand each SPMD
// goroutine its handle via Process.
type Fabric struct {
	id        string
	worldSize int

	// mailboxes[from][to] is the rendezvous channel for point-to-point transfers.
	mailboxes [][]chan *tensors.Tensor

	mu         sync.Mutex
	rendezvous map[rendezvousKey]*rendezvousState

	procs []*Process

	bytesMoved atomic.Uint64
}

type rendezvousKey struct {
	group string
	seq   uint64
}

type rendezvousState struct {
	contributions []*tensors.Tensor
	pending       int // Contributions not yet arrived.
	readers       int // Members that have not picked up the result yet.
	done          *xsync.Latch
}

// New creates an in-process fabric with the given number of processes, with ranks
// 0..worldSize-1.
func New(worldSize int) (*Fabric, error) {
	if worldSize <= 0 {
		return nil, errors.Errorf("localfabric.New: worldSize must be > 0, got %d", worldSize)
	}
	f := &Fabric{
		id:         uuid.NewString(),
		worldSize:  worldSize,
		mailboxes:  make([][]chan *tensors.Tensor, worldSize),
		rendezvous: make(map[rendezvousKey]*rendezvousState),
		procs:      make([]*Process, worldSize),
	}
	for from := range f.mailboxes {
		f.mailboxes[from] = make([]chan *tensors.Tensor, worldSize)
		for to := range f.mailboxes[from] {
			f.mailboxes[from][to] = make(chan *tensors.Tensor)
		}
	}
	for rank := range f.procs {
		f.procs[rank] = &Process{
			fabric: f,
			rank:   rank,
			seqs:   make(map[string]uint64),
		}
	}
	klog.V(2).Infof("localfabric %s: created with worldSize=%d", f.id, worldSize)
	return f, nil
}

// WorldSize of the fabric.
func (f *Fabric) WorldSize() int { return f.worldSize }

// Process returns the handle for the given rank. It always returns the same handle for the
// same rank; each handle is owned by the single goroutine playing that process.
func (f *Fabric) Process(rank int) (*Process, error) {
	if rank < 0 || rank >= f.worldSize {
		return nil, errors.Wrapf(comms.ErrUnknownPeer, "localfabric: rank %d outside world of size %d",
			rank, f.worldSize)
	}
	return f.procs[rank], nil
}

// BytesMoved returns the total bytes transferred through the fabric so far: every
// point-to-point payload plus every collective contribution.
func (f *Fabric) BytesMoved() uint64 { return f.bytesMoved.Load() }

// Process is one rank's handle into the fabric. It implements comms.Process.
type Process struct {
	fabric *Fabric
	rank   int

	// seqs counts collective calls per group, in program order. Only touched by the owning
	// goroutine.
	seqs map[string]uint64
}

var _ comms.Process = (*Process)(nil)

// Rank of this process.
func (p *Process) Rank() int { return p.rank }

// WorldSize of the fabric this process belongs to.
func (p *Process) WorldSize() int { return p.fabric.worldSize }

// gather contributes t to the group's next collective and returns all contributions in group
// order, once every member has arrived.
func (p *Process) gather(ctx context.Context, group []int, t *tensors.Tensor) ([]*tensors.Tensor, error) {
	pos := slices.Index(group, p.rank)
	if pos < 0 {
		return nil, errors.Errorf("localfabric: rank %d is not a member of collective group %v", p.rank, group)
	}
	for _, member := range group {
		if member < 0 || member >= p.fabric.worldSize {
			return nil, errors.Wrapf(comms.ErrUnknownPeer, "localfabric: group %v member %d outside world of size %d",
				group, member, p.fabric.worldSize)
		}
	}

	groupKey := fmt.Sprint(group)
	seq := p.seqs[groupKey]
	p.seqs[groupKey] = seq + 1
	key := rendezvousKey{group: groupKey, seq: seq}

	f := p.fabric
	f.mu.Lock()
	st, found := f.rendezvous[key]
	if !found {
		st = &rendezvousState{
			contributions: make([]*tensors.Tensor, len(group)),
			pending:       len(group),
			readers:       len(group),
			done:          xsync.NewLatch(),
		}
		f.rendezvous[key] = st
	}
	st.contributions[pos] = t.Clone()
	st.pending--
	if st.pending == 0 {
		st.done.Trigger()
	}
	f.mu.Unlock()
	f.bytesMoved.Add(uint64(t.Memory()))

	select {
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "localfabric: collective on group %v interrupted", group)
	case <-st.done.WaitChan():
	}

	f.mu.Lock()
	results := st.contributions
	st.readers--
	if st.readers == 0 {
		delete(f.rendezvous, key)
	}
	f.mu.Unlock()
	return results, nil
}

// AllReduceSum implements comms.Process.
func (p *Process) AllReduceSum(ctx context.Context, group []int, t *tensors.Tensor) (*tensors.Tensor, error) {
	parts, err := p.gather(ctx, group, t)
	if err != nil {
		return nil, err
	}
	for ii, part := range parts {
		if !part.Shape().Equal(parts[0].Shape()) {
			return nil, errors.Wrapf(comms.ErrShapeMismatch,
				"localfabric: AllReduceSum group %v, member #%d contributed %s, member #0 contributed %s",
				group, ii, part.Shape(), parts[0].Shape())
		}
	}
	klog.V(2).Infof("localfabric %s: rank %d AllReduceSum group=%v shape=%s", p.fabric.id, p.rank, group, t.Shape())

	// Every member reduces locally in ascending group order, so results are bit-identical.
	return tensors.Sum(parts)
}

// AllGather implements comms.Process.
func (p *Process) AllGather(ctx context.Context, group []int, t *tensors.Tensor) ([]*tensors.Tensor, error) {
	klog.V(2).Infof("localfabric %s: rank %d AllGather group=%v shape=%s", p.fabric.id, p.rank, group, t.Shape())
	return p.gather(ctx, group, t)
}

// Send implements comms.Process.
func (p *Process) Send(ctx context.Context, to int, t *tensors.Tensor) error {
	if to < 0 || to >= p.fabric.worldSize {
		return errors.Wrapf(comms.ErrUnknownPeer, "localfabric: send from %d to %d, world of size %d",
			p.rank, to, p.fabric.worldSize)
	}
	klog.V(2).Infof("localfabric %s: rank %d Send to=%d shape=%s", p.fabric.id, p.rank, to, t.Shape())
	select {
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "localfabric: send from %d to %d interrupted", p.rank, to)
	case p.fabric.mailboxes[p.rank][to] <- t.Clone():
		p.fabric.bytesMoved.Add(uint64(t.Memory()))
		return nil
	}
}

// Recv implements comms.Process.
func (p *Process) Recv(ctx context.Context, from int, expected shapes.Shape) (*tensors.Tensor, error) {
	if from < 0 || from >= p.fabric.worldSize {
		return nil, errors.Wrapf(comms.ErrUnknownPeer, "localfabric: recv at %d from %d, world of size %d",
			p.rank, from, p.fabric.worldSize)
	}
	select {
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "localfabric: recv at %d from %d interrupted", p.rank, from)
	case t := <-p.fabric.mailboxes[from][p.rank]:
		if !t.Shape().Equal(expected) {
			return nil, errors.Wrapf(comms.ErrShapeMismatch,
				"localfabric: recv at %d from %d got shape %s, expected %s", p.rank, from, t.Shape(), expected)
		}
		return t, nil
	}
}
