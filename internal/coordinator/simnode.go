package coordinator

import (
	"context"
	"fmt"
	"reflect"

	eventloop "github.com/joeycumines/go-eventloop"
	inprocgrpc "github.com/joeycumines/go-inprocgrpc"

	"github.com/rubo/ziskgo/internal/protocol"
	"github.com/rubo/ziskgo/internal/worker"
)

// SimulatedNode runs a worker in-process against this coordinator,
// without a socket: the LaunchProofRequest.SimulatedNode mode. The
// inprocgrpc channel carries the same WorkerStream RPC a remote worker
// uses, so the worker's event loop, registration, and task handling are
// exercised unchanged.
type SimulatedNode struct {
	channel *inprocgrpc.Channel
	worker  *worker.Worker
}

// NewSimulatedNode registers c's WorkerStream service on an in-process
// channel and builds a worker from cfg bound to it.
func NewSimulatedNode(c *Coordinator, cfg worker.Config) (*SimulatedNode, error) {
	w, err := worker.New(cfg)
	if err != nil {
		return nil, err
	}

	loop, err := eventloop.New()
	if err != nil {
		return nil, fmt.Errorf("coordinator: new event loop: %w", err)
	}
	go func() { _ = loop.Run(context.Background()) }()

	channel := inprocgrpc.NewChannel(inprocgrpc.WithLoop(loop), inprocgrpc.WithCloner(gobCloner()))
	protocol.RegisterCoordinatorServer(channel, c)

	return &SimulatedNode{channel: channel, worker: w}, nil
}

// Run drives the worker's connect/serve loop until ctx is cancelled or
// the coordinator shuts it down.
func (n *SimulatedNode) Run(ctx context.Context) error {
	return n.worker.Run(ctx, protocol.NewCoordinatorClient(n.channel))
}

// gobCloner isolates messages crossing the in-process channel by gob
// round-tripping them; inprocgrpc's default cloner only understands proto
// messages, and both sides here share an address space.
func gobCloner() inprocgrpc.Cloner {
	return inprocgrpc.CloneFunc(func(in any) (any, error) {
		data, err := protocol.GobCodec{}.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("coordinator: clone marshal: %w", err)
		}
		out := reflect.New(reflect.TypeOf(in).Elem()).Interface()
		if err := (protocol.GobCodec{}).Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("coordinator: clone unmarshal: %w", err)
		}
		return out, nil
	})
}
