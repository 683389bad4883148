package protocol

import (
	"context"
	"io"
	"net"
	"sync"

	bigbuff "github.com/joeycumines/go-bigbuff"
	"google.golang.org/grpc"
)

// WorkerStream manages one worker's view of the bidirectional gRPC stream,
// adapted from fangrpcstream.Stream: same send-channel /
// recv-goroutine / Notifier fan-out shape, despecialized from
// fangrpcstream's `proto.Message`-constrained generic since this
// protocol's messages go over GobCodec, not protoc-generated types (see
// GobCodec's doc comment).
type WorkerStream struct {
	notifier bigbuff.Notifier
	ctx      context.Context
	stream   Coordinator_WorkerStreamClient
	err      error
	cancel   context.CancelFunc
	ch       chan *WorkerMessage
	done     chan struct{}
	stop     chan struct{}
	mu       sync.Mutex
}

// NewWorkerStream opens a new WorkerStream against client.
func NewWorkerStream(ctx context.Context, client CoordinatorClient, opts ...grpc.CallOption) (*WorkerStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	var success bool
	defer func() {
		if !success {
			cancel()
		}
	}()

	stream, err := client.WorkerStream(ctx, opts...)
	if err != nil {
		return nil, err
	}

	ws := &WorkerStream{
		ctx:    ctx,
		cancel: cancel,
		stream: stream,
		ch:     make(chan *WorkerMessage),
		done:   make(chan struct{}),
		stop:   make(chan struct{}, 1),
	}

	go ws.run()

	success = true

	return ws, nil
}

func (x *WorkerStream) run() {
	defer close(x.done)
	defer x.cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for {
			res, err := x.stream.Recv()
			if err != nil {
				x.fatalErr(err)
				return
			}
			x.publish(res)
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-x.ctx.Done():
				return

			case <-x.stop:
				if err := x.stream.CloseSend(); err != nil {
					x.fatalErr(err)
				}
				return

			case req := <-x.ch:
				if err := x.stream.Send(req); err != nil {
					x.fatalErr(err)
					return
				}
			}
		}
	}()

	wg.Wait()
}

func (x *WorkerStream) fatalErr(err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.err != nil {
		return
	}
	x.cancel()
	if err != nil {
		x.err = err
	} else {
		x.err = x.ctx.Err()
	}
}

// Done is closed once the stream has fully torn down.
func (x *WorkerStream) Done() <-chan struct{} { return x.done }

// Err returns the terminal error, or nil if the stream ended cleanly.
func (x *WorkerStream) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.err == io.EOF {
		return nil
	}
	return x.err
}

// Shutdown asks the send loop to close the send side, then waits (up to
// ctx) for the stream to fully finish.
func (x *WorkerStream) Shutdown(ctx context.Context) error {
	select {
	case x.stop <- struct{}{}:
	default:
	}

	select {
	case <-ctx.Done():
		x.cancel()
		<-x.done
	case <-x.done:
	}

	return x.Err()
}

// Close tears the stream down immediately.
func (x *WorkerStream) Close() error {
	x.cancel()
	<-x.done
	return x.Err()
}

// Send enqueues m for the send loop.
func (x *WorkerStream) Send(ctx context.Context, m *WorkerMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-x.ctx.Done():
		return net.ErrClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()

	case <-x.ctx.Done():
		return net.ErrClosed

	case x.ch <- m:
		return nil
	}
}

// Subscribe registers target (a channel of *CoordinatorMessage) to receive
// every inbound message. The returned cancel func must be called unless
// ctx is cancelled first.
func (x *WorkerStream) Subscribe(ctx context.Context, target any) context.CancelFunc {
	return x.notifier.SubscribeCancel(ctx, nil, target)
}

func (x *WorkerStream) publish(value *CoordinatorMessage) {
	x.notifier.PublishContext(x.ctx, nil, value)
}
