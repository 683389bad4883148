// Package hints implements the ordered, parallel precompile hint stream
// processor: a bounded worker pool plus a dedicated drainer goroutine that
// preserve ingest order of results regardless of completion order.
package hints

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rubo/ziskgo/internal/hintcode"
	"github.com/rubo/ziskgo/internal/logging"
)

// DefaultNumWorkers is the size of the bounded worker pool used when
// Config.NumWorkers is zero.
const DefaultNumWorkers = 32

// Sink receives hint results in the exact order their hints arrived.
type Sink interface {
	Submit(payload []uint64) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(payload []uint64) error

func (f SinkFunc) Submit(payload []uint64) error { return f(payload) }

// Dispatch maps a parsed hint to its result payload. It must be a pure
// function of (code, data); adding a new hint type extends this mapping.
type Dispatch func(code hintcode.Code, data []uint64) ([]uint64, error)

// Config configures a Processor.
type Config struct {
	// NumWorkers bounds the worker pool used for the slow (dispatched) path.
	// Zero means DefaultNumWorkers.
	NumWorkers int
	// EnableStats turns on per-code occurrence counting.
	EnableStats bool
	// AllowCustom carries unknown hint codes through to Dispatch as
	// KindCustom instead of rejecting them at parse time.
	AllowCustom bool
	// Dispatch is the hint-processing function. Nil means BuiltinDispatch.
	Dispatch Dispatch
	// Sink receives ordered results. Required.
	Sink Sink
	// Logger is used for diagnostic logging. Nil means logging.Default().
	Logger logging.Logger
}

type slot struct {
	data []uint64
	err  error
}

// Processor dispatches precompile hints in parallel while preserving the
// order in which they were submitted to the sink.
//
// The ordering guarantee rests on a FIFO of reorder-buffer slots: every hint
// reserves a slot under the queue lock before any work is dispatched, and a
// dedicated drainer goroutine submits leading completed slots to the sink.
// Submitting results as they complete (instead of through this reorder
// buffer) would violate that guarantee, so this is the only architecture
// used here.
type Processor struct {
	sink        Sink
	dispatch    Dispatch
	logger      logging.Logger
	sem         chan struct{}
	allowCustom bool

	mu           sync.Mutex
	cond         *sync.Cond
	buffer       []*slot
	nextDrainSeq uint64
	nextSeq      uint64
	generation   uint64

	errorFlag atomic.Bool
	shutdown  atomic.Bool

	statsMu sync.Mutex
	stats   map[uint32]uint64

	drainerDone chan struct{}
}

// New constructs and starts a Processor, including its drainer goroutine.
func New(cfg Config) (*Processor, error) {
	if cfg.Sink == nil {
		return nil, errors.New("hints: Config.Sink is required")
	}
	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = DefaultNumWorkers
	}
	dispatch := cfg.Dispatch
	if dispatch == nil {
		dispatch = BuiltinDispatch
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	p := &Processor{
		sink:        cfg.Sink,
		dispatch:    dispatch,
		logger:      logger,
		sem:         make(chan struct{}, numWorkers),
		allowCustom: cfg.AllowCustom,
		drainerDone: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	if cfg.EnableStats {
		p.stats = make(map[uint32]uint64)
	}

	go p.drainerThread()

	return p, nil
}

// Process dispatches every hint in hints, returning true iff a CTRL_END was
// encountered. Processing stops at the first error; Process never blocks on
// completion of dispatched hints (only CTRL_END does that).
func (p *Processor) Process(hints []uint64, firstBatch bool) (bool, error) {
	var hasCtrlEnd bool
	idx := uint32(0)

	for int(idx) < len(hints) {
		if p.errorFlag.Load() {
			return false, errors.New("hints: processing stopped due to previous error")
		}

		hint, next, err := hintcode.Parse(hints, idx, p.allowCustom)
		if err != nil {
			return false, err
		}

		if p.stats != nil {
			p.statsMu.Lock()
			p.stats[hint.Code.Value]++
			p.statsMu.Unlock()
		}

		if hint.Code.Kind == hintcode.KindCtrl {
			switch hint.Code.Value {
			case hintcode.CtrlStart:
				if !firstBatch {
					return false, errors.New("hints: CTRL_START can only be sent as the first message in the stream")
				}
				if idx != 0 {
					return false, fmt.Errorf("hints: CTRL_START must be the first hint in the batch, but found at index %d", idx)
				}
				p.reset()
				idx = next
				continue
			case hintcode.CtrlEnd:
				if err := p.waitForCompletion(); err != nil {
					return false, err
				}
				hasCtrlEnd = true
				idx = next
				if int(idx) < len(hints) {
					return false, fmt.Errorf("hints: CTRL_END must be the last hint, but %d words remain", len(hints)-int(idx))
				}
				goto done
			case hintcode.CtrlCancel:
				p.errorFlag.Store(true)
				p.cond.Broadcast()
				return false, errors.New("hints: stream cancelled")
			case hintcode.CtrlError:
				p.errorFlag.Store(true)
				p.cond.Broadcast()
				return false, errors.New("hints: stream error signalled")
			}
		}

		// Reserve a slot atomically with the generation snapshot, so a
		// concurrent reset cannot orphan this slot.
		p.mu.Lock()
		gen := p.generation
		seq := p.nextSeq
		p.nextSeq++
		p.buffer = append(p.buffer, nil)
		p.mu.Unlock()

		if hint.Code.Value == hintcode.Noop {
			// Fast path: pass-through hints are evaluated inline.
			result, derr := p.dispatch(hint.Code, hint.Data)
			p.mu.Lock()
			p.buffer[seq-p.nextDrainSeq] = &slot{data: result, err: derr}
			p.mu.Unlock()
			p.cond.Signal()
		} else {
			p.sem <- struct{}{}
			go func(hint hintcode.Hint, gen, seq uint64) {
				defer func() { <-p.sem }()

				if p.errorFlag.Load() {
					return
				}

				result, derr := p.dispatch(hint.Code, hint.Data)

				p.mu.Lock()
				defer p.mu.Unlock()

				if gen != p.generation {
					// Stale worker from a previous generation; ignore.
					return
				}
				if seq < p.nextDrainSeq {
					// Belongs to an already-drained session; ignore.
					return
				}
				if p.errorFlag.Load() {
					return
				}

				off := seq - p.nextDrainSeq
				p.buffer[off] = &slot{data: result, err: derr}
				p.cond.Signal()
			}(hint, gen, seq)
		}

		idx = next
	}

done:
	if hasCtrlEnd && p.stats != nil {
		p.statsMu.Lock()
		for code, count := range p.stats {
			p.logger.Debug().Uint64("count", count).Str("code", hintcode.Code{Kind: hintcode.KindBuiltIn, Value: code}.String()).Log("hint stats")
		}
		p.statsMu.Unlock()
	}

	return hasCtrlEnd, nil
}

// drainerThread submits leading completed slots to the sink in order,
// releasing the queue lock across each submission so workers never block on
// sink I/O while holding it.
func (p *Processor) drainerThread() {
	defer close(p.drainerDone)

	p.mu.Lock()
	for {
		if p.shutdown.Load() {
			p.mu.Unlock()
			return
		}

		for len(p.buffer) > 0 && p.buffer[0] != nil {
			s := p.buffer[0]
			p.buffer = p.buffer[1:]
			p.nextDrainSeq++
			p.mu.Unlock()

			if s.err != nil {
				p.errorFlag.Store(true)
				p.logger.Err().Err(s.err).Log("hint processing failed")
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
				return
			}

			if err := p.sink.Submit(s.data); err != nil {
				p.errorFlag.Store(true)
				p.logger.Err().Err(err).Log("hint sink submit failed")
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
				return
			}

			p.mu.Lock()
		}

		if len(p.buffer) == 0 {
			p.cond.Broadcast()
		}

		p.cond.Wait()
	}
}

// waitForCompletion blocks until the reorder buffer is empty or an error has
// been flagged.
func (p *Processor) waitForCompletion() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.buffer) > 0 {
		if p.errorFlag.Load() {
			return errors.New("hints: processing stopped due to error")
		}
		p.cond.Wait()
	}

	if p.errorFlag.Load() {
		return errors.New("hints: processing stopped due to error")
	}

	return nil
}

// reset clears the error flag and reorder buffer and bumps the generation
// counter, invalidating any in-flight workers from a previous session.
func (p *Processor) reset() {
	p.errorFlag.Store(false)

	p.mu.Lock()
	p.nextSeq = 0
	p.generation++
	p.buffer = p.buffer[:0]
	p.nextDrainSeq = 0
	p.mu.Unlock()
}

// Stats returns a snapshot of per-code occurrence counts. Nil if the
// processor was constructed with EnableStats false.
func (p *Processor) Stats() map[uint32]uint64 {
	if p.stats == nil {
		return nil
	}
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	out := make(map[uint32]uint64, len(p.stats))
	for k, v := range p.stats {
		out[k] = v
	}
	return out
}

// Close shuts down the drainer goroutine and waits for it to exit.
func (p *Processor) Close() error {
	p.shutdown.Store(true)
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
	<-p.drainerDone
	return nil
}
