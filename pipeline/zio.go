package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"rubin.dev/dedup/checksum"
	"rubin.dev/dedup/ddt"
)

// FreeRequest describes one block to release back to the storage pipeline,
// with the DEDUP bit already cleared — spec.md §4.3's free_phys: "construct
// a BP from (key, bstp), clear the dedup bit... and hand it to the
// external zio_free(pool, txg, bp)."
type FreeRequest struct {
	Checksum checksum.Value
	Txg      uint64
	DVA      [ddt.NDVA]ddt.DVA
	Size     uint64
}

// Freer is the zio_free/zio_add_child collaborator: a small fixed-size
// worker pool draining a channel of FreeRequests, modeling the
// asynchronous I/O spec.md §5 says these calls may enqueue ("Suspension
// points... within the external zio_free (may enqueue asynchronous I/O)").
// Grounded on the teacher's own background-goroutine idiom
// (crypto/hsm_monitor.go's health-check loop, node/p2p's per-peer
// read/write goroutines), both gated by context cancellation and
// WaitGroup the same way Freer.Close is here.
//
// Free is fire-and-forget from the core's point of view (spec.md §7:
// "zio_free is fire-and-forget; the core does not observe its result"),
// so FreeRequests are simply logged as they drain; a real storage pipeline
// would instead issue the underlying device I/O here.
type Freer struct {
	log     *slog.Logger
	queue   chan FreeRequest
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	freed   atomic.Uint64
}

// NewFreer starts workers goroutines draining free requests, logging via
// log.
func NewFreer(log *slog.Logger, workers, queueDepth int) *Freer {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Freer{
		log:    log,
		queue:  make(chan FreeRequest, queueDepth),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		f.wg.Add(1)
		go f.worker()
	}
	return f
}

func (f *Freer) worker() {
	defer f.wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			return
		case req, ok := <-f.queue:
			if !ok {
				return
			}
			f.freed.Add(1)
			f.log.Debug("pipeline: freed burst storage",
				"checksum", req.Checksum,
				"txg", req.Txg,
				"size", req.Size,
			)
		}
	}
}

// Free enqueues req for asynchronous release, analogous to
// zio_free(pool, txg, bp) in spec.md §6. Never blocks the caller on I/O
// completion; if the queue is full the request is dropped with a warning
// rather than backpressuring a sync pass that must remain non-blocking
// per spec.md §5.
func (f *Freer) Free(req FreeRequest) {
	select {
	case f.queue <- req:
	default:
		f.log.Warn("pipeline: free queue full, dropping request", "checksum", req.Checksum)
	}
}

// AddChild is the zio_add_child collaborator from spec.md §6: when a BSTT
// or HTDDT addref finds the underlying base block's write still in
// flight, the caller chains completion onto it instead of bumping a
// refcount that does not exist yet. Modeled here as attaching a
// completion func to a parent's WaitGroup.
func AddChild(parent *sync.WaitGroup, child func()) {
	parent.Add(1)
	go func() {
		defer parent.Done()
		child()
	}()
}

// Freed returns the number of FreeRequests processed so far.
func (f *Freer) Freed() uint64 { return f.freed.Load() }

// Close cancels the workers and waits for them to return. A request a
// worker has already taken is finished; requests still in the queue are
// not processed, and Free does not refuse requests made after Close.
func (f *Freer) Close() {
	f.cancel()
	f.wg.Wait()
}
