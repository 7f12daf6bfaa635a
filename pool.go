package stomp

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// handlerPool runs subscription MESSAGE handlers on a bounded set of worker
// goroutines, scaling between minWorkers and maxWorkers as the queue fills
// or drains. Adapted from a connection-handling goroutine pool that
// here the "task" is always a single MESSAGE dispatch rather than a whole
// connection's lifetime.
type handlerPool struct {
	workers    int32
	maxWorkers int32
	minWorkers int32
	taskQueue  chan func()
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc

	queuedTasks    int32
	completedTasks uint64

	idleTimeout time.Duration
}

// newHandlerPool creates a pool sized between minWorkers and maxWorkers.
// A minWorkers/maxWorkers of zero picks runtime.NumCPU()-based defaults.
func newHandlerPool(minWorkers, maxWorkers int) *handlerPool {
	if minWorkers <= 0 {
		minWorkers = runtime.NumCPU()
	}
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU() * 4
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &handlerPool{
		minWorkers:  int32(minWorkers),
		maxWorkers:  int32(maxWorkers),
		taskQueue:   make(chan func(), maxWorkers*2),
		ctx:         ctx,
		cancel:      cancel,
		idleTimeout: 30 * time.Second,
	}
	for i := 0; i < minWorkers; i++ {
		p.startWorker()
	}
	return p
}

// Submit queues task for dispatch. It returns false if the queue is full
// and the pool is already at maxWorkers; the caller must then decide
// whether to drop, block, or handle the message inline.
func (p *handlerPool) Submit(task func()) bool {
	select {
	case p.taskQueue <- task:
		atomic.AddInt32(&p.queuedTasks, 1)
		if p.shouldScaleUp() {
			p.scaleUp()
		}
		return true
	default:
		if p.scaleUp() {
			select {
			case p.taskQueue <- task:
				atomic.AddInt32(&p.queuedTasks, 1)
				return true
			default:
				return false
			}
		}
		return false
	}
}

func (p *handlerPool) startWorker() {
	if atomic.LoadInt32(&p.workers) >= p.maxWorkers {
		return
	}
	atomic.AddInt32(&p.workers, 1)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer atomic.AddInt32(&p.workers, -1)

		idle := time.NewTimer(p.idleTimeout)
		defer idle.Stop()

		for {
			select {
			case task := <-p.taskQueue:
				if task != nil {
					atomic.AddInt32(&p.queuedTasks, -1)
					p.run(task)
					if !idle.Stop() {
						select {
						case <-idle.C:
						default:
						}
					}
					idle.Reset(p.idleTimeout)
				}

			case <-idle.C:
				if p.shouldScaleDown() {
					return
				}
				idle.Reset(p.idleTimeout)

			case <-p.ctx.Done():
				return
			}
		}
	}()
}

// run executes task, converting a handler panic into a completed task
// rather than letting it take down the worker goroutine.
func (p *handlerPool) run(task func()) {
	defer func() {
		recover()
		atomic.AddUint64(&p.completedTasks, 1)
	}()
	task()
}

func (p *handlerPool) shouldScaleUp() bool {
	workers := atomic.LoadInt32(&p.workers)
	queued := atomic.LoadInt32(&p.queuedTasks)
	return workers < p.maxWorkers && queued > workers*2
}

func (p *handlerPool) shouldScaleDown() bool {
	workers := atomic.LoadInt32(&p.workers)
	queued := atomic.LoadInt32(&p.queuedTasks)
	return workers > p.minWorkers && queued < workers/4
}

func (p *handlerPool) scaleUp() bool {
	if atomic.LoadInt32(&p.workers) < p.maxWorkers {
		p.startWorker()
		return true
	}
	return false
}

// Len reports the number of queued tasks plus the number of live worker
// goroutines, busy or idle.
func (p *handlerPool) Len() int {
	return int(atomic.LoadInt32(&p.queuedTasks)) + int(atomic.LoadInt32(&p.workers))
}

// Close tells every worker to exit and waits for in-flight handlers to
// return, up to the given timeout. It returns false if workers were still
// running when the timeout elapsed. Submit is not refused afterward, but
// tasks queued after Close are not run.
func (p *handlerPool) Close(timeout time.Duration) bool {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Stop tells every worker to exit once it finishes its current task,
// without waiting for them. Use this from a context that cannot afford to
// block on worker completion (e.g. the event loop itself, where a worker
// finishing its task calls back into the loop) — Close is for callers that
// can afford to wait off-loop.
func (p *handlerPool) Stop() {
	p.cancel()
}
