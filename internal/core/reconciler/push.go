package reconciler

import (
	"context"
	"time"

	"github.com/zeusync/cartsync/internal/core/remote"
	"github.com/zeusync/cartsync/pkg/sequence"
)

// pushJob is one remote mutation. Jobs run one at a time in the order the
// loop accepted the mutations.
type pushJob struct {
	gen       uint64
	uid       string
	productID string
	op        remote.Op
	failMsg   string
	call      func(ctx context.Context) error
	result    chan error
}

type pusher struct {
	queue   *sequence.Queue[*pushJob]
	timeout time.Duration
	onDone  func(job *pushJob, err error)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newPusher(timeout time.Duration, onDone func(*pushJob, error)) *pusher {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pusher{
		queue:   sequence.NewQueue[*pushJob](),
		timeout: timeout,
		onDone:  onDone,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *pusher) enqueue(job *pushJob) {
	if !p.queue.Enqueue(job) {
		job.result <- ErrClosed
	}
}

func (p *pusher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.queue.Ready():
			for {
				job, ok := p.queue.Dequeue()
				if !ok {
					break
				}
				p.exec(job)
			}
		}
	}
}

func (p *pusher) exec(job *pushJob) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	err := remote.NewRemoteError(job.op, job.uid, job.productID, job.call(ctx))
	job.result <- err
	if p.onDone != nil {
		p.onDone(job, err)
	}
}

// close stops the worker. A job that is running sees its context cancelled;
// queued jobs fail with ErrClosed.
func (p *pusher) close() {
	p.cancel()
	<-p.done
	for _, job := range p.queue.Close() {
		job.result <- ErrClosed
	}
}
