package feed

import "sync"

// Pipe is an unbounded queue drained into a channel. Push never blocks,
// so producers holding locks can hand values to slow consumers.
type Pipe[T any] struct {
	mu     sync.Mutex
	queue  []T
	closed bool
	wake   chan struct{}
	out    chan T
	done   chan struct{}
	once   sync.Once
}

// NewPipe starts a pipe. Close must be called to release its goroutine.
func NewPipe[T any]() *Pipe[T] {
	p := &Pipe[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan T),
		done: make(chan struct{}),
	}
	go p.pump()
	return p
}

// Events is closed after Close.
func (p *Pipe[T]) Events() <-chan T {
	return p.out
}

// Done is closed when the pipe is closed.
func (p *Pipe[T]) Done() <-chan struct{} {
	return p.done
}

// Push enqueues values; it is a no-op on a closed pipe.
func (p *Pipe[T]) Push(events ...T) {
	if len(events) == 0 {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, events...)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Close discards queued values and closes the output channel. Idempotent.
func (p *Pipe[T]) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.queue = nil
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *Pipe[T]) pump() {
	defer close(p.out)
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			select {
			case <-p.wake:
				continue
			case <-p.done:
				return
			}
		}
		evt := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		select {
		case p.out <- evt:
		case <-p.done:
			return
		}
	}
}
