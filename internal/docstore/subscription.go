package docstore

import "sync"

// Subscription is a cancellable stream of change batches. The producer
// owns C and calls Close exactly once; consumers call Unsubscribe.
type Subscription struct {
	ch     chan ChangeBatch
	done   chan struct{}
	closed chan struct{}
	stop   func()

	unsubscribeOnce sync.Once
	closeOnce       sync.Once

	mu  sync.Mutex
	err error
}

// NewSubscription returns a subscription whose stop func is invoked once on
// Unsubscribe to detach the producer from its source.
func NewSubscription(buffer int, stop func()) *Subscription {
	return &Subscription{
		ch:     make(chan ChangeBatch, buffer),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
		stop:   stop,
	}
}

func (s *Subscription) C() <-chan ChangeBatch { return s.ch }

// Done is closed once the consumer unsubscribes.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the failure that ended delivery, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Send blocks until the batch is queued or the consumer has unsubscribed.
func (s *Subscription) Send(batch ChangeBatch) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- batch:
		return true
	case <-s.done:
		return false
	}
}

// Close ends delivery with an optional error and closes C.
func (s *Subscription) Close(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ch)
		close(s.closed)
	})
}

// Unsubscribe detaches the subscription and returns after the producer
// has stopped. Nothing new is queued on C after it returns.
func (s *Subscription) Unsubscribe() {
	s.unsubscribeOnce.Do(func() {
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
	})
	<-s.closed
}
