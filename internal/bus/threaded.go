package bus

import (
	"fmt"
	"sync"

	"habitat/internal/logger"
	"habitat/pkg/metrics"
	"habitat/pkg/models"
)

type threadedItem struct {
	msg  *models.Message
	stop bool
}

// ThreadedSink owns a worker goroutine and a private FIFO. PushMessage only
// enqueues; the worker runs the handler one message at a time in order.
type ThreadedSink struct {
	*TypeSet
	name    string
	handler Handler
	logger  logger.Logger

	queue        *queue[threadedItem]
	done         chan struct{}
	shutdownOnce sync.Once
}

func NewThreadedSink(name string, handler Handler, log logger.Logger) (*ThreadedSink, error) {
	s := &ThreadedSink{
		TypeSet: NewTypeSet(),
		name:    name,
		handler: handler,
		logger:  log,
		queue:   newQueue[threadedItem](),
		done:    make(chan struct{}),
	}

	if err := handler.Setup(s.TypeSet); err != nil {
		return nil, fmt.Errorf("sink %s setup failed: %w", name, err)
	}

	go s.run()
	return s, nil
}

func (s *ThreadedSink) Name() string {
	return s.name
}

// PushMessage does not filter: the interest set may change between enqueue
// and dequeue, so the worker checks it.
func (s *ThreadedSink) PushMessage(msg *models.Message) {
	if !s.queue.push(threadedItem{msg: msg}) {
		s.logger.Warnw("Sink is shut down, dropping message", "sink", s.name, "message_id", msg.ID())
		return
	}
	metrics.SetSinkQueueSize(s.name, s.queue.len())
}

func (s *ThreadedSink) run() {
	defer close(s.done)

	for {
		item, ok := s.queue.pop()
		if !ok {
			return
		}

		if item.stop {
			s.queue.done()
			return
		}

		if s.Accepts(item.msg.Kind()) {
			invoke(s.name, s.handler, item.msg, s.logger)
		}
		s.queue.done()
		metrics.SetSinkQueueSize(s.name, s.queue.len())
	}
}

func (s *ThreadedSink) QueueLen() int {
	return s.queue.len()
}

func (s *ThreadedSink) Flush() {
	s.queue.waitAccepted(s.stopped)
}

func (s *ThreadedSink) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *ThreadedSink) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.queue.push(threadedItem{stop: true})
		s.queue.close()
		<-s.done

		if err := closeHandler(s.handler); err != nil {
			s.logger.Warnw("Sink handler close failed", "sink", s.name, "error", err)
		}
	})
}
