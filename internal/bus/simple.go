package bus

import (
	"fmt"
	"sync"

	"habitat/internal/logger"
	"habitat/pkg/models"
)

// SimpleSink runs its handler inline on the caller's goroutine, which for
// deliveries is the Server's delivery loop. Handlers must not block and must
// tolerate concurrent and re-entrant calls.
type SimpleSink struct {
	*TypeSet
	name    string
	handler Handler
	logger  logger.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	executing int
}

func NewSimpleSink(name string, handler Handler, log logger.Logger) (*SimpleSink, error) {
	s := &SimpleSink{
		TypeSet: NewTypeSet(),
		name:    name,
		handler: handler,
		logger:  log,
	}
	s.cond = sync.NewCond(&s.mu)

	if err := handler.Setup(s.TypeSet); err != nil {
		return nil, fmt.Errorf("sink %s setup failed: %w", name, err)
	}
	return s, nil
}

func (s *SimpleSink) PushMessage(msg *models.Message) {
	if !s.Accepts(msg.Kind()) {
		return
	}

	s.mu.Lock()
	s.executing++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.executing--
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	invoke(s.name, s.handler, msg, s.logger)
}

func (s *SimpleSink) Name() string {
	return s.name
}

func (s *SimpleSink) Executing() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executing
}

func (s *SimpleSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.executing != 0 {
		s.cond.Wait()
	}
}

func (s *SimpleSink) Shutdown() {
	s.Flush()
	if err := closeHandler(s.handler); err != nil {
		s.logger.Warnw("Sink handler close failed", "sink", s.name, "error", err)
	}
}
