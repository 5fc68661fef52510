package bus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"habitat/internal/logger"
	"habitat/internal/registry"
	"habitat/pkg/errors"
	"habitat/pkg/metrics"
	"habitat/pkg/models"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

type sinkEntry struct {
	name string
	sink Sink
}

// Server is the message bus. Push only enqueues; a single delivery goroutine
// hands each message, in acceptance order, to every loaded sink while holding
// the registry lock, so load, unload and reload never interleave with the
// delivery of one message.
type Server struct {
	registry *registry.Registry
	logger   logger.Logger

	mu           sync.Mutex
	sinks        []sinkEntry
	messageCount uint64

	queue        *queue[*models.Message]
	state        atomic.Int32
	done         chan struct{}
	startOnce    sync.Once
	shutdownOnce sync.Once
}

func NewServer(reg *registry.Registry, log logger.Logger) *Server {
	return &Server{
		registry: reg,
		logger:   log,
		queue:    newQueue[*models.Message](),
		done:     make(chan struct{}),
	}
}

func (s *Server) State() State {
	return State(s.state.Load())
}

// Start launches the delivery goroutine. A Server runs at most once.
func (s *Server) Start() error {
	started := false
	s.startOnce.Do(func() {
		started = s.state.CompareAndSwap(int32(StateStopped), int32(StateRunning))
	})
	if !started {
		return errors.ErrServiceUnavailable.WithDetail("message", "message server cannot be started twice")
	}

	go s.run()
	s.logger.Infow("Message server started")
	return nil
}

// accepting is true while running and while draining: a sink that produces
// messages, such as the parser, may still push during Shutdown.
func (s *Server) accepting() bool {
	state := s.State()
	return state == StateRunning || state == StateDraining
}

// Push validates and enqueues msg. It never waits for delivery.
func (s *Server) Push(msg *models.Message) error {
	if msg == nil {
		return errors.ErrValidation.WithDetail("message", "message cannot be nil")
	}
	if err := models.ValidateMessage(msg); err != nil {
		return errors.ErrValidation.WithCause(err)
	}

	kind := msg.Kind().String()
	if !s.accepting() || !s.queue.push(msg) {
		metrics.BusMessagesPushedTotal.WithLabelValues(kind, "rejected").Inc()
		return errors.ErrServiceUnavailable.WithDetail("message", "message server is not running")
	}

	metrics.BusMessagesPushedTotal.WithLabelValues(kind, "accepted").Inc()
	return nil
}

func (s *Server) run() {
	defer close(s.done)

	for {
		msg, ok := s.queue.pop()
		if !ok {
			return
		}
		s.deliver(msg)
		s.queue.done()
		metrics.BusQueueSize.Set(float64(s.queue.len()))
	}
}

func (s *Server) deliver(msg *models.Message) {
	start := time.Now()

	s.mu.Lock()
	s.messageCount++
	for _, e := range s.sinks {
		e.sink.PushMessage(msg)
	}
	s.mu.Unlock()

	metrics.ObserveBusDelivery(msg.Kind().String(), time.Since(start))
}

// Load resolves name in the registry, constructs the sink and registers it.
// Loading a sink whose canonical name is already loaded is ErrDuplicate.
func (s *Server) Load(name string) error {
	factory, canonical, err := registry.Resolve[SinkFactory](s.registry, name)
	if err != nil {
		metrics.IncSinkOperation(name, "load", "error")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(canonical, factory); err != nil {
		metrics.IncSinkOperation(canonical, "load", "error")
		return err
	}
	metrics.IncSinkOperation(canonical, "load", "success")
	return nil
}

func (s *Server) loadLocked(name string, factory SinkFactory) error {
	if s.indexLocked(name) >= 0 {
		return errors.ErrDuplicate.WithDetail("message", fmt.Sprintf("sink %q is already loaded", name))
	}

	sink, err := factory(s)
	if err != nil {
		return fmt.Errorf("failed to construct sink %s: %w", name, err)
	}
	if sink == nil {
		return errors.ErrWrongShape.WithDetail("message", fmt.Sprintf("sink factory %q returned nil", name))
	}
	if len(sink.Types()) == 0 {
		s.logger.Warnw("Sink declared no message types", "sink", name)
	}

	s.sinks = append(s.sinks, sinkEntry{name: name, sink: sink})
	metrics.BusSinksLoaded.Set(float64(len(s.sinks)))
	s.logger.Infow("Sink loaded", "sink", name, "types", kindNames(sink.Types()))
	return nil
}

// Unload removes the sink and then shuts it down.
func (s *Server) Unload(name string) error {
	canonical := s.canonicalName(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	sink, err := s.removeLocked(canonical)
	if err != nil {
		metrics.IncSinkOperation(canonical, "unload", "error")
		return err
	}
	sink.Shutdown()

	metrics.IncSinkOperation(canonical, "unload", "success")
	s.logger.Infow("Sink unloaded", "sink", canonical)
	return nil
}

// Reload replaces a loaded sink with a fresh instance built from the current
// registration. The old instance is shut down, draining whatever it had
// queued, before the new one is constructed. Deliveries wait on the registry
// lock for the duration.
func (s *Server) Reload(name string) error {
	canonical := s.canonicalName(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.removeLocked(canonical)
	if err != nil {
		metrics.IncSinkOperation(canonical, "reload", "error")
		return err
	}
	old.Shutdown()

	factory, _, err := registry.Resolve[SinkFactory](s.registry, canonical)
	if err != nil {
		metrics.IncSinkOperation(canonical, "reload", "error")
		return err
	}
	if err := s.loadLocked(canonical, factory); err != nil {
		metrics.IncSinkOperation(canonical, "reload", "error")
		return err
	}

	metrics.IncSinkOperation(canonical, "reload", "success")
	return nil
}

func (s *Server) removeLocked(name string) (Sink, error) {
	idx := s.indexLocked(name)
	if idx < 0 {
		return nil, errors.ErrNotFound.WithDetail("message", fmt.Sprintf("sink %q is not loaded", name))
	}

	sink := s.sinks[idx].sink
	s.sinks = append(s.sinks[:idx], s.sinks[idx+1:]...)
	metrics.BusSinksLoaded.Set(float64(len(s.sinks)))
	return sink, nil
}

func (s *Server) indexLocked(name string) int {
	for i, e := range s.sinks {
		if e.name == name {
			return i
		}
	}
	return -1
}

// canonicalName maps an alias to the name the sink was loaded under.
func (s *Server) canonicalName(name string) string {
	if entry, err := s.registry.Lookup(name); err == nil {
		return entry.Name
	}
	return name
}

// Flush blocks until every message accepted before the call has been handed
// to every sink and each sink has finished with it. It must not be called
// from a sink handler.
func (s *Server) Flush() {
	s.queue.waitAccepted(func() bool { return s.State() == StateStopped })

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.sinks {
		e.sink.Flush()
	}
}

// drain flushes until a pass accepts nothing new, so messages pushed by sink
// handlers during the previous pass are delivered too.
func (s *Server) drain() {
	for {
		before := s.queue.total()
		s.Flush()
		if s.queue.total() == before {
			return
		}
	}
}

// Shutdown delivers everything already accepted, along with whatever sinks
// push while it drains, then stops accepting messages and shuts down and
// forgets every sink. Later calls are no-ops.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		if s.State() == StateRunning {
			s.state.Store(int32(StateDraining))
			s.drain()
			s.queue.close()
			<-s.done
		} else {
			s.startOnce.Do(func() {})
			s.queue.close()
		}

		s.mu.Lock()
		for _, e := range s.sinks {
			e.sink.Shutdown()
			s.logger.Infow("Sink shut down", "sink", e.name)
		}
		s.sinks = nil
		s.mu.Unlock()

		s.state.Store(int32(StateStopped))
		metrics.BusSinksLoaded.Set(0)
		s.logger.Infow("Message server stopped", "messages", s.MessageCount())
	})
}

// Sinks lists the canonical names of the loaded sinks in load order.
func (s *Server) Sinks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, len(s.sinks))
	for i, e := range s.sinks {
		names[i] = e.name
	}
	return names
}

// SinkInfo describes a loaded sink for status reporting.
type SinkInfo struct {
	Name  string   `json:"name"`
	Types []string `json:"types"`
}

// Describe reports every loaded sink with its current interest set.
func (s *Server) Describe() []SinkInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]SinkInfo, len(s.sinks))
	for i, e := range s.sinks {
		infos[i] = SinkInfo{Name: e.name, Types: kindNames(e.sink.Types())}
	}
	return infos
}

func (s *Server) MessageCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageCount
}

func (s *Server) QueueLen() int {
	return s.queue.len()
}

// Accepted is the number of messages Push has ever accepted.
func (s *Server) Accepted() uint64 {
	return s.queue.total()
}

// String never blocks: when a delivery holds the registry lock it reports
// "locked" instead of waiting.
func (s *Server) String() string {
	if !s.mu.TryLock() {
		return "message server: locked"
	}
	defer s.mu.Unlock()

	return fmt.Sprintf("message server: %d sinks loaded, %d messages so far, approx %d queued",
		len(s.sinks), s.messageCount, s.queue.len())
}

func kindNames(kinds []models.Kind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}
