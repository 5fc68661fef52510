package bus

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"habitat/internal/logger"
	"habitat/internal/registry"
	"habitat/pkg/errors"
	"habitat/pkg/logging"
	"habitat/pkg/metrics"
	"habitat/pkg/models"
	"habitat/pkg/tracing"
)

// Sink is what the Server delivers to. SimpleSink and ThreadedSink are the
// two implementations; sink authors write a Handler and wrap it in one.
type Sink interface {
	Accepts(kind models.Kind) bool
	Types() []models.Kind

	// PushMessage is called by the Server for every message it delivers.
	// Filtering on the interest set happens inside the sink.
	PushMessage(msg *models.Message)

	// Flush returns once no handler invocation started before the call is
	// still running.
	Flush()

	// Shutdown flushes and releases the sink. It is called exactly once.
	Shutdown()
}

// Handler is the consumer logic of a sink.
type Handler interface {
	// Setup runs once before any delivery and declares the interest set.
	Setup(types *TypeSet) error
	HandleMessage(ctx context.Context, msg *models.Message)
}

// Closer is implemented by handlers that hold resources beyond the sink's
// lifetime.
type Closer interface {
	Close() error
}

// Pusher is the only part of the Server a sink needs to produce messages.
type Pusher interface {
	Push(msg *models.Message) error
}

// SinkFactory builds a fresh sink bound to server. Factories are what gets
// registered under a sink name.
type SinkFactory func(server *Server) (Sink, error)

func RegisterSink(reg *registry.Registry, name string, factory SinkFactory, aliases ...string) error {
	if factory == nil {
		return fmt.Errorf("sink factory %q is nil", name)
	}
	return reg.Register(name, factory, aliases...)
}

func messageContext(msg *models.Message) context.Context {
	ctx := logging.WithMessageID(context.Background(), msg.ID())
	return logging.WithCallsign(ctx, msg.Source().Callsign())
}

// invoke runs one delivery. A handler panic is logged with its stack and
// raised again: a sink left in an unknown state takes the process down.
func invoke(sink string, h Handler, msg *models.Message, log logger.Logger) {
	ctx, span := tracing.StartMessageSpan(messageContext(msg), "bus", "sink.handle", msg, tracing.AttrSink.String(sink))
	defer span.End()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := errors.RecoverPanic(r)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler panicked")
		metrics.IncSinkOperation(sink, "handle", "panic")
		log.ErrorwCtx(ctx, "Sink handler panicked, stopping",
			"sink", sink,
			"error", err,
			"stack_trace", errors.StackTrace(err),
		)
		_ = log.Sync()
		panic(r)
	}()

	h.HandleMessage(ctx, msg)
}

func closeHandler(h Handler) error {
	if c, ok := h.(Closer); ok {
		return c.Close()
	}
	return nil
}
