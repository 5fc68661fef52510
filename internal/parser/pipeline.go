package parser

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"habitat/internal/bus"
	"habitat/internal/filtering"
	"habitat/internal/flightconfig"
	"habitat/internal/logger"
	"habitat/pkg/errors"
	"habitat/pkg/metrics"
	"habitat/pkg/models"
	"habitat/pkg/tracing"
)

const (
	FieldProtocol          = "_protocol"
	FieldParsed            = "_parsed"
	FieldFlight            = "_flight"
	FieldUsedDefaultConfig = "_used_default_config"
	FieldRaw               = "_raw"
	FieldListenerMetadata  = "_listener_metadata"

	passConfigured = "configured"
	passDefault    = "default"
)

// ErrNoParse means no module could make sense of the telemetry. For noisy
// radio input this is an ordinary outcome.
var ErrNoParse = fmt.Errorf("no module could parse the telemetry")

// Pipeline turns RawTelemetry into ParsedTelemetry. Each module is tried
// once with the sender's stored configuration; only when every module fails
// is each tried once more with its default configuration.
type Pipeline struct {
	modules []ModuleEntry
	store   flightconfig.Store
	chain   *filtering.Chain
	pusher  bus.Pusher
	logger  logger.Logger
}

func NewPipeline(modules []ModuleEntry, store flightconfig.Store, chain *filtering.Chain, pusher bus.Pusher, log logger.Logger) *Pipeline {
	return &Pipeline{
		modules: modules,
		store:   store,
		chain:   chain,
		pusher:  pusher,
		logger:  log,
	}
}

// NewSinkFactory registers the pipeline as a threaded sink, so slow
// configuration lookups never hold up the bus.
func NewSinkFactory(modules []ModuleEntry, store flightconfig.Store, chain *filtering.Chain, log logger.Logger) bus.SinkFactory {
	return func(server *bus.Server) (bus.Sink, error) {
		return bus.NewThreadedSink("parser", NewPipeline(modules, store, chain, server, log), log)
	}
}

func (p *Pipeline) Setup(types *bus.TypeSet) error {
	return types.AddType(models.KindRawTelemetry)
}

func (p *Pipeline) HandleMessage(ctx context.Context, msg *models.Message) {
	parsed, err := p.Parse(ctx, msg)
	if err != nil {
		p.logger.InfowCtx(ctx, "Unable to parse any data", "raw", msg.RawString(), "error", err)
		return
	}

	if err := p.pusher.Push(parsed); err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to push parsed telemetry", "error", err)
	}
}

// Parse runs the module fallback over msg and builds the ParsedTelemetry
// message. It returns ErrNoParse when both passes fail.
func (p *Pipeline) Parse(ctx context.Context, msg *models.Message) (*models.Message, error) {
	start := time.Now()

	if msg.Kind() != models.KindRawTelemetry {
		return nil, errors.ErrValidation.WithDetail("message", fmt.Sprintf("parser only accepts %s, got %s", models.KindRawTelemetry, msg.Kind()))
	}

	ctx, span := tracing.StartMessageSpan(ctx, "parser", "parser.parse", msg)
	defer span.End()

	raw, err := msg.RawBytes()
	if err != nil {
		metrics.ObserveParserDuration(time.Since(start), "invalid")
		return nil, errors.ErrValidation.WithCause(err)
	}

	fields, entry, pass := p.parse(ctx, string(raw), msg.CreatedAt())
	if fields == nil {
		metrics.ObserveParserDuration(time.Since(start), "failed")
		return nil, ErrNoParse
	}

	span.SetAttributes(attribute.String("parser.protocol", entry.Name), attribute.String("parser.pass", pass))

	fields[FieldRaw] = msg.RawString()
	fields[FieldListenerMetadata] = msg.ReceiverMetadata()

	parsed, err := models.NewMessageBuilder(models.KindParsedTelemetry).
		WithSource(msg.Source()).
		WithCreatedAt(msg.CreatedAt()).
		WithUploadedAt(msg.UploadedAt()).
		WithData(fields).
		Build()
	if err != nil {
		metrics.ObserveParserDuration(time.Since(start), "failed")
		return nil, err
	}

	metrics.ObserveParserDuration(time.Since(start), "parsed")
	p.logger.InfowCtx(ctx, "Parsed telemetry", "module", entry.Name, "pass", pass)
	return parsed, nil
}

func (p *Pipeline) parse(ctx context.Context, raw string, createdAt time.Time) (map[string]interface{}, *ModuleEntry, string) {
	for i := range p.modules {
		entry := &p.modules[i]
		fields, err := p.attemptConfigured(ctx, entry, raw, createdAt)
		if err != nil {
			metrics.IncParserModuleAttempt(entry.Name, passConfigured, "failed")
			p.logger.DebugwCtx(ctx, "Module could not parse with stored configuration", "module", entry.Name, "error", err)
			continue
		}
		metrics.IncParserModuleAttempt(entry.Name, passConfigured, "parsed")
		return fields, entry, passConfigured
	}

	for i := range p.modules {
		entry := &p.modules[i]
		if entry.DefaultConfig == nil {
			continue
		}
		fields, err := p.attemptDefault(ctx, entry, raw)
		if err != nil {
			metrics.IncParserModuleAttempt(entry.Name, passDefault, "failed")
			p.logger.DebugwCtx(ctx, "Module could not parse with default configuration", "module", entry.Name, "error", err)
			continue
		}
		metrics.IncParserModuleAttempt(entry.Name, passDefault, "parsed")
		p.logger.InfowCtx(ctx, "Using a default configuration", "module", entry.Name)
		return fields, entry, passDefault
	}

	return nil, nil, ""
}

// attemptConfigured does its own lookup, so a configuration fetched for one
// module is never seen by another.
func (p *Pipeline) attemptConfigured(ctx context.Context, entry *ModuleEntry, raw string, createdAt time.Time) (map[string]interface{}, error) {
	data, callsign, err := p.preParse(ctx, entry, raw)
	if err != nil {
		return nil, err
	}

	match, err := p.store.Lookup(ctx, callsign, createdAt)
	if err != nil {
		if !errors.IsNotFound(err) {
			p.logger.WarnwCtx(ctx, "Configuration lookup failed", "module", entry.Name, "callsign", callsign, "error", err)
		}
		return nil, err
	}

	if match.Payload.Sentence.Protocol != entry.Name {
		return nil, fmt.Errorf("configuration %s for %s is for protocol %q", match.DocumentID, callsign, match.Payload.Sentence.Protocol)
	}

	fields, err := p.parseWith(ctx, entry, data, match.Payload)
	if err != nil {
		return nil, err
	}
	fields[FieldFlight] = match.DocumentID
	return fields, nil
}

func (p *Pipeline) attemptDefault(ctx context.Context, entry *ModuleEntry, raw string) (map[string]interface{}, error) {
	data, _, err := p.preParse(ctx, entry, raw)
	if err != nil {
		return nil, err
	}

	fields, err := p.parseWith(ctx, entry, data, *entry.DefaultConfig)
	if err != nil {
		return nil, err
	}
	fields[FieldUsedDefaultConfig] = true
	return fields, nil
}

func (p *Pipeline) preParse(ctx context.Context, entry *ModuleEntry, raw string) (string, string, error) {
	data, ok := p.chain.Apply(ctx, filtering.StagePre, raw, entry.PreFilters).(string)
	if !ok {
		return "", "", fmt.Errorf("pre filters did not return a string")
	}

	callsign, err := entry.Module.PreParse(data)
	if err != nil {
		return "", "", err
	}
	return data, callsign, nil
}

func (p *Pipeline) parseWith(ctx context.Context, entry *ModuleEntry, data string, cfg flightconfig.PayloadConfig) (map[string]interface{}, error) {
	data, ok := p.chain.Apply(ctx, filtering.StageIntermediate, data, cfg.Filters.Intermediate).(string)
	if !ok {
		return nil, fmt.Errorf("intermediate filters did not return a string")
	}

	fields, err := entry.Module.Parse(data, cfg.Sentence)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("module %s returned no fields", entry.Name)
	}

	fields, ok = p.chain.Apply(ctx, filtering.StagePost, fields, cfg.Filters.Post).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("post filters did not return a field map")
	}

	fields[FieldProtocol] = entry.Name
	fields[FieldParsed] = true
	return fields, nil
}
