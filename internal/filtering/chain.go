package filtering

import (
	"context"
	"fmt"
	"time"

	"habitat/internal/logger"
	"habitat/internal/registry"
	"habitat/pkg/cel"
	"habitat/pkg/metrics"
	"habitat/pkg/models"
	"habitat/pkg/tracing"
)

const DefaultHotfixTimeout = 100 * time.Millisecond

// Chain applies filter lists. Every filter is fail-open: whatever goes wrong
// with one filter, its input is handed on to the next one unchanged.
type Chain struct {
	registry      *registry.Registry
	verifier      Verifier
	evaluator     *cel.Evaluator
	hotfixTimeout time.Duration
	logger        logger.Logger
}

type ChainOption func(*Chain)

func WithHotfixTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		if d > 0 {
			c.hotfixTimeout = d
		}
	}
}

func NewChain(reg *registry.Registry, verifier Verifier, log logger.Logger, opts ...ChainOption) (*Chain, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	c := &Chain{
		registry:      reg,
		verifier:      verifier,
		evaluator:     evaluator,
		hotfixTimeout: DefaultHotfixTimeout,
		logger:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Apply runs filters over data in order and returns the result. Pre and
// intermediate stages work on the raw sentence string; the post stage on the
// parsed field map.
func (c *Chain) Apply(ctx context.Context, stage Stage, data interface{}, filters []Descriptor) interface{} {
	if len(filters) == 0 {
		return data
	}

	ctx, span := tracing.GetTracer("parser").Start(ctx, "filtering.apply")
	defer span.End()

	for i, f := range filters {
		out, err := c.applyOne(ctx, stage, f, models.CopyValue(data))
		if err == nil {
			err = checkShape(stage, out)
		}
		if err != nil {
			metrics.IncFilterApplication(string(stage), f.Type, "failed")
			c.logger.WarnwCtx(ctx, "Filter failed, data passed through unchanged",
				"stage", stage,
				"index", i,
				"filter_type", f.Type,
				"filter", f.Filter,
				"error", err,
			)
			continue
		}

		metrics.IncFilterApplication(string(stage), f.Type, "applied")
		data = out
	}

	return data
}

func (c *Chain) applyOne(ctx context.Context, stage Stage, f Descriptor, data interface{}) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("filter panicked: %v", r)
		}
	}()

	switch f.Type {
	case TypeNormal:
		return c.applyNormal(f, data)
	case TypeHotfix:
		return c.applyHotfix(ctx, f, data)
	default:
		return nil, fmt.Errorf("invalid filter type %q", f.Type)
	}
}

func (c *Chain) applyNormal(f Descriptor, data interface{}) (interface{}, error) {
	entry, err := c.registry.Lookup(f.Filter)
	if err != nil {
		return nil, err
	}

	switch fn := entry.Value.(type) {
	case DataFilter:
		return fn(data)
	case ConfigFilter:
		config := f.Config
		if config == nil {
			config = map[string]interface{}{}
		}
		return fn(models.CopyMap(config), data)
	default:
		return nil, fmt.Errorf("%q is a %T, not a filter", f.Filter, entry.Value)
	}
}

func (c *Chain) applyHotfix(ctx context.Context, f Descriptor, data interface{}) (interface{}, error) {
	if c.verifier == nil {
		return nil, fmt.Errorf("hotfixes are disabled")
	}

	method := VerifyMethodSharedSecret
	if hv, ok := c.verifier.(*HotfixVerifier); ok {
		method = hv.Method(f)
	}
	if err := c.verifier.Verify(f); err != nil {
		metrics.IncHotfixVerification(method, "rejected")
		return nil, err
	}
	metrics.IncHotfixVerification(method, "accepted")

	ctx, cancel := context.WithTimeout(ctx, c.hotfixTimeout)
	defer cancel()

	c.logger.DebugwCtx(ctx, "Executing hotfix")
	return c.evaluator.EvaluateHotfix(ctx, f.Code, data)
}

func checkShape(stage Stage, data interface{}) error {
	switch stage {
	case StagePost:
		if _, ok := data.(map[string]interface{}); !ok {
			return fmt.Errorf("post filter returned %T, want a field map", data)
		}
	default:
		if _, ok := data.(string); !ok {
			return fmt.Errorf("%s filter returned %T, want a string", stage, data)
		}
	}
	return nil
}
