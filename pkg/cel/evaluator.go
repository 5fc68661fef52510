package cel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"
)

const (
	DefaultCostLimit = 100000

	interruptCheckFrequency = 100
)

// Evaluator runs hotfix expressions. A hotfix sees the value being filtered
// as the variable "data" and evaluates to its replacement. Compiled programs
// are cached by source text.
type Evaluator struct {
	env       *cel.Env
	costLimit uint64

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewEvaluator() (*Evaluator, error) {
	return NewEvaluatorWithCostLimit(DefaultCostLimit)
}

func NewEvaluatorWithCostLimit(costLimit uint64) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.DynType),
		ext.Strings(),
		ext.Encoders(),
		ext.Math(),
		cel.Function("set",
			cel.Overload("set_map_string_dyn",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType, cel.DynType},
				cel.MapType(cel.StringType, cel.DynType),
				cel.FunctionBinding(setKey),
			),
		),
		cel.Function("unset",
			cel.Overload("unset_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.MapType(cel.StringType, cel.DynType),
				cel.BinaryBinding(unsetKey),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:       env,
		costLimit: costLimit,
		programs:  make(map[string]cel.Program),
	}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

func (e *Evaluator) CompileExpression(expression string) (cel.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	program, err := e.env.Program(ast,
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(interruptCheckFrequency),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()

	return program, nil
}

// EvaluateHotfix runs code against data and returns the result as plain Go
// values (maps, slices, strings, numbers).
func (e *Evaluator) EvaluateHotfix(ctx context.Context, code string, data interface{}) (interface{}, error) {
	program, err := e.CompileExpression(code)
	if err != nil {
		return nil, err
	}

	result, _, err := program.ContextEval(ctx, map[string]interface{}{"data": data})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	return ToNative(result)
}

// ToNative converts a CEL value into the Go representation used for message
// payloads.
func ToNative(v ref.Val) (interface{}, error) {
	switch v.Type() {
	case types.NullType:
		return nil, nil

	case types.MapType:
		m, ok := v.(traits.Mapper)
		if !ok {
			return nil, fmt.Errorf("unexpected map value %T", v)
		}
		out := make(map[string]interface{})
		it := m.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			key, ok := k.Value().(string)
			if !ok {
				return nil, fmt.Errorf("map keys must be strings, got %T", k.Value())
			}
			val, err := ToNative(m.Get(k))
			if err != nil {
				return nil, err
			}
			out[key] = val
		}
		return out, nil

	case types.ListType:
		l, ok := v.(traits.Lister)
		if !ok {
			return nil, fmt.Errorf("unexpected list value %T", v)
		}
		size, _ := l.Size().(types.Int)
		out := make([]interface{}, 0, int(size))
		for i := types.Int(0); i < size; i++ {
			val, err := ToNative(l.Get(i))
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil

	case types.ErrType:
		return nil, fmt.Errorf("CEL evaluation error: %v", v.Value())

	default:
		return v.Value(), nil
	}
}

func setKey(args ...ref.Val) ref.Val {
	if len(args) != 3 {
		return types.NewErr("set expects 3 arguments")
	}
	m, err := nativeMap(args[0])
	if err != nil {
		return types.NewErr("%v", err)
	}
	key, ok := args[1].Value().(string)
	if !ok {
		return types.NewErr("set key must be a string")
	}
	val, err := ToNative(args[2])
	if err != nil {
		return types.NewErr("%v", err)
	}
	m[key] = val
	return types.DefaultTypeAdapter.NativeToValue(m)
}

func unsetKey(mapVal, keyVal ref.Val) ref.Val {
	m, err := nativeMap(mapVal)
	if err != nil {
		return types.NewErr("%v", err)
	}
	key, ok := keyVal.Value().(string)
	if !ok {
		return types.NewErr("unset key must be a string")
	}
	delete(m, key)
	return types.DefaultTypeAdapter.NativeToValue(m)
}

func nativeMap(v ref.Val) (map[string]interface{}, error) {
	native, err := ToNative(v)
	if err != nil {
		return nil, err
	}
	m, ok := native.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a map, got %T", native)
	}
	return m, nil
}
