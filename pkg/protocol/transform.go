package protocol

import (
	"fmt"
	"sync"

	"github.com/Knetic/govaluate"
)

// transformCache holds compiled transform expressions keyed by source text.
// Register maps reuse the same handful of expressions across many
// parameters, so compilation is amortized.
var transformCache sync.Map // string -> *govaluate.EvaluableExpression

// applyTransform evaluates a transform expression against a raw value.
// The raw value is bound to the identifier "value".
func applyTransform(expr string, raw float64) (float64, error) {
	if expr == "" {
		return raw, nil
	}

	var compiled *govaluate.EvaluableExpression
	if cached, ok := transformCache.Load(expr); ok {
		compiled = cached.(*govaluate.EvaluableExpression)
	} else {
		var err error
		compiled, err = govaluate.NewEvaluableExpression(expr)
		if err != nil {
			return 0, fmt.Errorf("invalid transform %q: %w", expr, err)
		}
		transformCache.Store(expr, compiled)
	}

	result, err := compiled.Evaluate(map[string]any{"value": raw})
	if err != nil {
		return 0, fmt.Errorf("transform %q failed: %w", expr, err)
	}

	f, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("transform %q produced %T, want float64", expr, result)
	}
	return f, nil
}
