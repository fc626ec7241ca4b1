package counter

import (
	"sync"

	"github.com/nasa-jpl/ni660x/formula"
)

// Transform turns raw encoder counts into positions.  Parsed formulas are
// cached by source text.
type Transform struct {
	mu    sync.Mutex
	cache map[string]*formula.Expr
}

// NewTransform returns a Transform with an empty cache
func NewTransform() *Transform {
	return &Transform{cache: make(map[string]*formula.Expr)}
}

func (t *Transform) compile(src string) (*formula.Expr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.cache[src]; ok {
		return e, nil
	}
	e, err := formula.Parse(src)
	if err != nil {
		return nil, err
	}
	t.cache[src] = e
	return e, nil
}

// Displacement subtracts ref from every element of raw
func Displacement(raw []float64, ref float64) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = v - ref
	}
	return out
}

// Apply evaluates the channel formula with pos bound to raw-ref and start
// bound to the configured start position.  When the formula can not be
// evaluated the displacement is returned together with a *TransformError.
func (t *Transform) Apply(channel string, cfg ChannelConfig, ref float64, raw []float64) ([]float64, error) {
	pos := Displacement(raw, ref)
	fail := func(err error) ([]float64, error) {
		return pos, &TransformError{Channel: channel, Formula: cfg.PositionFormula, Err: err}
	}
	expr, err := t.compile(cfg.PositionFormula)
	if err != nil {
		return fail(err)
	}
	v, err := expr.Eval(formula.Bindings{
		"pos":   formula.Vector(pos),
		"start": formula.Scalar(cfg.PositionStart),
	})
	if err != nil {
		return fail(err)
	}
	out, err := v.Broadcast(len(pos))
	if err != nil {
		return fail(err)
	}
	return out, nil
}
