package formula

import "fmt"

// Value is either a scalar or a vector of float64.  Arithmetic between a
// scalar and a vector broadcasts the scalar, as numpy does.
type Value struct {
	vec    []float64
	scalar float64
	isVec  bool
}

// Scalar wraps a single number
func Scalar(f float64) Value {
	return Value{scalar: f}
}

// Vector wraps a slice.  The slice is not copied.
func Vector(v []float64) Value {
	return Value{vec: v, isVec: true}
}

// IsVector returns true if the value holds a slice
func (v Value) IsVector() bool {
	return v.isVec
}

// Float returns the scalar value; zero for vectors
func (v Value) Float() float64 {
	return v.scalar
}

// Slice returns the vector; nil for scalars
func (v Value) Slice() []float64 {
	return v.vec
}

// Broadcast returns the value as a slice of length n.  Scalars are repeated,
// vectors must already have length n.
func (v Value) Broadcast(n int) ([]float64, error) {
	if !v.isVec {
		out := make([]float64, n)
		for i := range out {
			out[i] = v.scalar
		}
		return out, nil
	}
	if len(v.vec) != n {
		return nil, fmt.Errorf("%w: result has %d elements, expected %d", ErrShape, len(v.vec), n)
	}
	return v.vec, nil
}

func (v Value) String() string {
	if v.isVec {
		return fmt.Sprint(v.vec)
	}
	return fmt.Sprint(v.scalar)
}

// unary applies f element-wise
func unary(v Value, f func(float64) float64) Value {
	if !v.isVec {
		return Scalar(f(v.scalar))
	}
	out := make([]float64, len(v.vec))
	for i, x := range v.vec {
		out[i] = f(x)
	}
	return Vector(out)
}

// binary applies f element-wise with scalar broadcasting
func binary(a, b Value, f func(float64, float64) float64) (Value, error) {
	switch {
	case !a.isVec && !b.isVec:
		return Scalar(f(a.scalar, b.scalar)), nil
	case a.isVec && !b.isVec:
		out := make([]float64, len(a.vec))
		for i, x := range a.vec {
			out[i] = f(x, b.scalar)
		}
		return Vector(out), nil
	case !a.isVec && b.isVec:
		out := make([]float64, len(b.vec))
		for i, x := range b.vec {
			out[i] = f(a.scalar, x)
		}
		return Vector(out), nil
	}
	if len(a.vec) != len(b.vec) {
		return Value{}, fmt.Errorf("%w: operands have %d and %d elements", ErrShape, len(a.vec), len(b.vec))
	}
	out := make([]float64, len(a.vec))
	for i := range a.vec {
		out[i] = f(a.vec[i], b.vec[i])
	}
	return Vector(out), nil
}
