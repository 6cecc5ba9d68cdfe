// Package fallback evaluates ordered strategies lazily and keeps the first one
// that succeeds.
package fallback

import "context"

// Attempt is a single named strategy. Try reports ok=false when the strategy did
// not produce a value; it is never expected to panic or return an error, strategies
// degrade to a miss instead.
type Attempt[T any] struct {
	Name string
	Try  func(ctx context.Context) (T, bool)
}

// Outcome describes which attempt produced the value.
type Outcome struct {
	// Name of the attempt that succeeded, empty when all attempts missed.
	Name string
	// Index of the attempt that succeeded, -1 when all attempts missed.
	Index int
	// Tried is the number of attempts that were evaluated.
	Tried int
}

func (o Outcome) Found() bool {
	return o.Index >= 0
}

// First evaluates attempts in order and stops at the first success. Attempts after
// the winner are never evaluated. A cancelled context stops the chain early.
func First[T any](ctx context.Context, attempts ...Attempt[T]) (T, Outcome) {
	var zero T
	out := Outcome{Index: -1}
	for i, a := range attempts {
		if ctx.Err() != nil {
			return zero, out
		}
		out.Tried++
		value, ok := a.Try(ctx)
		if ok {
			out.Name = a.Name
			out.Index = i
			return value, out
		}
	}
	return zero, out
}

// Levels builds one attempt per level in [from, to], used for "walk n ancestors up"
// style strategies.
func Levels[T any](name string, from, to int, try func(ctx context.Context, level int) (T, bool)) []Attempt[T] {
	var out []Attempt[T]
	for level := from; level <= to; level++ {
		l := level
		out = append(out, Attempt[T]{
			Name: name,
			Try: func(ctx context.Context) (T, bool) {
				return try(ctx, l)
			},
		})
	}
	return out
}

// Chain flattens groups of attempts into one ordered list.
func Chain[T any](groups ...[]Attempt[T]) []Attempt[T] {
	var out []Attempt[T]
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
