// Package options implements the generic functional option pattern shared
// by the decoder, merger, recorder and registry constructors.
package options

// Option configures a value of type T. Constructors collect a slice of
// these and apply them in order before first use.
type Option[T any] interface {
	apply(T) error
}

// Func adapts a configuration function to the Option interface.
type Func[T any] struct {
	applyFunc func(T) error
}

func (f *Func[T]) apply(target T) error {
	return f.applyFunc(target)
}

// New wraps a validating configuration function. Use NoError for setters
// that cannot fail.
func New[T any](fn func(T) error) *Func[T] {
	return &Func[T]{applyFunc: fn}
}

// Apply runs the options against target in order, stopping at the first
// error.
func Apply[T any](target T, opts ...Option[T]) error {
	for _, opt := range opts {
		if err := opt.apply(target); err != nil {
			return err
		}
	}

	return nil
}

// NoError wraps a setter that cannot fail.
func NoError[T any](fn func(T)) *Func[T] {
	return &Func[T]{
		applyFunc: func(target T) error {
			fn(target)
			return nil
		},
	}
}
