// Package fn provides the small functional core the ingestion pipeline is
// built from: a Result type, composable stages, retry, and bounded parallel
// mapping.
package fn

// Result carries either a value or the error that replaced it.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] { return Result[T]{val: v, ok: true} }

// Err wraps an error.
func Err[T any](err error) Result[T] { return Result[T]{err: err} }

// FromPair lifts a conventional (value, error) return into a Result.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

func (r Result[T]) IsOk() bool  { return r.ok }
func (r Result[T]) IsErr() bool { return !r.ok }

// Unwrap returns the value and error; exactly one of them is meaningful.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }
