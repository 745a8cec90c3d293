package ml

// Capability holds an optionally loaded model handle. It is an explicit
// Ready/Unavailable variant rather than a nullable pointer, so callers gate
// dispatch on Get instead of nil checks.
type Capability[T any] struct {
	value T
	ready bool
}

// Ready wraps a loaded handle.
func Ready[T any](v T) Capability[T] {
	return Capability[T]{value: v, ready: true}
}

// Unavailable is the zero capability; Get reports false.
func Unavailable[T any]() Capability[T] {
	return Capability[T]{}
}

// Get returns the handle and whether it is loaded.
func (c Capability[T]) Get() (T, bool) {
	return c.value, c.ready
}
