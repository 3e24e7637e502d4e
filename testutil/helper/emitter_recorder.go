package helper

import "sync"

// EmitterRecorder is a synchronous outbound.Emitter that keeps every emitted item.
type EmitterRecorder[T any] struct {
	mu    sync.Mutex
	items []T
}

// NewEmitterRecorder creates an empty EmitterRecorder.
func NewEmitterRecorder[T any]() *EmitterRecorder[T] {
	return &EmitterRecorder[T]{}
}

// Emit records item and always accepts it.
func (r *EmitterRecorder[T]) Emit(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)

	return true
}

// Items returns a copy of the recorded items in emission order.
func (r *EmitterRecorder[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]T(nil), r.items...)
}

// Filter returns the recorded items for which keep returns true.
func (r *EmitterRecorder[T]) Filter(keep func(T) bool) []T {
	var kept []T
	for _, item := range r.Items() {
		if keep(item) {
			kept = append(kept, item)
		}
	}

	return kept
}

// Reset forgets all recorded items.
func (r *EmitterRecorder[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}
