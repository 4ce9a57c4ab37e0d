package script

import "sync"

// OutputBuffer accumulates content emitted through the output binding,
// separate from a script's return value. It is owned by the caller (or the
// runtime when none is supplied) and survives across executions; the runtime
// never clears it.
type OutputBuffer struct {
	mu    sync.Mutex
	items []string
}

// NewOutputBuffer creates an empty buffer.
func NewOutputBuffer() *OutputBuffer {
	return &OutputBuffer{}
}

// Append adds one item at the end of the buffer.
func (b *OutputBuffer) Append(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, s)
}

// Items returns a copy of the accumulated items in append order.
func (b *OutputBuffer) Items() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.items))
	copy(out, b.items)
	return out
}

// Len reports the number of accumulated items.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Clear empties the buffer. Only the caller decides when.
func (b *OutputBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
}
