package marketdata

import (
	"sync"
)

// SymbolBuffer is a fixed-capacity, insertion-ordered ring of bars for one
// symbol. Appending beyond capacity evicts the oldest bar. A bar whose
// timestamp equals the newest stored bar replaces it in place (a still-forming
// bar being updated), everything else appends.
//
// The buffer is safe for one writer (the feed path) and many readers
// (strategy evaluation, snapshots).
type SymbolBuffer struct {
	mu    sync.RWMutex
	bars  []Bar
	head  int // index of the oldest bar
	count int
}

// NewSymbolBuffer creates a buffer holding at most capacity bars.
func NewSymbolBuffer(capacity int) *SymbolBuffer {
	if capacity <= 0 {
		capacity = 200
	}
	return &SymbolBuffer{
		bars: make([]Bar, capacity),
	}
}

// Append stores a bar, evicting the oldest when full. Bars must arrive in
// timestamp order; a bar matching the newest timestamp overwrites it.
func (b *SymbolBuffer) Append(bar Bar) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count > 0 {
		newest := (b.head + b.count - 1) % len(b.bars)
		if b.bars[newest].Timestamp.Equal(bar.Timestamp) {
			b.bars[newest] = bar
			return
		}
	}

	if b.count < len(b.bars) {
		b.bars[(b.head+b.count)%len(b.bars)] = bar
		b.count++
		return
	}

	// Full: overwrite the oldest slot and advance head
	b.bars[b.head] = bar
	b.head = (b.head + 1) % len(b.bars)
}

// Len returns the number of stored bars.
func (b *SymbolBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Capacity returns the fixed capacity.
func (b *SymbolBuffer) Capacity() int {
	return len(b.bars)
}

// Bars returns a copy of all stored bars, oldest first.
func (b *SymbolBuffer) Bars() []Bar {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Bar, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.bars[(b.head+i)%len(b.bars)]
	}
	return out
}

// Last returns the newest bar and true, or a zero bar and false when empty.
func (b *SymbolBuffer) Last() (Bar, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return Bar{}, false
	}
	return b.bars[(b.head+b.count-1)%len(b.bars)], true
}

// Closes returns the close series, oldest first.
func (b *SymbolBuffer) Closes() []float64 {
	bars := b.Bars()
	out := make([]float64, len(bars))
	for i, bar := range bars {
		out[i] = bar.Close
	}
	return out
}

// Volumes returns the volume series, oldest first.
func (b *SymbolBuffer) Volumes() []float64 {
	bars := b.Bars()
	out := make([]float64, len(bars))
	for i, bar := range bars {
		out[i] = bar.Volume
	}
	return out
}

// BufferSet holds one SymbolBuffer per symbol, created lazily on first use.
type BufferSet struct {
	mu       sync.RWMutex
	buffers  map[string]*SymbolBuffer
	capacity int
}

// NewBufferSet creates an empty buffer set with the given per-symbol capacity.
func NewBufferSet(capacity int) *BufferSet {
	return &BufferSet{
		buffers:  make(map[string]*SymbolBuffer),
		capacity: capacity,
	}
}

// Get returns the buffer for a symbol, creating it on first access.
func (s *BufferSet) Get(symbol string) *SymbolBuffer {
	symbol = CanonicalSymbol(symbol)

	s.mu.RLock()
	buf, ok := s.buffers[symbol]
	s.mu.RUnlock()
	if ok {
		return buf
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if buf, ok = s.buffers[symbol]; ok {
		return buf
	}
	buf = NewSymbolBuffer(s.capacity)
	s.buffers[symbol] = buf
	return buf
}

// Peek returns the buffer for a symbol without creating one.
func (s *BufferSet) Peek(symbol string) (*SymbolBuffer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.buffers[CanonicalSymbol(symbol)]
	return buf, ok
}

// Symbols returns the symbols with an existing buffer.
func (s *BufferSet) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.buffers))
	for sym := range s.buffers {
		out = append(out, sym)
	}
	return out
}
