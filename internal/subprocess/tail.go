package subprocess

import "sync"

// DefaultTailSize is how much of the combined output a failed command reports.
const DefaultTailSize = 64 << 10

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu        sync.Mutex
	limit     int
	data      []byte
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{
		limit: limit,
		data:  make([]byte, 0, min(limit, 4096)),
	}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)

	if len(p) >= b.limit {
		b.truncated = b.truncated || len(b.data) > 0 || len(p) > b.limit
		b.data = append(b.data[:0], p[len(p)-b.limit:]...)

		return n, nil
	}

	if overflow := len(b.data) + len(p) - b.limit; overflow > 0 {
		b.truncated = true
		b.data = append(b.data[:0], b.data[overflow:]...)
	}

	b.data = append(b.data, p...)

	return n, nil
}

func (b *tailBuffer) bytes() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]byte(nil), b.data...), b.truncated
}
