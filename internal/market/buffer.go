package market

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/domain"
)

// staleTolerance is how far behind the newest stored candle an incoming
// candle may be before it is treated as out-of-order and dropped.
const staleTolerance = 60 * time.Second

// BufferState is a point-in-time view of buffer statistics.
type BufferState struct {
	Size               int       `json:"size"`
	Capacity           int       `json:"capacity"`
	OldestTime         time.Time `json:"oldest_time"`
	NewestTime         time.Time `json:"newest_time"`
	TotalReceived      uint64    `json:"total_received"`
	TotalEvicted       uint64    `json:"total_evicted"`
	DuplicatesRejected uint64    `json:"duplicates_rejected"`
	StaleRejected      uint64    `json:"stale_rejected"`
	Utilization        float64   `json:"utilization"`
}

// Buffer is a bounded, ordered sliding window of recent candles.
// It never blocks producers: when full, the oldest entry is evicted.
// All operations are internally synchronized; Snapshot returns an
// independent copy safe for concurrent analysis passes.
type Buffer struct {
	mu       sync.Mutex
	candles  []domain.Candle
	capacity int

	totalReceived      uint64
	totalEvicted       uint64
	duplicatesRejected uint64
	staleRejected      uint64
}

// NewBuffer creates an empty buffer with the given capacity.
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer: capacity must be positive, got %d", capacity)
	}
	return &Buffer{
		candles:  make([]domain.Candle, 0, capacity),
		capacity: capacity,
	}, nil
}

// NewBufferWithHistory creates a buffer seeded with a historical batch.
// The batch is sorted by timestamp ascending and truncated to the most
// recent capacity entries. Invalid candles in the seed are a hard error.
func NewBufferWithHistory(capacity int, history []domain.Candle) (*Buffer, error) {
	b, err := NewBuffer(capacity)
	if err != nil {
		return nil, err
	}

	sorted := make([]domain.Candle, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	if len(sorted) > capacity {
		sorted = sorted[len(sorted)-capacity:]
	}

	for _, c := range sorted {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("buffer: invalid seed candle: %w", err)
		}
	}

	b.candles = append(b.candles, sorted...)
	b.totalReceived = uint64(len(sorted))

	slog.Info("Initialized candle buffer with history",
		slog.Int("capacity", capacity),
		slog.Int("seeded", len(sorted)))
	return b, nil
}

// Push appends a new candle to the window.
// Invalid candles return an error. Duplicate timestamps and candles more
// than the stale tolerance behind the newest entry are silently skipped
// (logged and counted). When the window is full, the oldest entry is
// evicted rather than blocking the producer.
func (b *Buffer) Push(c domain.Candle) error {
	if err := c.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.candles); n > 0 {
		last := b.candles[n-1]
		if c.Time.Equal(last.Time) {
			b.duplicatesRejected++
			slog.Debug("Skipping duplicate candle",
				slog.String("symbol", c.Symbol),
				slog.Time("time", c.Time))
			return nil
		}
		if last.Time.Sub(c.Time) > staleTolerance {
			b.staleRejected++
			slog.Warn("Skipping out-of-order candle",
				slog.String("symbol", c.Symbol),
				slog.Time("candle_time", c.Time),
				slog.Time("newest_time", last.Time))
			return nil
		}
	}

	b.candles = append(b.candles, c)
	b.totalReceived++

	if len(b.candles) > b.capacity {
		// Backpressure policy: drop oldest, never block the producer.
		over := len(b.candles) - b.capacity
		b.candles = append(b.candles[:0], b.candles[over:]...)
		b.totalEvicted += uint64(over)
	}

	return nil
}

// Snapshot returns a copy of the window, oldest first.
func (b *Buffer) Snapshot() []domain.Candle {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.Candle, len(b.candles))
	copy(out, b.candles)
	return out
}

// Latest returns the most recent candle, if any.
func (b *Buffer) Latest() (domain.Candle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.candles) == 0 {
		return domain.Candle{}, false
	}
	return b.candles[len(b.candles)-1], true
}

// Recent returns a copy of the most recent n candles, oldest first.
func (b *Buffer) Recent(n int) []domain.Candle {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n >= len(b.candles) {
		n = len(b.candles)
	}
	out := make([]domain.Candle, n)
	copy(out, b.candles[len(b.candles)-n:])
	return out
}

// Range returns the candles whose timestamps fall within [from, to].
func (b *Buffer) Range(from, to time.Time) []domain.Candle {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.Candle
	for _, c := range b.candles {
		if !c.Time.Before(from) && !c.Time.After(to) {
			out = append(out, c)
		}
	}
	return out
}

// Size returns the current number of stored candles.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.candles)
}

// Stats computes the current buffer statistics.
func (b *Buffer) Stats() BufferState {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BufferState{
		Size:               len(b.candles),
		Capacity:           b.capacity,
		TotalReceived:      b.totalReceived,
		TotalEvicted:       b.totalEvicted,
		DuplicatesRejected: b.duplicatesRejected,
		StaleRejected:      b.staleRejected,
		Utilization:        float64(len(b.candles)) / float64(b.capacity),
	}
	if len(b.candles) > 0 {
		st.OldestTime = b.candles[0].Time
		st.NewestTime = b.candles[len(b.candles)-1].Time
	}
	return st
}

// Clear removes all candles and resets the counters.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.candles = b.candles[:0]
	b.totalReceived = 0
	b.totalEvicted = 0
	b.duplicatesRejected = 0
	b.staleRejected = 0
	slog.Info("Cleared candle buffer")
}

// Resize changes the buffer capacity, evicting oldest entries if the new
// capacity is smaller than the current size.
func (b *Buffer) Resize(capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("buffer: capacity must be positive, got %d", capacity)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.candles) > capacity {
		over := len(b.candles) - capacity
		b.candles = append([]domain.Candle{}, b.candles[over:]...)
		b.totalEvicted += uint64(over)
	}
	b.capacity = capacity

	slog.Info("Resized candle buffer",
		slog.Int("capacity", capacity),
		slog.Int("size", len(b.candles)))
	return nil
}
