package channel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/replicant/internal/ir"
)

func TestClock_NewClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, ir.NoWatermark, c.Current(), "new clock has assigned nothing yet")
	assert.Equal(t, ir.Watermark(0), c.Next(), "first watermark is 0")
}

func TestClock_NewClockAt(t *testing.T) {
	c := NewClockAt(99)
	assert.Equal(t, ir.Watermark(100), c.Next())
	assert.Equal(t, ir.Watermark(100), c.Current())
}

func TestClock_ThreadSafe(t *testing.T) {
	c := NewClock()
	const goroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	seqs := make(chan ir.Watermark, goroutines*callsPerGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				seqs <- c.Next()
			}
		}()
	}

	wg.Wait()
	close(seqs)

	seen := make(map[ir.Watermark]bool)
	for w := range seqs {
		assert.False(t, seen[w], "watermark %d assigned twice", w)
		seen[w] = true
	}
	assert.Len(t, seen, goroutines*callsPerGoroutine)
}
