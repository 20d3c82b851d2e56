package scatter

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces request IDs. IDs must be unique among outstanding
// requests.
type IDGenerator interface {
	Generate() string
}

// RandomIDGenerator generates random UUIDv4 request IDs (122 random bits).
//
// Thread-safety: RandomIDGenerator is stateless and safe for concurrent use.
type RandomIDGenerator struct{}

// Generate returns a new hyphenated UUIDv4.
//
// Panics if the system random source fails.
func (RandomIDGenerator) Generate() string {
	return uuid.Must(uuid.NewRandom()).String()
}

// FixedGenerator returns predetermined request IDs for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined ID.
//
// Panics if all IDs have been consumed, which means the test issued more
// searches than it planned for.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
