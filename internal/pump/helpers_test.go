package pump

import (
	"testing"
	"time"

	"github.com/roach88/replicant/internal/channel"
	"github.com/roach88/replicant/internal/objstore"
)

// tally is a small aggregate keyed by name.
type tally map[string]int

type bump struct {
	Key   string `json:"key"`
	Delta int    `json:"delta"`
}

type tallyDomain struct{}

func (tallyDomain) CreateEmpty() tally { return tally{} }

func (tallyDomain) Apply(cur tally, u bump) tally {
	next := make(tally, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[u.Key] += u.Delta
	return next
}

// foldAll folds updates from empty, the reference every pump must match.
func foldAll(updates []bump) tally {
	var d tallyDomain
	t := d.CreateEmpty()
	for _, u := range updates {
		t = d.Apply(t, u)
	}
	return t
}

func newTestPump(t *testing.T, ch channel.Channel, st objstore.Store, opts ...Option) *Pump[tally, bump] {
	t.Helper()
	return New[tally, bump](tallyDomain{}, ch, st, opts...)
}

// waitClosed fails the test if done is not closed within timeout.
func waitClosed(t *testing.T, done <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for channel close")
	}
}
