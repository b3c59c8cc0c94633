package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
)

// gateBarrier holds the building cell of a run until every other cell has
// settled its gates. A cell settles exactly once: after its gate stage, or
// when it finishes without reaching one.
type gateBarrier struct {
	mu      sync.Mutex
	pending map[string]chan struct{}
	failed  []string
}

func newGateBarrier(cells []*domain.MatrixCell) *gateBarrier {
	b := &gateBarrier{pending: make(map[string]chan struct{}, len(cells))}
	for _, c := range cells {
		b.pending[c.Name] = make(chan struct{})
	}
	return b
}

// settle records the gate outcome of cell. Only the first call counts.
func (b *gateBarrier) settle(cell string, passed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.pending[cell]
	if !ok {
		return
	}
	delete(b.pending, cell)
	if !passed {
		b.failed = append(b.failed, cell)
	}
	close(ch)
}

// wait blocks until every cell other than self has settled and returns the
// sorted names of those that failed.
func (b *gateBarrier) wait(ctx context.Context, self string) ([]string, error) {
	b.mu.Lock()
	waiting := make([]chan struct{}, 0, len(b.pending))
	for name, ch := range b.pending {
		if name != self {
			waiting = append(waiting, ch)
		}
	}
	b.mu.Unlock()

	for _, ch := range waiting {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	failed := make([]string, 0, len(b.failed))
	for _, name := range b.failed {
		if name != self {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed, nil
}
