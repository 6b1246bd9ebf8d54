package index

import (
	"context"
	"sync"
)

// buildGate serializes writers by displacement: starting a new build or
// update cancels the in-flight one instead of queueing behind it. The
// newest request always wins; the displaced operation returns
// ErrBuildCancelled and the published snapshot is untouched.
type buildGate struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// begin cancels any in-flight operation and installs this one. The
// returned context is cancelled when a later begin displaces it; the
// returned done func must be called when the operation finishes. The
// generation identifies this operation to ifCurrent.
func (g *buildGate) begin(ctx context.Context) (context.Context, uint64, func()) {
	ctx, cancel := context.WithCancel(ctx)

	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
	}
	g.gen++
	myGen := g.gen
	g.cancel = cancel
	g.mu.Unlock()

	return ctx, myGen, func() {
		g.mu.Lock()
		if g.gen == myGen {
			g.cancel = nil
		}
		g.mu.Unlock()
		cancel()
	}
}

// ifCurrent runs fn under the gate lock, but only when gen is still the
// newest generation. Cancellation and the gen bump happen under the same
// lock in begin, so a displaced writer observing its context cancelled
// late can no longer publish over the newer request's snapshot.
func (g *buildGate) ifCurrent(gen uint64, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != gen {
		return false
	}
	fn()
	return true
}

// shutdown cancels whatever is in flight.
func (g *buildGate) shutdown() {
	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.gen++
	g.mu.Unlock()
}
