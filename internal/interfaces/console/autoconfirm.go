package console

import (
	"sync"

	"github.com/stevesarmiento/maximus/internal/application/port"
	"github.com/stevesarmiento/maximus/internal/domain"
)

// AutoConfirmDisplay confirms without user interaction once it has seen a
// given number of updates that carry an executable best quote. It satisfies
// the same contract as the interactive table, for non-interactive runs.
type AutoConfirmDisplay struct {
	after int

	mu      sync.Mutex
	seen    int
	decided chan port.Decision
	fired   bool
}

// NewAutoConfirmDisplay confirms after `after` best-carrying updates
// (minimum 1).
func NewAutoConfirmDisplay(after int) *AutoConfirmDisplay {
	if after < 1 {
		after = 1
	}
	return &AutoConfirmDisplay{
		after:   after,
		decided: make(chan port.Decision, 1),
	}
}

func (d *AutoConfirmDisplay) Update(snapshot domain.SwapQuotes, bestProvider string) {
	if bestProvider == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen++
	if d.seen >= d.after && !d.fired {
		d.fired = true
		d.decided <- port.DecisionConfirm
	}
}

func (d *AutoConfirmDisplay) Decided() <-chan port.Decision { return d.decided }

func (d *AutoConfirmDisplay) Close() {}

var _ port.QuoteDisplay = (*AutoConfirmDisplay)(nil)
