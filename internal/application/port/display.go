package port

import "github.com/stevesarmiento/maximus/internal/domain"

// Decision is the user's verdict on the running best quote.
type Decision int

const (
	DecisionConfirm Decision = iota
	DecisionCancel
)

// QuoteDisplay receives repeated snapshot updates and signals confirmation or
// cancellation back to the aggregator. Any implementation satisfying this
// contract can replace the interactive console table, e.g. one that
// auto-confirms after a fixed number of updates.
type QuoteDisplay interface {
	// Update is called after every snapshot with the full snapshot and the
	// current best provider id ("" when no executable quote exists yet).
	Update(snapshot domain.SwapQuotes, bestProvider string)
	// Decided yields at most one Decision. The channel may never fire; the
	// aggregator races it against stream reads and cancellation.
	Decided() <-chan Decision
	// Close releases terminal state. Safe to call more than once.
	Close()
}
