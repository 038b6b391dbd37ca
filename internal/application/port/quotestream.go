package port

import (
	"context"

	"github.com/stevesarmiento/maximus/internal/domain"
)

// QuoteStream is one open server-push quote stream. Updates delivers
// snapshots in server order until the stream ends; after Updates is closed,
// Err reports the terminal error, if any. Stop asks the server to release the
// stream and is safe to call more than once.
type QuoteStream interface {
	Updates() <-chan domain.SwapQuotes
	Err() error
	Stop()
}

// QuoteStreamer opens quote streams. One implementation owns one connection;
// connect failures surface once and are not retried here, since a quote
// request has caller-visible parameters.
type QuoteStreamer interface {
	OpenQuoteStream(ctx context.Context, req domain.SwapQuoteRequest) (QuoteStream, error)
}
