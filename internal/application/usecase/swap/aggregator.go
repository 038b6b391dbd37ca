package swap

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stevesarmiento/maximus/internal/application/port"
	"github.com/stevesarmiento/maximus/internal/domain"
)

// ErrNoExecutableQuote means the stream ended before any provider delivered
// a quote that could be executed.
var ErrNoExecutableQuote = errors.New("swap: no executable quote received")

// Result is the outcome of one quote-selection run. When Cancelled is set the
// remaining fields are zero — a cancelled run never returns partial state.
type Result struct {
	Provider  string
	Quote     domain.SwapQuote
	Snapshot  domain.SwapQuotes
	Cancelled bool
}

// Aggregator folds quote-stream snapshots into a running best quote under a
// live display, with a cancellable confirmation boundary.
type Aggregator struct {
	streamer port.QuoteStreamer
	repo     port.Repository // optional, records the selected quote
}

func NewAggregator(streamer port.QuoteStreamer, repo port.Repository) *Aggregator {
	return &Aggregator{streamer: streamer, repo: repo}
}

// StreamBestQuote opens the stream and, per incoming snapshot, recomputes the
// best quote over the full provider map of that snapshot alone — a provider
// absent from the latest snapshot is not considered, whatever earlier
// snapshots said. ExactIn prefers the greatest OutAmount, ExactOut the
// smallest InAmount; quotes lacking both a transaction and instructions are
// never candidates. Each update is published to the display.
//
// The run ends when the display confirms (stream stopped, best returned),
// the display or ctx cancels (stream stopped, Cancelled result), or the
// stream fails (error propagated).
func (a *Aggregator) StreamBestQuote(ctx context.Context, req domain.SwapQuoteRequest, display port.QuoteDisplay) (Result, error) {
	stream, err := a.streamer.OpenQuoteStream(ctx, req)
	if err != nil {
		return Result{}, err
	}
	defer display.Close()

	var (
		latest  domain.SwapQuotes
		best    domain.SwapQuote
		hasBest bool
	)

	for {
		select {
		case <-ctx.Done():
			stream.Stop()
			log.Info().Msg("quote stream cancelled")
			return Result{Cancelled: true}, nil

		case decision := <-display.Decided():
			stream.Stop()
			if decision != port.DecisionConfirm {
				log.Info().Msg("quote selection cancelled by user")
				return Result{Cancelled: true}, nil
			}
			if !hasBest {
				return Result{}, ErrNoExecutableQuote
			}
			a.recordSelection(ctx, best)
			log.Info().Str("provider", best.Provider).
				Uint64("in", best.InAmount).Uint64("out", best.OutAmount).
				Msg("quote confirmed")
			return Result{Provider: best.Provider, Quote: best, Snapshot: latest}, nil

		case snapshot, ok := <-stream.Updates():
			if !ok {
				if err := stream.Err(); err != nil {
					return Result{}, err
				}
				// Server ended the stream cleanly; the last best still stands.
				if !hasBest {
					return Result{}, ErrNoExecutableQuote
				}
				a.recordSelection(ctx, best)
				return Result{Provider: best.Provider, Quote: best, Snapshot: latest}, nil
			}

			latest = snapshot
			best, hasBest = snapshot.Best(req.SwapMode)

			provider := ""
			if hasBest {
				provider = best.Provider
			}
			display.Update(snapshot, provider)
		}
	}
}

// recordSelection persists the winning quote best-effort; selection never
// fails on storage problems.
func (a *Aggregator) recordSelection(ctx context.Context, q domain.SwapQuote) {
	if a.repo == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"provider":     q.Provider,
		"in_amount":    q.InAmount,
		"out_amount":   q.OutAmount,
		"slippage_bps": q.SlippageBps,
		"reference_id": q.ReferenceID,
	})
	err := a.repo.InsertSelectedQuote(ctx, time.Now().UnixMilli(),
		q.Provider, q.InAmount, q.OutAmount, string(payload))
	if err != nil {
		log.Debug().Err(err).Msg("selected quote persist failed")
	}
}
