package domain

import "time"

// PricePoint is one observed price for a token, replaced wholesale on every
// update. ReceivedAt is local capture time and only feeds staleness checks;
// it is never persisted.
type PricePoint struct {
	Price           float64
	MarketCap       float64
	Volume24h       float64
	Change24hPct    float64
	SourceTimestamp int64
	ReceivedAt      time.Time
}

// Age reports how stale the point is relative to local wall clock.
func (p PricePoint) Age() time.Duration {
	return time.Since(p.ReceivedAt)
}

// OnchainKey builds the cache/subscription key for the on-chain channel.
func OnchainKey(network, address string) string {
	return network + ":" + address
}
