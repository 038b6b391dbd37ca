package pricefeed

import (
	"encoding/json"
	"time"

	"github.com/stevesarmiento/maximus/internal/domain"
)

// Channel names and inbound frame tags of the streaming feed.
const (
	channelSimplePrice  = "CGSimplePrice"
	channelOnchainPrice = "OnchainSimpleTokenPrice"

	tagSimplePrice  = "C1"
	tagOnchainPrice = "G1"
)

// Subscription-set list keys inside the set_tokens payload.
const (
	listKeySimple  = "coin_id"
	listKeyOnchain = "network_id:token_addresses"
)

// Status codes the feed sends in code envelopes. statusInvalidID is on the
// tolerated allow-list: abbreviated or unknown token identifiers are common
// and not exceptional, so it is noted at debug level only.
const (
	statusOK        = 2000
	statusInvalidID = 4008
)

// command is the ActionCable-style outbound envelope. Identifier and Data are
// JSON encoded as strings, per the protocol.
type command struct {
	Command    string `json:"command"`
	Identifier string `json:"identifier"`
	Data       string `json:"data,omitempty"`
}

func channelIdentifier(channel string) string {
	b, _ := json.Marshal(map[string]string{"channel": channel})
	return string(b)
}

// subscribeCommand builds the channel-subscribe envelope.
func subscribeCommand(channel string) command {
	return command{Command: "subscribe", Identifier: channelIdentifier(channel)}
}

// setTokensCommand builds the token-subscribe envelope carrying the full
// current key set (diff-by-full-replace).
func setTokensCommand(channel, listKey string, keys []string) command {
	payload := map[string]any{
		listKey:  keys,
		"action": "set_tokens",
	}
	b, _ := json.Marshal(payload)
	return command{
		Command:    "message",
		Identifier: channelIdentifier(channel),
		Data:       string(b),
	}
}

// inboundFrame is the union of everything either channel pushes: ActionCable
// bookkeeping ("type"), status envelopes ("code"), and price data frames
// discriminated by the "c" tag. Pointer fields distinguish absent from zero.
type inboundFrame struct {
	Type    string `json:"type"`
	Code    *int   `json:"code"`
	Message string `json:"message"`

	Tag          string   `json:"c"`
	CoinID       string   `json:"i"`
	Network      string   `json:"n"`
	TokenAddress string   `json:"ta"`
	Price        *float64 `json:"p"`
	MarketCap    *float64 `json:"m"`
	Volume24h    *float64 `json:"v"`
	Change24hPct *float64 `json:"pp"`
	Timestamp    int64    `json:"t"`
}

func (f *inboundFrame) pricePoint() domain.PricePoint {
	p := domain.PricePoint{
		SourceTimestamp: f.Timestamp,
		ReceivedAt:      time.Now(),
	}
	if f.Price != nil {
		p.Price = *f.Price
	}
	if f.MarketCap != nil {
		p.MarketCap = *f.MarketCap
	}
	if f.Volume24h != nil {
		p.Volume24h = *f.Volume24h
	}
	if f.Change24hPct != nil {
		p.Change24hPct = *f.Change24hPct
	}
	return p
}
