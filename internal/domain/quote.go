package domain

// SwapMode selects which leg of a swap is fixed.
type SwapMode string

const (
	SwapModeExactIn  SwapMode = "ExactIn"
	SwapModeExactOut SwapMode = "ExactOut"
)

// SwapQuoteRequest identifies one logical quote stream. It is immutable once
// sent; re-issuing different parameters means opening a new stream.
type SwapQuoteRequest struct {
	InputMint   string // base58 mint address
	OutputMint  string // base58 mint address
	Amount      uint64 // smallest units
	SwapMode    SwapMode
	UserPubkey  string // base58 wallet address
	SlippageBps uint16
	IntervalMs  uint32 // server update interval
	NumQuotes   uint32 // max quotes per update
}

// RouteStep is one hop of a provider's route.
type RouteStep struct {
	Label      string
	InputMint  []byte
	OutputMint []byte
	InAmount   uint64
	OutAmount  uint64
}

// RawInstruction is an unsigned on-chain instruction as delivered by a
// provider. It is opaque to this package; the transaction builder consumes it.
type RawInstruction struct {
	ProgramID []byte
	Accounts  []InstructionAccount
	Data      []byte
}

// InstructionAccount is one account meta of a RawInstruction.
type InstructionAccount struct {
	Pubkey     []byte
	IsSigner   bool
	IsWritable bool
}

// SwapQuote is one provider's quote. A quote carries exactly one of a
// pre-built Transaction or raw Instructions; a quote with neither cannot be
// executed and must never be selected.
type SwapQuote struct {
	Provider            string
	InAmount            uint64
	OutAmount           uint64
	SlippageBps         uint16
	RouteSteps          []RouteStep
	Instructions        []RawInstruction
	AddressLookupTables [][]byte
	Transaction         []byte
	ComputeUnits        uint32
	ReferenceID         string
}

// Executable reports whether the quote can later be turned into a
// transaction.
func (q SwapQuote) Executable() bool {
	return len(q.Transaction) > 0 || len(q.Instructions) > 0
}

// Better reports whether q beats other under the given mode: greatest
// OutAmount for ExactIn, smallest InAmount for ExactOut. Equal amounts break
// the tie to the lexicographically lowest provider id so selection is
// deterministic regardless of map iteration order.
func (q SwapQuote) Better(other SwapQuote, mode SwapMode) bool {
	switch mode {
	case SwapModeExactOut:
		if q.InAmount != other.InAmount {
			return q.InAmount < other.InAmount
		}
	default:
		if q.OutAmount != other.OutAmount {
			return q.OutAmount > other.OutAmount
		}
	}
	return q.Provider < other.Provider
}

// SwapQuotes is one stream snapshot: a complete, replace-in-full view of all
// providers' current quotes. A provider absent from a later snapshot no
// longer has a live quote.
type SwapQuotes struct {
	StreamID string
	Request  SwapQuoteRequest
	Quotes   map[string]SwapQuote
}

// Best returns the winning executable quote of this snapshot, or false when
// no quote in the snapshot is executable.
func (s SwapQuotes) Best(mode SwapMode) (SwapQuote, bool) {
	var best SwapQuote
	found := false
	for _, q := range s.Quotes {
		if !q.Executable() {
			continue
		}
		if !found || q.Better(best, mode) {
			best = q
			found = true
		}
	}
	return best, found
}
