package titan

import (
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/stevesarmiento/maximus/internal/domain"
)

// Subprotocol is the fixed WebSocket subprotocol the server negotiates.
const Subprotocol = "v1.api.titan.ag"

// Every message on the wire is a MessagePack map {id, data} where data is a
// single-key tagged union. Request tags: NewSwapQuoteStream, StopStream,
// GetInfo. Reply tags: Response, Error, StreamData, StreamEnd. Decode sites
// match exhaustively on the reply tags.

type requestEnvelope struct {
	ID   uint64      `msgpack:"id"`
	Data requestData `msgpack:"data"`
}

type requestData struct {
	NewSwapQuoteStream *newSwapQuoteStream `msgpack:"NewSwapQuoteStream,omitempty"`
	StopStream         *stopStream         `msgpack:"StopStream,omitempty"`
	GetInfo            *getInfo            `msgpack:"GetInfo,omitempty"`
}

type newSwapQuoteStream struct {
	Swap        swapParams        `msgpack:"swap"`
	Transaction transactionParams `msgpack:"transaction"`
	Update      updateParams      `msgpack:"update"`
}

type swapParams struct {
	InputMint   []byte `msgpack:"inputMint"`
	OutputMint  []byte `msgpack:"outputMint"`
	Amount      uint64 `msgpack:"amount"`
	SwapMode    string `msgpack:"swapMode"`
	SlippageBps uint16 `msgpack:"slippageBps"`
}

type transactionParams struct {
	UserPublicKey []byte `msgpack:"userPublicKey"`
}

type updateParams struct {
	IntervalMs uint32 `msgpack:"intervalMs"`
	NumQuotes  uint32 `msgpack:"numQuotes"`
}

// stopStream echoes the server-assigned id verbatim; the id is opaque and
// kept in its decoded wire form.
type stopStream struct {
	ID any `msgpack:"id"`
}

type getInfo struct{}

type serverEnvelope struct {
	ID   uint64     `msgpack:"id"`
	Data serverData `msgpack:"data"`
}

type serverData struct {
	Response   *responsePayload   `msgpack:"Response"`
	Error      *errorPayload      `msgpack:"Error"`
	StreamData *streamDataPayload `msgpack:"StreamData"`
	StreamEnd  *streamEndPayload  `msgpack:"StreamEnd"`
}

type responsePayload struct {
	Stream *streamInfo   `msgpack:"stream"`
	Data   *responseData `msgpack:"data"`
}

type streamInfo struct {
	ID any `msgpack:"id"`
}

type responseData struct {
	GetInfo map[string]any `msgpack:"GetInfo"`
}

type errorPayload struct {
	Code    int    `msgpack:"code"`
	Message string `msgpack:"message"`
}

type streamDataPayload struct {
	ID      any           `msgpack:"id"`
	Payload streamPayload `msgpack:"payload"`
}

type streamPayload struct {
	SwapQuotes *wireSwapQuotes `msgpack:"SwapQuotes"`
}

type streamEndPayload struct {
	ID           any    `msgpack:"id"`
	ErrorCode    *int   `msgpack:"errorCode"`
	ErrorMessage string `msgpack:"errorMessage"`
}

type wireSwapQuotes struct {
	ID          any                  `msgpack:"id"`
	InputMint   []byte               `msgpack:"inputMint"`
	OutputMint  []byte               `msgpack:"outputMint"`
	Amount      uint64               `msgpack:"amount"`
	SwapMode    string               `msgpack:"swapMode"`
	SlippageBps uint16               `msgpack:"slippageBps"`
	Quotes      map[string]wireQuote `msgpack:"quotes"`
}

type wireQuote struct {
	InAmount            uint64            `msgpack:"inAmount"`
	OutAmount           uint64            `msgpack:"outAmount"`
	SlippageBps         uint16            `msgpack:"slippageBps"`
	Steps               []wireRouteStep   `msgpack:"steps"`
	Instructions        []wireInstruction `msgpack:"instructions"`
	AddressLookupTables [][]byte          `msgpack:"addressLookupTables"`
	ComputeUnits        uint32            `msgpack:"computeUnits"`
	Transaction         []byte            `msgpack:"transaction"`
	ReferenceID         string            `msgpack:"referenceId"`
}

type wireRouteStep struct {
	Label      string `msgpack:"label"`
	InputMint  []byte `msgpack:"inputMint"`
	OutputMint []byte `msgpack:"outputMint"`
	InAmount   uint64 `msgpack:"inAmount"`
	OutAmount  uint64 `msgpack:"outAmount"`
}

type wireInstruction struct {
	ProgramID []byte        `msgpack:"programId"`
	Accounts  []wireAccount `msgpack:"accounts"`
	Data      []byte        `msgpack:"data"`
}

type wireAccount struct {
	Pubkey     []byte `msgpack:"pubkey"`
	IsSigner   bool   `msgpack:"isSigner"`
	IsWritable bool   `msgpack:"isWritable"`
}

func encodeEnvelope(id uint64, data requestData) ([]byte, error) {
	return msgpack.Marshal(requestEnvelope{ID: id, Data: data})
}

func decodeEnvelope(b []byte) (*serverEnvelope, error) {
	var env serverEnvelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

// decodePubkey turns a base58 address into the raw 32 bytes the protocol
// carries.
func decodePubkey(address string) ([]byte, error) {
	b, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decode pubkey %q: %w", address, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("decode pubkey %q: got %d bytes, want 32", address, len(b))
	}
	return b, nil
}

func newStreamRequest(req domain.SwapQuoteRequest) (*newSwapQuoteStream, error) {
	in, err := decodePubkey(req.InputMint)
	if err != nil {
		return nil, err
	}
	out, err := decodePubkey(req.OutputMint)
	if err != nil {
		return nil, err
	}
	user, err := decodePubkey(req.UserPubkey)
	if err != nil {
		return nil, err
	}
	return &newSwapQuoteStream{
		Swap: swapParams{
			InputMint:   in,
			OutputMint:  out,
			Amount:      req.Amount,
			SwapMode:    string(req.SwapMode),
			SlippageBps: req.SlippageBps,
		},
		Transaction: transactionParams{UserPublicKey: user},
		Update:      updateParams{IntervalMs: req.IntervalMs, NumQuotes: req.NumQuotes},
	}, nil
}

// streamIDString renders an opaque wire id for logging and domain snapshots.
func streamIDString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// toDomainQuotes converts one wire snapshot, echoing the originating request
// with the wire's own view of mints, amount, and mode.
func toDomainQuotes(w *wireSwapQuotes, req domain.SwapQuoteRequest) domain.SwapQuotes {
	echo := req
	if len(w.InputMint) > 0 {
		echo.InputMint = base58.Encode(w.InputMint)
	}
	if len(w.OutputMint) > 0 {
		echo.OutputMint = base58.Encode(w.OutputMint)
	}
	if w.Amount > 0 {
		echo.Amount = w.Amount
	}
	if w.SwapMode != "" {
		echo.SwapMode = domain.SwapMode(w.SwapMode)
	}

	quotes := make(map[string]domain.SwapQuote, len(w.Quotes))
	for provider, q := range w.Quotes {
		steps := make([]domain.RouteStep, 0, len(q.Steps))
		for _, s := range q.Steps {
			steps = append(steps, domain.RouteStep{
				Label:      s.Label,
				InputMint:  s.InputMint,
				OutputMint: s.OutputMint,
				InAmount:   s.InAmount,
				OutAmount:  s.OutAmount,
			})
		}
		instrs := make([]domain.RawInstruction, 0, len(q.Instructions))
		for _, ins := range q.Instructions {
			accounts := make([]domain.InstructionAccount, 0, len(ins.Accounts))
			for _, a := range ins.Accounts {
				accounts = append(accounts, domain.InstructionAccount{
					Pubkey:     a.Pubkey,
					IsSigner:   a.IsSigner,
					IsWritable: a.IsWritable,
				})
			}
			instrs = append(instrs, domain.RawInstruction{
				ProgramID: ins.ProgramID,
				Accounts:  accounts,
				Data:      ins.Data,
			})
		}
		quotes[provider] = domain.SwapQuote{
			Provider:            provider,
			InAmount:            q.InAmount,
			OutAmount:           q.OutAmount,
			SlippageBps:         q.SlippageBps,
			RouteSteps:          steps,
			Instructions:        instrs,
			AddressLookupTables: q.AddressLookupTables,
			Transaction:         q.Transaction,
			ComputeUnits:        q.ComputeUnits,
			ReferenceID:         q.ReferenceID,
		}
	}

	return domain.SwapQuotes{
		StreamID: streamIDString(w.ID),
		Request:  echo,
		Quotes:   quotes,
	}
}
