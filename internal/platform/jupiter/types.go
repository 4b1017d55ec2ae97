package jupiter

import (
	"encoding/json"
	"strconv"

	"github.com/kmelnick/dexarb/internal/domain"
)

// apiQuote is the wire shape of a /quote response. Amount fields arrive as
// decimal strings.
type apiQuote struct {
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       string          `json:"inAmount"`
	OutAmount      string          `json:"outAmount"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      json.RawMessage `json:"routePlan"`
}

// toDomain converts the wire quote to the domain representation, carrying the
// full response as the opaque route blob so it can be replayed on swap.
func (q *apiQuote) toDomain(raw []byte) (domain.SwapQuote, error) {
	in, err := strconv.ParseUint(q.InAmount, 10, 64)
	if err != nil {
		return domain.SwapQuote{}, err
	}
	out, err := strconv.ParseUint(q.OutAmount, 10, 64)
	if err != nil {
		return domain.SwapQuote{}, err
	}
	impact, _ := strconv.ParseFloat(q.PriceImpactPct, 64)
	return domain.SwapQuote{
		InputMint:      q.InputMint,
		OutputMint:     q.OutputMint,
		InAmount:       in,
		OutAmount:      out,
		PriceImpactPct: impact,
		Route:          json.RawMessage(raw),
	}, nil
}

// swapRequest is the wire shape of a /swap request.
type swapRequest struct {
	QuoteResponse json.RawMessage `json:"quoteResponse"`
	UserPublicKey string          `json:"userPublicKey"`
	WrapUnwrapSOL bool            `json:"wrapAndUnwrapSol"`
}

// swapResponse is the wire shape of a /swap response.
type swapResponse struct {
	Signature string `json:"signature"`
	TxID      string `json:"txid"`
	Error     string `json:"error"`
}

// simulateResponse is the wire shape of a simulation result.
type simulateResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// statusResponse is the wire shape of a transaction status poll.
type statusResponse struct {
	Status string `json:"status"` // "pending" | "confirmed" | "failed"
	Error  string `json:"error"`
}
