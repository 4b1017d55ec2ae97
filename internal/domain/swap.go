package domain

import "encoding/json"

// SwapQuote is a live, bindable quote from the swap-routing service. Route is
// the opaque routing blob passed back verbatim on simulate/submit; the engine
// only reads the amount fields.
type SwapQuote struct {
	InputMint  string
	OutputMint string
	// InAmount and OutAmount are atomic units of the respective mints.
	InAmount       uint64
	OutAmount      uint64
	PriceImpactPct float64
	Route          json.RawMessage
}

// SwapStatus is the confirmation state of a submitted swap transaction.
type SwapStatus string

const (
	SwapPending   SwapStatus = "pending"
	SwapConfirmed SwapStatus = "confirmed"
	SwapFailed    SwapStatus = "failed"
)
