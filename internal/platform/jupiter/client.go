// Package jupiter is the REST client for the swap-routing service: price
// quotes, route simulation, transaction build-and-submit, and confirmation
// polling. The routing protocol itself is a black box; the client only
// interprets amount fields and pass/fail outcomes.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kmelnick/dexarb/internal/domain"
)

// Client talks to a Jupiter-style swap-router API.
type Client struct {
	quoteHost   string
	swapHost    string
	publicKey   string
	slippageBps int
	httpClient  *http.Client
}

// ClientConfig configures the swap-router client.
type ClientConfig struct {
	QuoteHost   string
	SwapHost    string
	PublicKey   string
	SlippageBps int
}

// NewClient creates a swap-router client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		quoteHost:   strings.TrimRight(cfg.QuoteHost, "/"),
		swapHost:    strings.TrimRight(cfg.SwapHost, "/"),
		publicKey:   cfg.PublicKey,
		slippageBps: cfg.SlippageBps,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Quote fetches a live, bindable quote for swapping amount atomic units of
// inputMint into outputMint. When venue is non-empty the route is restricted
// to direct pools on that venue, which is how per-venue price probes work.
// A missing route is reported as domain.ErrNoRoute, not a generic error.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, venue string) (domain.SwapQuote, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.Itoa(c.slippageBps))
	if venue != "" {
		params.Set("onlyDirectRoutes", "true")
		params.Set("dexes", venue)
	}

	body, err := c.doGet(ctx, c.quoteHost+"/quote?"+params.Encode())
	if err != nil {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: quote %s->%s: %w", inputMint, outputMint, err)
	}

	var q apiQuote
	if err := json.Unmarshal(body, &q); err != nil {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: decode quote: %w", err)
	}
	if q.OutAmount == "" || q.OutAmount == "0" {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: %w: %s->%s on %q", domain.ErrNoRoute, inputMint, outputMint, venue)
	}

	quote, err := q.toDomain(body)
	if err != nil {
		return domain.SwapQuote{}, fmt.Errorf("jupiter: parse quote amounts: %w", err)
	}
	return quote, nil
}

// Simulate dry-runs the quoted route against the network without committing.
// A failed simulation returns a nil error with ok=false; errors are reserved
// for transport problems.
func (c *Client) Simulate(ctx context.Context, quote domain.SwapQuote) (bool, error) {
	reqBody := swapRequest{
		QuoteResponse: quote.Route,
		UserPublicKey: c.publicKey,
		WrapUnwrapSOL: true,
	}
	body, err := c.doPost(ctx, c.swapHost+"/swap/simulate", reqBody)
	if err != nil {
		return false, fmt.Errorf("jupiter: simulate: %w", err)
	}

	var res simulateResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return false, fmt.Errorf("jupiter: decode simulation: %w", err)
	}
	return res.Success, nil
}

// Swap builds, signs, and submits the quoted route, returning an opaque
// transaction reference.
func (c *Client) Swap(ctx context.Context, quote domain.SwapQuote) (string, error) {
	reqBody := swapRequest{
		QuoteResponse: quote.Route,
		UserPublicKey: c.publicKey,
		WrapUnwrapSOL: true,
	}
	body, err := c.doPost(ctx, c.swapHost+"/swap", reqBody)
	if err != nil {
		return "", fmt.Errorf("jupiter: swap: %w", err)
	}

	var res swapResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("jupiter: decode swap response: %w", err)
	}
	if res.Error != "" {
		return "", fmt.Errorf("jupiter: swap rejected: %s", res.Error)
	}
	ref := res.Signature
	if ref == "" {
		ref = res.TxID
	}
	if ref == "" {
		return "", fmt.Errorf("jupiter: swap response missing transaction reference")
	}
	return ref, nil
}

// Status returns the confirmation state of a submitted transaction.
func (c *Client) Status(ctx context.Context, ref string) (domain.SwapStatus, error) {
	body, err := c.doGet(ctx, c.swapHost+"/swap/status/"+url.PathEscape(ref))
	if err != nil {
		return "", fmt.Errorf("jupiter: status %s: %w", ref, err)
	}

	var res statusResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("jupiter: decode status: %w", err)
	}
	switch res.Status {
	case "confirmed", "finalized":
		return domain.SwapConfirmed, nil
	case "failed":
		return domain.SwapFailed, nil
	default:
		return domain.SwapPending, nil
	}
}

// WaitConfirmed polls Status until the transaction confirms, fails, or the
// timeout elapses. A timeout is reported as domain.ErrConfirmTimeout.
func (c *Client) WaitConfirmed(ctx context.Context, ref string, poll, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		status, err := c.Status(ctx, ref)
		if err == nil {
			switch status {
			case domain.SwapConfirmed:
				return nil
			case domain.SwapFailed:
				return fmt.Errorf("jupiter: transaction %s failed on chain", ref)
			}
		}
		// Transport errors during polling are retried until the deadline.

		if time.Now().After(deadline) {
			return fmt.Errorf("jupiter: %w: %s after %s", domain.ErrConfirmTimeout, ref, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) doGet(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) doPost(ctx context.Context, rawURL string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps HTTP error responses onto domain sentinel errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNoRoute, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
