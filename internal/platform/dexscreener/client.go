// Package dexscreener is the REST client for the broad fallback price source.
// It aggregates many low-quality pools, so callers filter its points by
// liquidity and volume before trusting the quoted price at size.
package dexscreener

import (
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

// Client talks to a DexScreener-style pair listing API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a fallback price source client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// apiPair is the wire shape of one listed pool.
type apiPair struct {
	DexID     string `json:"dexId"`
	PriceUsd  string `json:"priceUsd"`
	Liquidity struct {
		Usd float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PairCreatedAt int64 `json:"pairCreatedAt"`
}

type apiPairsResponse struct {
	Pairs []apiPair `json:"pairs"`
}

// TokenPairs returns one price point per listed pool for the given mint.
// Points below the liquidity/volume floors are dropped here rather than by
// the caller, because every consumer wants the same executability filter.
func (c *Client) TokenPairs(ctx context.Context, mint string, minLiquidityUsd, minVolume24hUsd float64) ([]domain.PricePoint, error) {
	path := "/latest/dex/tokens/" + url.PathEscape(mint)

	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("dexscreener: token pairs %s: %w", mint, err)
	}

	var res apiPairsResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("dexscreener: decode pairs: %w", err)
	}

	now := time.Now().UTC()
	points := make([]domain.PricePoint, 0, len(res.Pairs))
	for _, p := range res.Pairs {
		if p.Liquidity.Usd < minLiquidityUsd || p.Volume.H24 < minVolume24hUsd {
			continue
		}
		price, err := strconv.ParseFloat(p.PriceUsd, 64)
		if err != nil || price <= 0 {
			continue
		}
		points = append(points, domain.PricePoint{
			Venue:        normalizeVenue(p.DexID),
			Price:        price,
			ObservedAt:   now,
			LiquidityUsd: p.Liquidity.Usd,
			Volume24hUsd: p.Volume.H24,
		})
	}
	return points, nil
}

// normalizeVenue maps dexIds like "raydium" onto the venue names used by the
// quote-probe source so both sources key venues identically.
func normalizeVenue(dexID string) string {
	if dexID == "" {
		return dexID
	}
	return strings.ToUpper(dexID[:1]) + strings.ToLower(dexID[1:])
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, string(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
