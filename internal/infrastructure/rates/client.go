package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client fetches spot FX rates from the pricing service. Responses are
// intentionally not cached here; wrap the client with CachedProvider for
// that.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("rate service url is required")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type rateResponse struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
	Rate  string `json:"rate"`
}

func (c *Client) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/rates?base=%s&quote=%s",
		c.baseURL, url.QueryEscape(base), url.QueryEscape(quote))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("fetch rate %s/%s: %w", base, quote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("rate service returned status %d", resp.StatusCode)
	}
	var payload rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode rate response: %w", err)
	}
	rate, err := decimal.NewFromString(payload.Rate)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse rate %q: %w", payload.Rate, err)
	}
	if !rate.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("rate service returned non-positive rate %s", rate)
	}
	return rate, nil
}

// Static always answers with a fixed rate, for development and tests.
type Static struct {
	rate decimal.Decimal
}

func NewStatic(rate decimal.Decimal) (*Static, error) {
	if !rate.IsPositive() {
		return nil, errors.New("static rate must be positive")
	}
	return &Static{rate: rate}, nil
}

func (s *Static) Rate(context.Context, string, string) (decimal.Decimal, error) {
	return s.rate, nil
}
