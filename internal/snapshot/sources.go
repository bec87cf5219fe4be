package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource fetches USD prices for tokens.
type PriceSource interface {
	Prices(ctx context.Context, tokens []string) (map[string]decimal.Decimal, error)
}

// MemberSource fetches the full list of subscribed accounts.
type MemberSource interface {
	Members(ctx context.Context) ([]string, error)
}

// HTTPPrices reads a CoinGecko-style simple price endpoint:
//
//	GET <URL>?ids=a,b&vs_currencies=usd  ->  {"a":{"usd":1.23},"b":{"usd":4.5}}
type HTTPPrices struct {
	URL    string
	Client *http.Client
}

func (p HTTPPrices) Prices(ctx context.Context, tokens []string) (map[string]decimal.Decimal, error) {
	if len(tokens) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("price url: %w", err)
	}
	q := u.Query()
	q.Set("ids", strings.Join(tokens, ","))
	q.Set("vs_currencies", "usd")
	u.RawQuery = q.Encode()

	var body map[string]map[string]decimal.Decimal
	if err := getJSON(ctx, client(p.Client), u.String(), "", &body); err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(tokens))
	for _, tok := range tokens {
		quote, ok := body[tok]
		if !ok {
			return nil, fmt.Errorf("fetch prices: no quote for %s", tok)
		}
		usd, ok := quote["usd"]
		if !ok {
			return nil, fmt.Errorf("fetch prices: no usd quote for %s", tok)
		}
		out[tok] = usd
	}
	return out, nil
}

// HTTPMembers reads the subscriber list of a notify project:
//
//	GET <URL> (Authorization: Bearer <Token>)  ->  {"subscribers":["eip155:1:0x..", ...]}
type HTTPMembers struct {
	URL    string
	Token  string
	Client *http.Client
}

func (m HTTPMembers) Members(ctx context.Context) ([]string, error) {
	var body struct {
		Subscribers []string `json:"subscribers"`
	}
	if err := getJSON(ctx, client(m.Client), m.URL, m.Token, &body); err != nil {
		return nil, fmt.Errorf("fetch members: %w", err)
	}
	return body.Subscribers, nil
}

func client(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func getJSON(ctx context.Context, c *http.Client, rawURL, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
