// Package rates fetches exchange-rate tables from a public rate API.
package rates

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"invoicehub/internal/core"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// HTTPSource GETs a JSON document of the form {"rates": {"USD": 1, "INR": 83.1, ...}}.
// An optional "result" field other than "success" is treated as an error.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource returns a source for url. The caller bounds each fetch with its context.
func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{url: url, client: client}
}

func (s *HTTPSource) FetchRates(ctx context.Context) (core.RateTable, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rates: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read rates: %w", err)
	}
	return Parse(body)
}

// Parse extracts the rate table from a rate API response body.
func Parse(body []byte) (core.RateTable, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("rates response is not valid JSON")
	}
	if result := gjson.GetBytes(body, "result"); result.Exists() && result.String() != "success" {
		return nil, fmt.Errorf("rates API returned %q: %s", result.String(), gjson.GetBytes(body, "error-type").String())
	}
	node := gjson.GetBytes(body, "rates")
	if !node.IsObject() {
		return nil, fmt.Errorf("rates response has no rates object")
	}

	table := core.RateTable{}
	var parseErr error
	node.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.Number {
			return true
		}
		d, err := decimal.NewFromString(value.Raw)
		if err != nil {
			parseErr = fmt.Errorf("rate %s: %w", key.String(), err)
			return false
		}
		table[strings.ToUpper(key.String())] = d
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("rates response contained no rates")
	}
	if base := gjson.GetBytes(body, "base_code").String(); base != "" {
		if _, ok := table[base]; !ok {
			table[strings.ToUpper(base)] = decimal.NewFromInt(1)
		}
	}
	return table, nil
}
