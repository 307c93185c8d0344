// Package location implements ports.LocationProvider over an HTTP reference
// service. Rate lookups degrade to an unconfirmed default rather than fail;
// bound lookups only validate the state, the legal bounds being nationwide.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tributolabs/tributo/internal/ports"
	"github.com/tributolabs/tributo/pkg/logger"
	"github.com/tributolabs/tributo/pkg/metrics"
)

// Nationwide legal bounds of the municipal service-tax rate.
const (
	rateFloor   = 0.02
	rateCeiling = 0.05
)

const (
	defaultTimeout = 1500 * time.Millisecond
	defaultRate    = 0.05
)

// states are the 27 federation units.
var states = map[string]bool{
	"AC": true, "AL": true, "AP": true, "AM": true, "BA": true, "CE": true,
	"DF": true, "ES": true, "GO": true, "MA": true, "MT": true, "MS": true,
	"MG": true, "PA": true, "PB": true, "PR": true, "PE": true, "PI": true,
	"RJ": true, "RN": true, "RS": true, "RO": true, "RR": true, "SC": true,
	"SP": true, "SE": true, "TO": true,
}

// Client looks up locality rates over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	log     logger.Logger

	fallbackRate float64
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithBaseURL points the client at a reference service. An empty base URL
// makes every rate lookup fall back.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout bounds each HTTP lookup.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithFallbackRate overrides the rate reported when a lookup fails.
func WithFallbackRate(r float64) Option {
	return func(c *Client) {
		if r > 0 {
			c.fallbackRate = r
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Intended for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient creates a location client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:         &http.Client{Timeout: defaultTimeout},
		log:          logger.Nop(),
		fallbackRate: defaultRate,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LocalRateBounds returns the legal floor and ceiling for a state.
func (c *Client) LocalRateBounds(_ context.Context, state string) (ports.RateBounds, error) {
	if !states[strings.ToUpper(state)] {
		return ports.RateBounds{}, fmt.Errorf("%w: %q", ErrUnknownState, state)
	}
	return ports.RateBounds{Floor: rateFloor, Ceiling: rateCeiling}, nil
}

// LocalRate returns the locality's service-tax rate. Any failure, including
// an unconfigured base URL, yields the unconfirmed fallback rate.
func (c *Client) LocalRate(ctx context.Context, state, cityCode string) ports.LocalRate {
	rate, err := c.fetchRate(ctx, state, cityCode)
	if err != nil {
		metrics.RecordLocationLookup("fallback")
		metrics.RecordLocationFallback()
		c.log.Warn(ctx, "local rate lookup failed, using fallback",
			logger.String("state", state),
			logger.String("city_code", cityCode),
			logger.Error(err))
		return ports.LocalRate{Rate: c.fallbackRate, Confirmed: false}
	}
	metrics.RecordLocationLookup("ok")
	return ports.LocalRate{Rate: rate, Confirmed: true}
}

func (c *Client) fetchRate(ctx context.Context, state, cityCode string) (float64, error) {
	if c.baseURL == "" {
		return 0, fmt.Errorf("no reference service configured")
	}
	url := fmt.Sprintf("%s/v1/rates/%s/%s", c.baseURL, strings.ToUpper(state), cityCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("reference service returned %d", resp.StatusCode)
	}

	var body struct {
		Rate float64 `json:"rate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	if body.Rate < rateFloor || body.Rate > rateCeiling {
		return 0, fmt.Errorf("rate %.4f outside the legal bounds", body.Rate)
	}
	return body.Rate, nil
}
