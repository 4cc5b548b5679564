// Package otp reads stop names and stoptimes from an OpenTripPlanner index
// API. Every failure degrades to a fallback value; callers never see an
// upstream error.
package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/tramtram/internal/arrivals"
)

const (
	// DefaultBaseURL is the Muoversi a Torino OTP router index.
	DefaultBaseURL = "https://plan.muoversiatorino.it/otp/routers/mato/index"
	// DefaultNamespace is the GTT feed id prefixed to stop ids.
	DefaultNamespace = "gtt"

	nameTimeout  = 10 * time.Second
	timesTimeout = 15 * time.Second
)

// Client talks to one OTP instance.
type Client struct {
	http         *resty.Client
	namespace    string
	names        *cache.Cache
	nameTimeout  time.Duration
	timesTimeout time.Duration
	maxInFlight  int
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL   string // defaults to DefaultBaseURL
	Namespace string // defaults to DefaultNamespace
	// NameCacheTTL keeps fetched stop names for this long. Zero disables
	// the cache so every cycle re-reads names.
	NameCacheTTL time.Duration
	// MaxInFlight caps concurrent requests in FetchAll. Zero is unbounded.
	MaxInFlight int
	// For testing: override the per-request timeouts.
	NameTimeout  time.Duration
	TimesTimeout time.Duration
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("otp: invalid base url %q: %w", base, err)
	}
	ns := opts.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	c := &Client{
		http: resty.New().
			SetBaseURL(base).
			SetHeader("Accept", "application/json"),
		namespace:    ns,
		nameTimeout:  nameTimeout,
		timesTimeout: timesTimeout,
		maxInFlight:  opts.MaxInFlight,
	}
	if opts.NameTimeout > 0 {
		c.nameTimeout = opts.NameTimeout
	}
	if opts.TimesTimeout > 0 {
		c.timesTimeout = opts.TimesTimeout
	}
	if opts.NameCacheTTL > 0 {
		c.names = cache.New(opts.NameCacheTTL, 2*opts.NameCacheTTL)
	}
	return c, nil
}

type stopResponse struct {
	Name string `json:"name"`
}

// StopName returns the display name of stopID, or stopID itself when the
// provider cannot supply one.
func (c *Client) StopName(ctx context.Context, stopID string) string {
	if c.names != nil {
		if v, ok := c.names.Get(stopID); ok {
			return v.(string)
		}
	}

	var out stopResponse
	if err := c.getJSON(ctx, c.stopPath(stopID), c.nameTimeout, &out); err != nil {
		log.Warn().Err(err).Str("stop", stopID).Msg("otp: stop name")
		return stopID
	}
	if out.Name == "" {
		return stopID
	}
	if c.names != nil {
		c.names.Set(stopID, out.Name, cache.DefaultExpiration)
	}
	return out.Name
}

// StopTimes returns the arrival patterns at stopID, or an empty list when
// the provider cannot supply them.
func (c *Client) StopTimes(ctx context.Context, stopID string) []arrivals.Pattern {
	var out []arrivals.Pattern
	if err := c.getJSON(ctx, c.stopPath(stopID)+"/stoptimes", c.timesTimeout, &out); err != nil {
		log.Warn().Err(err).Str("stop", stopID).Msg("otp: stoptimes")
		return []arrivals.Pattern{}
	}
	if out == nil {
		out = []arrivals.Pattern{}
	}
	return out
}

func (c *Client) stopPath(stopID string) string {
	return "/stops/" + c.namespace + ":" + url.PathEscape(stopID)
}

func (c *Client) getJSON(ctx context.Context, path string, timeout time.Duration, v any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("get %s: status %d", path, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
