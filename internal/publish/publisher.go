// Package publish delivers generated content to platform publishing endpoints over HTTP.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stusseligmini/FionaSparx-sub000/internal/automation"
	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/pkg/clock"
)

// Common errors.
var (
	ErrNoEndpoint     = errors.New("no publishing endpoint configured")
	ErrDeliveryFailed = errors.New("content delivery failed")
)

const maxResponseSize = 64 * 1024

// Endpoint is where one platform's content is posted.
type Endpoint struct {
	URL     string            `yaml:"url"`
	Token   string            `yaml:"token"`
	Headers map[string]string `yaml:"headers"`
}

// Config holds publisher configuration.
type Config struct {
	Endpoints map[models.Platform]Endpoint
	Timeout   time.Duration
	Breaker   BreakerConfig
}

// HTTPPublisher posts content items as JSON, one circuit breaker per platform.
type HTTPPublisher struct {
	endpoints map[models.Platform]Endpoint
	client    *http.Client
	breakers  *breakerSet
	clock     clock.Clock
	logger    zerolog.Logger
}

// Option configures an HTTPPublisher.
type Option func(*HTTPPublisher)

// WithHTTPClient replaces the delivery client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPPublisher) {
		p.client = c
	}
}

// WithClock sets the clock used by the breakers.
func WithClock(c clock.Clock) Option {
	return func(p *HTTPPublisher) {
		p.clock = c
	}
}

// New creates an HTTPPublisher.
func New(cfg Config, logger zerolog.Logger, opts ...Option) *HTTPPublisher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	p := &HTTPPublisher{
		endpoints: make(map[models.Platform]Endpoint, len(cfg.Endpoints)),
		client:    &http.Client{Timeout: timeout},
		clock:     clock.New(),
		logger:    logger.With().Str("component", "publisher").Logger(),
	}
	for platform, ep := range cfg.Endpoints {
		p.endpoints[platform] = ep
	}
	for _, opt := range opts {
		opt(p)
	}

	breaker := cfg.Breaker
	onChange := breaker.OnStateChange
	breaker.OnStateChange = func(name string, from, to CircuitState) {
		p.logger.Warn().
			Str("platform", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Publisher circuit changed state")
		if onChange != nil {
			onChange(name, from, to)
		}
	}
	p.breakers = newBreakerSet(breaker, p.clock)
	return p
}

// Publish posts item to the platform's endpoint. A 4xx answer other than 429
// means the platform declined the item and is reported as false without error.
func (p *HTTPPublisher) Publish(ctx context.Context, platform models.Platform, item automation.ContentItem) (bool, error) {
	ep, ok := p.endpoints[platform]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNoEndpoint, platform)
	}

	cb := p.breakers.get(string(platform))
	if !cb.Allow() {
		return false, fmt.Errorf("%w: %s", ErrCircuitOpen, platform)
	}

	body, err := json.Marshal(item)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		cb.RecordFailure()
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	if ep.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ep.Token)
	}
	req.Header.Set("X-Sparx-Item-ID", item.ID)
	req.Header.Set("X-Sparx-Content-Type", string(item.ContentType))

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			cb.RecordFailure()
		}
		return false, fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, platform, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		cb.RecordSuccess()
		p.logger.Debug().
			Str("platform", string(platform)).
			Str("item_id", item.ID).
			Int("status", resp.StatusCode).
			Msg("Published content")
		return true, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		cb.RecordFailure()
		return false, fmt.Errorf("%w: %s: HTTP %d: %s", ErrDeliveryFailed, platform, resp.StatusCode,
			strings.TrimSpace(string(respBody)))
	default:
		// Remaining 4xx answers reject the item.
		cb.RecordSuccess()
		p.logger.Info().
			Str("platform", string(platform)).
			Str("item_id", item.ID).
			Int("status", resp.StatusCode).
			Msg("Platform declined content")
		return false, nil
	}
}

// Check fails while any platform circuit is open.
func (p *HTTPPublisher) Check(ctx context.Context) error {
	if open := p.breakers.open(); len(open) > 0 {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, strings.Join(open, ", "))
	}
	return nil
}

// Stats returns breaker snapshots keyed by platform.
func (p *HTTPPublisher) Stats() map[string]BreakerStats {
	return p.breakers.stats()
}
