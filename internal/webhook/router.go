// Package webhook is the event ingress router: it resolves authenticated,
// rate-limited webhook calls to handlers that drive the orchestrator and the
// timing engine.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stusseligmini/FionaSparx-sub000/internal/metrics"
	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/internal/tracing"
	"github.com/stusseligmini/FionaSparx-sub000/pkg/clock"
)

// EventType classifies what an endpoint receives.
type EventType string

const (
	EventSocialMediaPost  EventType = "social_media_post"
	EventEngagementUpdate EventType = "engagement_update"
	EventRevenue          EventType = "revenue_event"
	EventSystemAlert      EventType = "system_alert"
	EventContentRequest   EventType = "content_request"
	EventScheduleTrigger  EventType = "schedule_trigger"
	EventManualTrigger    EventType = "manual_trigger"
)

// HandlerFunc processes an authenticated event. A returned error becomes a 500,
// or a 400 for validation errors.
type HandlerFunc func(ctx context.Context, event *Event) (map[string]interface{}, error)

// Endpoint maps a (method, path) pair to a handler.
type Endpoint struct {
	ID           string
	Path         string
	Method       string
	EventType    EventType
	Handler      HandlerFunc
	AuthRequired bool
	// RateLimit is the number of requests allowed per source IP per window.
	RateLimit int
	// Secret switches authentication from the shared bearer token to HMAC.
	Secret string

	segments []segment
	literal  bool
}

// Event is the snapshot handed to a handler. Each dispatch gets its own copy.
type Event struct {
	ID            string
	EndpointID    string
	EventType     EventType
	Timestamp     time.Time
	Headers       http.Header
	Body          map[string]interface{}
	RawBody       []byte
	Params        map[string]string
	SourceIP      string
	Authenticated bool
}

// Request is a transport-neutral ingress request.
type Request struct {
	Method   string
	Path     string
	Headers  http.Header
	Body     []byte
	SourceIP string
}

// Response is the outcome of Handle. Status is the HTTP status code.
type Response struct {
	Status     int                    `json:"status"`
	EventID    string                 `json:"event_id"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	RetryAfter time.Duration          `json:"-"`
}

// DefaultToken is the bearer token used when none is configured.
const DefaultToken = "default_token"

// Config holds router configuration.
type Config struct {
	// Token is the shared bearer token for endpoints without a secret.
	Token            string
	SignatureHeader  string
	DefaultRateLimit int
	RateWindow       time.Duration
	CleanupInterval  time.Duration
	// GrowthThreshold is the engagement growth rate above which analytics run.
	GrowthThreshold float64
	MaxBodyBytes    int64
	// NominalReach divides interaction counts into an engagement rate when an
	// update carries neither engagement_rate nor views/reach.
	NominalReach int
	// DefaultContentType is recorded for updates that name no content type.
	DefaultContentType models.ContentType
	// Secrets maps endpoint ids to HMAC secrets.
	Secrets map[string]string
}

// DefaultConfig returns the default router configuration.
func DefaultConfig() Config {
	return Config{
		Token:              DefaultToken,
		SignatureHeader:    DefaultSignatureHeader,
		DefaultRateLimit:   100,
		RateWindow:         time.Minute,
		CleanupInterval:    time.Minute,
		GrowthThreshold:    0.1,
		MaxBodyBytes:       1 << 20,
		NominalReach:       1000,
		DefaultContentType: models.ContentLifestyle,
	}
}

// Option configures a Router.
type Option func(*Router)

// WithClock sets the clock used for event timestamps and rate windows.
func WithClock(c clock.Clock) Option {
	return func(r *Router) {
		r.clock = c
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// Router resolves requests to endpoints and runs the ingress pipeline.
type Router struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
	byKey     map[string]*Endpoint

	limiter   *SlidingWindowLimiter
	bearer    Authenticator
	config    Config
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	startedAt time.Time
}

// NewRouter creates a router with no endpoints. Call Close to stop the limiter's cleanup.
func NewRouter(logger zerolog.Logger, cfg Config, opts ...Option) *Router {
	defaults := DefaultConfig()
	if cfg.Token == "" {
		cfg.Token = defaults.Token
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = defaults.SignatureHeader
	}
	if cfg.DefaultRateLimit <= 0 {
		cfg.DefaultRateLimit = defaults.DefaultRateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = defaults.RateWindow
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}
	if cfg.GrowthThreshold <= 0 {
		cfg.GrowthThreshold = defaults.GrowthThreshold
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if cfg.NominalReach <= 0 {
		cfg.NominalReach = defaults.NominalReach
	}
	if cfg.DefaultContentType == "" {
		cfg.DefaultContentType = defaults.DefaultContentType
	}

	r := &Router{
		byKey:  make(map[string]*Endpoint),
		bearer: &BearerAuth{Token: cfg.Token},
		config: cfg,
		clock:  clock.New(),
		logger: logger.With().Str("component", "webhook").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if cfg.Token == DefaultToken {
		r.logger.Warn().Msg("Webhook bearer token is the built-in default, set webhooks.token")
	}
	r.startedAt = r.clock.Now()
	r.limiter = NewSlidingWindowLimiter(cfg.RateWindow, r.clock)
	r.limiter.StartCleanup(cfg.CleanupInterval)
	return r
}

// Close stops background work.
func (r *Router) Close() {
	r.limiter.Stop()
}

func endpointKey(method, path string) string {
	return method + " " + "/" + strings.Join(splitPath(path), "/")
}

// Register adds an endpoint. Method defaults to POST, RateLimit to the configured
// default, and Secret to the configured secret for the endpoint id.
func (r *Router) Register(ep *Endpoint) error {
	if ep == nil || ep.ID == "" {
		return models.NewValidationError("id", "endpoint id is required", nil)
	}
	if ep.Handler == nil {
		return models.NewValidationError("handler", "endpoint "+ep.ID+" has no handler", nil)
	}
	if !strings.HasPrefix(ep.Path, "/") {
		return models.NewValidationError("path", "path must start with /", nil)
	}

	e := *ep
	e.Method = strings.ToUpper(e.Method)
	if e.Method == "" {
		e.Method = http.MethodPost
	}
	if e.RateLimit <= 0 {
		e.RateLimit = r.config.DefaultRateLimit
	}
	if e.Secret == "" {
		e.Secret = r.config.Secrets[e.ID]
	}
	segs, err := compilePattern(e.Path)
	if err != nil {
		return models.NewValidationError("path", err.Error(), nil)
	}
	e.segments = segs
	e.literal = isLiteral(segs)

	key := endpointKey(e.Method, e.Path)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[key]; exists {
		return fmt.Errorf("%w: %s", models.ErrEndpointExists, key)
	}
	r.byKey[key] = &e
	r.endpoints = append(r.endpoints, &e)

	r.logger.Info().
		Str("endpoint_id", e.ID).
		Str("method", e.Method).
		Str("path", e.Path).
		Bool("auth_required", e.AuthRequired).
		Bool("hmac", e.Secret != "").
		Msg("Registered webhook endpoint")
	return nil
}

// resolve finds the endpoint for a request. Literal paths win over patterns;
// patterns are tried in registration order.
func (r *Router) resolve(method, path string) (*Endpoint, map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	method = strings.ToUpper(method)
	if ep, ok := r.byKey[endpointKey(method, path)]; ok && ep.literal {
		return ep, map[string]string{}
	}
	for _, ep := range r.endpoints {
		if ep.Method != method || ep.literal {
			continue
		}
		if params, ok := matchSegments(ep.segments, path); ok {
			return ep, params
		}
	}
	return nil, nil
}

// Handle runs the ingress pipeline: resolve, rate limit, parse, authenticate, dispatch.
// Every response carries a fresh event id.
func (r *Router) Handle(ctx context.Context, req Request) Response {
	started := time.Now()
	eventID := "evt_" + uuid.New().String()

	ep, params := r.resolve(req.Method, req.Path)
	if ep == nil {
		r.logger.Debug().Str("method", req.Method).Str("path", req.Path).Msg("No webhook endpoint")
		r.metrics.RecordWebhook("unmatched", strconv.Itoa(http.StatusNotFound), time.Since(started).Seconds())
		return Response{Status: http.StatusNotFound, EventID: eventID, Error: "Endpoint not found"}
	}

	ctx, span := tracing.StartWebhookSpan(ctx, ep.ID, eventID)
	defer span.End()

	resp := r.process(ctx, ep, params, req, eventID)
	if resp.Status >= http.StatusInternalServerError {
		tracing.RecordError(span, errors.New(resp.Error))
	} else if resp.Status < http.StatusBadRequest {
		tracing.SetSpanOK(span)
	}
	r.metrics.RecordWebhook(ep.ID, strconv.Itoa(resp.Status), time.Since(started).Seconds())
	return resp
}

func (r *Router) process(ctx context.Context, ep *Endpoint, params map[string]string, req Request, eventID string) Response {
	log := r.logger.With().
		Str("endpoint_id", ep.ID).
		Str("event_id", eventID).
		Str("source_ip", req.SourceIP).
		Logger()

	if err := r.limiter.Allow(ep.ID+"|"+req.SourceIP, ep.RateLimit); err != nil {
		log.Warn().Err(err).Msg("Webhook rate limited")
		var rle *models.RateLimitError
		resp := Response{Status: http.StatusTooManyRequests, EventID: eventID, Error: "Rate limit exceeded"}
		if errors.As(err, &rle) {
			resp.RetryAfter = rle.RetryAfter
		}
		return resp
	}

	headers := req.Headers
	if headers == nil {
		headers = http.Header{}
	}
	event := &Event{
		ID:         eventID,
		EndpointID: ep.ID,
		EventType:  ep.EventType,
		Timestamp:  r.clock.Now(),
		Headers:    headers.Clone(),
		Body:       parseBody(req.Body),
		RawBody:    append([]byte(nil), req.Body...),
		Params:     params,
		SourceIP:   req.SourceIP,
	}

	if ep.AuthRequired {
		if err := r.authenticator(ep).Verify(headers, req.Body); err != nil {
			log.Warn().Err(err).Msg("Webhook authentication failed")
			return Response{Status: http.StatusUnauthorized, EventID: eventID, Error: "Authentication failed"}
		}
		event.Authenticated = true
	}

	result, err := dispatch(ctx, ep.Handler, event)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrValidation) {
			status = http.StatusBadRequest
		}
		log.Error().Err(err).Int("status", status).Msg("Webhook event failed")
		return Response{Status: status, EventID: eventID, Error: err.Error()}
	}

	log.Info().Msg("Webhook event processed")
	return Response{Status: http.StatusOK, EventID: eventID, Result: result}
}

// authenticator picks HMAC when the endpoint has a secret, the shared bearer token otherwise.
func (r *Router) authenticator(ep *Endpoint) Authenticator {
	if ep.Secret != "" {
		return &HMACAuth{Secret: []byte(ep.Secret), Header: r.config.SignatureHeader}
	}
	return r.bearer
}

// dispatch invokes the handler, turning panics into HandlerErrors.
func dispatch(ctx context.Context, h HandlerFunc, event *Event) (result map[string]interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result, err = nil, &models.HandlerError{Panic: rec}
		}
	}()
	result, err = h(ctx, event)
	if err != nil && !errors.Is(err, models.ErrValidation) && !errors.Is(err, models.ErrHandler) {
		err = &models.HandlerError{Cause: err}
	}
	return result, err
}

// parseBody never fails: objects decode to maps, other JSON values are wrapped
// under "data" and anything else is kept as text under "raw".
func parseBody(raw []byte) map[string]interface{} {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]interface{}{}
	}
	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return map[string]interface{}{"raw": string(raw)}
	}
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"data": v}
}

// EndpointInfo describes a registered endpoint.
type EndpointInfo struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Method       string    `json:"method"`
	EventType    EventType `json:"event_type"`
	AuthRequired bool      `json:"auth_required"`
	RateLimit    int       `json:"rate_limit"`
	HMAC         bool      `json:"hmac"`
}

// Stats summarizes registered endpoints and current window usage.
type Stats struct {
	TotalEndpoints  int            `json:"total_endpoints"`
	Endpoints       []EndpointInfo `json:"endpoints"`
	RateLimitStatus map[string]int `json:"rate_limit_status"`
	Uptime          string         `json:"uptime"`
}

// Stats returns the endpoint list and request counts per (endpoint, source) key.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	infos := make([]EndpointInfo, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		infos = append(infos, EndpointInfo{
			ID:           ep.ID,
			Path:         ep.Path,
			Method:       ep.Method,
			EventType:    ep.EventType,
			AuthRequired: ep.AuthRequired,
			RateLimit:    ep.RateLimit,
			HMAC:         ep.Secret != "",
		})
	}
	r.mu.RUnlock()

	sort.SliceStable(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return Stats{
		TotalEndpoints:  len(infos),
		Endpoints:       infos,
		RateLimitStatus: r.limiter.Counts(),
		Uptime:          r.clock.Since(r.startedAt).Round(time.Second).String(),
	}
}
