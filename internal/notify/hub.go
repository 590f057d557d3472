// Package notify delivers operator alerts to chat and webhook channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stusseligmini/FionaSparx-sub000/pkg/clock"
)

// Common errors.
var (
	ErrChannelNotFound = errors.New("notification channel not found")
	ErrChannelExists   = errors.New("notification channel already exists")
	ErrInvalidChannel  = errors.New("invalid channel configuration")
	ErrDeliveryFailed  = errors.New("notification delivery failed")
)

// ChannelType represents the type of notification channel.
type ChannelType string

const (
	ChannelSlack   ChannelType = "slack"
	ChannelTeams   ChannelType = "teams"
	ChannelDiscord ChannelType = "discord"
	ChannelWebhook ChannelType = "webhook"
)

// Severity represents notification severity, ordered low to high.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// ParseSeverity maps alert severities to a Severity. Unknown values are info.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityWarning:
		return Severity(s)
	case "medium":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// EventType represents what raised the notification.
type EventType string

const (
	EventSystemAlert        EventType = "system_alert"
	EventWorkflowFailed     EventType = "workflow_failed"
	EventOrchestratorHalted EventType = "orchestrator_halted"
)

// Channel is a delivery target.
type Channel struct {
	ID   string      `json:"id" yaml:"id"`
	Type ChannelType `json:"type" yaml:"type"`
	URL  string      `json:"url" yaml:"url"`
	// SlackChannel overrides the webhook's default channel.
	SlackChannel string            `json:"slack_channel,omitempty" yaml:"slack_channel,omitempty"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// MinSeverity filters out lower severities. Empty delivers everything.
	MinSeverity Severity `json:"min_severity,omitempty" yaml:"min_severity,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
}

func (c *Channel) validate() error {
	if c.ID == "" || c.URL == "" {
		return ErrInvalidChannel
	}
	switch c.Type {
	case ChannelSlack, ChannelTeams, ChannelDiscord, ChannelWebhook:
		return nil
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidChannel, c.Type)
	}
}

// Notification is one alert.
type Notification struct {
	ID          string                 `json:"id"`
	Event       EventType              `json:"event"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Severity    Severity               `json:"severity"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// DeliveryStatus records one delivery attempt.
type DeliveryStatus struct {
	NotificationID string    `json:"notification_id"`
	ChannelID      string    `json:"channel_id"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	DeliveredAt    time.Time `json:"delivered_at,omitempty"`
}

const historyLimit = 200

// Hub manages notification channels and delivery.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	history  []DeliveryStatus
	client   *http.Client
	clock    clock.Clock
	logger   zerolog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithHTTPClient replaces the delivery client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Hub) {
		h.client = c
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(h *Hub) {
		h.clock = c
	}
}

// NewHub creates a new notification hub.
func NewHub(logger zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		channels: make(map[string]*Channel),
		client:   &http.Client{Timeout: 10 * time.Second},
		clock:    clock.New(),
		logger:   logger.With().Str("component", "notify").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddChannel registers a channel.
func (h *Hub) AddChannel(c *Channel) error {
	if err := c.validate(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.channels[c.ID]; exists {
		return ErrChannelExists
	}
	cp := *c
	h.channels[c.ID] = &cp
	return nil
}

// RemoveChannel deletes a channel.
func (h *Hub) RemoveChannel(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.channels[id]; !ok {
		return ErrChannelNotFound
	}
	delete(h.channels, id)
	return nil
}

// Channels lists registered channels ordered by id.
func (h *Hub) Channels() []Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Channel, 0, len(h.channels))
	for _, c := range h.channels {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Notify delivers n to every enabled channel whose threshold it meets and returns
// the number of successful deliveries. Failures are joined into the error.
func (h *Hub) Notify(ctx context.Context, n *Notification) (int, error) {
	if n.ID == "" {
		n.ID = "ntf_" + uuid.New().String()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = h.clock.Now()
	}

	var errs []error
	delivered := 0
	for _, c := range h.Channels() {
		if !c.Enabled || n.Severity.rank() < c.MinSeverity.rank() {
			continue
		}
		status := h.send(ctx, &c, n)
		if status.Status == "delivered" {
			delivered++
			continue
		}
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrDeliveryFailed, c.ID, status.Error))
	}
	return delivered, errors.Join(errs...)
}

func (h *Hub) send(ctx context.Context, c *Channel, n *Notification) DeliveryStatus {
	status := DeliveryStatus{NotificationID: n.ID, ChannelID: c.ID}

	var payload interface{}
	switch c.Type {
	case ChannelSlack:
		payload = slackPayload(c, n)
	case ChannelTeams:
		payload = teamsPayload(n)
	case ChannelDiscord:
		payload = discordPayload(n)
	default:
		payload = n
	}

	if err := h.postJSON(ctx, c, payload); err != nil {
		status.Status = "failed"
		status.Error = err.Error()
		h.logger.Warn().Err(err).Str("channel_id", c.ID).Str("notification_id", n.ID).Msg("Notification delivery failed")
	} else {
		status.Status = "delivered"
		status.DeliveredAt = h.clock.Now()
		h.logger.Debug().Str("channel_id", c.ID).Str("notification_id", n.ID).Msg("Notification delivered")
	}

	h.mu.Lock()
	h.history = append(h.history, status)
	if len(h.history) > historyLimit {
		h.history = append([]DeliveryStatus(nil), h.history[len(h.history)-historyLimit:]...)
	}
	h.mu.Unlock()
	return status
}

func slackPayload(c *Channel, n *Notification) map[string]interface{} {
	payload := map[string]interface{}{
		"text": n.Title,
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]string{"type": "plain_text", "text": n.Title},
			},
			{
				"type": "section",
				"text": map[string]string{"type": "mrkdwn", "text": n.Message},
			},
			{
				"type": "context",
				"elements": []map[string]string{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Event:* %s | *Severity:* %s", n.Event, n.Severity)},
				},
			},
		},
	}
	if c.SlackChannel != "" {
		payload["channel"] = c.SlackChannel
	}
	return payload
}

func teamsPayload(n *Notification) map[string]interface{} {
	return map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": fmt.Sprintf("%06X", severityColor(n.Severity)),
		"summary":    n.Title,
		"sections": []map[string]interface{}{
			{
				"activityTitle": n.Title,
				"facts": []map[string]string{
					{"name": "Workflow", "value": n.WorkflowID},
					{"name": "Severity", "value": string(n.Severity)},
					{"name": "Event", "value": string(n.Event)},
				},
				"text": n.Message,
			},
		},
	}
}

func discordPayload(n *Notification) map[string]interface{} {
	return map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       n.Title,
				"description": n.Message,
				"color":       severityColor(n.Severity),
				"fields": []map[string]interface{}{
					{"name": "Workflow", "value": n.WorkflowID, "inline": true},
					{"name": "Severity", "value": string(n.Severity), "inline": true},
				},
				"timestamp": n.Timestamp.Format(time.RFC3339),
			},
		},
	}
}

func severityColor(s Severity) int {
	switch s {
	case SeverityWarning:
		return 0xFFA500
	case SeverityHigh, SeverityCritical:
		return 0xFF0000
	default:
		return 0x0076D7
	}
}

// postJSON posts JSON to the channel URL.
func (h *Hub) postJSON(ctx context.Context, c *Channel, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP error: status %d", resp.StatusCode)
	}
	return nil
}

// History returns up to limit delivery records, most recent last.
func (h *Hub) History(limit int) []DeliveryStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.history) {
		limit = len(h.history)
	}
	result := make([]DeliveryStatus, limit)
	copy(result, h.history[len(h.history)-limit:])
	return result
}
