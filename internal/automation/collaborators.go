package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/internal/notify"
	"github.com/stusseligmini/FionaSparx-sub000/pkg/clock"
)

// ContentItem is one generated piece of content awaiting publication.
type ContentItem struct {
	ID          string             `json:"id"`
	Platform    models.Platform    `json:"platform"`
	ContentType models.ContentType `json:"content_type"`
	Caption     string             `json:"caption"`
	MediaPath   string             `json:"media_path,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Generator produces content for a platform.
type Generator interface {
	Generate(ctx context.Context, platform models.Platform, contentType models.ContentType) ([]ContentItem, error)
}

// Publisher delivers a content item. It reports false when the platform declined the item.
type Publisher interface {
	Publish(ctx context.Context, platform models.Platform, item ContentItem) (bool, error)
}

// Notifier forwards alerts to operators and reports how many channels accepted them.
type Notifier interface {
	Notify(ctx context.Context, n *notify.Notification) (int, error)
}

// Checker is implemented by collaborators that can report their own health.
type Checker interface {
	Check(ctx context.Context) error
}

// StaticGenerator emits a fixed number of placeholder items per call.
type StaticGenerator struct {
	Items int
	Clock clock.Clock
}

// Generate returns Items placeholder items.
func (g *StaticGenerator) Generate(ctx context.Context, platform models.Platform, contentType models.ContentType) ([]ContentItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := g.Items
	if n <= 0 {
		n = 1
	}
	clk := g.Clock
	if clk == nil {
		clk = clock.New()
	}

	items := make([]ContentItem, n)
	for i := range items {
		id := uuid.New().String()
		items[i] = ContentItem{
			ID:          id,
			Platform:    platform,
			ContentType: contentType,
			Caption:     fmt.Sprintf("%s %s post %d", platform, contentType, i+1),
			MediaPath:   fmt.Sprintf("generated/%s/%s.png", platform, id),
			CreatedAt:   clk.Now(),
		}
	}
	return items, nil
}

// Check always succeeds.
func (g *StaticGenerator) Check(ctx context.Context) error { return nil }

// LogPublisher logs items instead of delivering them.
type LogPublisher struct {
	Logger zerolog.Logger
}

// Publish logs the item and reports success.
func (p *LogPublisher) Publish(ctx context.Context, platform models.Platform, item ContentItem) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.Logger.Info().
		Str("platform", string(platform)).
		Str("item_id", item.ID).
		Str("content_type", string(item.ContentType)).
		Msg("Published content")
	return true, nil
}
