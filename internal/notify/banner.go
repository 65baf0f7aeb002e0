package notify

import (
	"context"
	"sync"
	"time"

	"github.com/tazhate/familycal/internal/domain"
)

const defaultBannerLimit = 20

// Banner is an in-app notification shown by the agent's status page.
type Banner struct {
	domain.Notification
	ShownAt time.Time `json:"shown_at"`
}

// BannerBoard keeps the latest banners, newest first. A banner with a known
// correlation id replaces the old one.
type BannerBoard struct {
	mu      sync.Mutex
	limit   int
	banners []Banner
	now     func() time.Time
}

func NewBannerBoard(limit int) *BannerBoard {
	if limit <= 0 {
		limit = defaultBannerLimit
	}
	return &BannerBoard{limit: limit, now: time.Now}
}

func (b *BannerBoard) Name() string { return "in-app" }

func (b *BannerBoard) Deliver(_ context.Context, n domain.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n.CorrelationID != "" {
		for i, existing := range b.banners {
			if existing.CorrelationID == n.CorrelationID {
				b.banners = append(b.banners[:i], b.banners[i+1:]...)
				break
			}
		}
	}

	b.banners = append([]Banner{{Notification: n, ShownAt: b.now()}}, b.banners...)
	if len(b.banners) > b.limit {
		b.banners = b.banners[:b.limit]
	}
	return nil
}

// Banners returns a copy, newest first.
func (b *BannerBoard) Banners() []Banner {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Banner, len(b.banners))
	copy(out, b.banners)
	return out
}

// Dismiss removes the banner for a correlation id.
func (b *BannerBoard) Dismiss(correlationID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.banners {
		if existing.CorrelationID == correlationID {
			b.banners = append(b.banners[:i], b.banners[i+1:]...)
			return true
		}
	}
	return false
}
