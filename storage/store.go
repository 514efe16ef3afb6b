package storage

import (
	"context"
	"time"

	"wb_scraper/config"
	"wb_scraper/models"
)

// Store is a snapshot store: BeginSession wipes every table, so whatever is
// visible always belongs to the latest session.
type Store interface {
	BeginSession(ctx context.Context, planned int) (int64, error)
	SaveResult(ctx context.Context, identifier string, records []models.ScrapeRecord, sessionID int64) error
	FinalizeSession(ctx context.Context, sessionID int64, successful, failed int, notes string) error

	Subscriptions(ctx context.Context) ([]models.SubscriptionView, error)
	Stats(ctx context.Context) (*models.Stats, error)
	Sessions(ctx context.Context) ([]models.ScrapingSession, error)
	Duplicates(ctx context.Context) ([]DuplicateGroup, error)
	RemoveDuplicates(ctx context.Context) (*DedupeResult, error)
	ClearAll(ctx context.Context) error

	Close() error
}

type DuplicateGroup struct {
	Search string `json:"subscription_search"`
	Count  int    `json:"count"`
}

type DedupeResult struct {
	Groups               int   `json:"groups"`
	SubscriptionsRemoved int64 `json:"subscriptions_removed"`
	ResultsRemoved       int64 `json:"results_removed"`
}

// Open picks Postgres when a connection string is configured and the SQLite
// file otherwise.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.DatabaseURL != "" {
		return NewPostgresStore(ctx, cfg.DatabaseURL, cfg.Location)
	}
	return NewSQLiteStore(cfg.DBPath, cfg.Location)
}

type clock struct {
	loc *time.Location
	now func() time.Time
}

func newClock(loc *time.Location) clock {
	if loc == nil {
		loc = time.UTC
	}
	return clock{loc: loc, now: time.Now}
}

func (c clock) stamp() string {
	return c.now().In(c.loc).Format(time.RFC3339)
}

func parseStamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// viewBuilder groups joined subscription/result rows, keeping first-seen order.
type viewBuilder struct {
	order []string
	views map[string]*models.SubscriptionView
}

func newViewBuilder() *viewBuilder {
	return &viewBuilder{views: make(map[string]*models.SubscriptionView)}
}

func (b *viewBuilder) add(sub models.SubscriptionView, rec *models.StoredRecord) {
	v, ok := b.views[sub.SearchTerm]
	if !ok {
		sub.Results = []models.StoredRecord{}
		v = &sub
		b.views[sub.SearchTerm] = v
		b.order = append(b.order, sub.SearchTerm)
	}
	if rec != nil && rec.ResultID != "" {
		v.Results = append(v.Results, *rec)
	}
}

func (b *viewBuilder) build() []models.SubscriptionView {
	out := make([]models.SubscriptionView, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, *b.views[k])
	}
	return out
}
