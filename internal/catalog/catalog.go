package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/retail-chat-bot/internal/textnorm"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// Catalog holds an in-memory snapshot of the product list. Refresh swaps the
// snapshot atomically; readers never see a partial list.
type Catalog struct {
	source Source
	logger *logging.Logger

	mu       sync.RWMutex
	items    []Item
	byID     map[string]int
	loadedAt time.Time
}

// New creates a catalog backed by source. Call Refresh before serving.
func New(source Source, logger *logging.Logger) *Catalog {
	if source == nil {
		panic("catalog: source cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Catalog{source: source, logger: logger, byID: map[string]int{}}
}

// Refresh reloads the snapshot. On error the previous snapshot is kept.
func (c *Catalog) Refresh(ctx context.Context) error {
	items, err := c.source.Load(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]int, len(items))
	for i, it := range items {
		byID[it.ID] = i
	}
	c.mu.Lock()
	c.items = items
	c.byID = byID
	c.loadedAt = time.Now().UTC()
	c.mu.Unlock()
	c.logger.Info("catalog refreshed", "items", len(items))
	return nil
}

// Run refreshes the catalog every interval until ctx is done.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("catalog refresh failed", "error", err)
			}
		}
	}
}

// Len returns the number of items in the current snapshot.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Get returns the item with id.
func (c *Catalog) Get(id string) (Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byID[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return c.items[idx], nil
}

// Options tunes a search.
type Options struct {
	Offset   int
	MaxPrice float64
}

// Search ranks items against query and returns up to limit of them after
// skipping Offset. With MaxPrice set, items within budget get a boost, items
// above it a penalty, and items priced over 120% of it are dropped. Items
// without a known price are kept.
func (c *Catalog) Search(query string, limit int, opts Options) []Item {
	c.mu.RLock()
	items := c.items
	c.mu.RUnlock()
	return rank(items, query, limit, opts)
}

// Filter is the admin listing: substring match on name or id, exact
// category, newest first.
func (c *Catalog) Filter(query, category string, limit int) []Item {
	if limit <= 0 || limit > 20 {
		limit = 8
	}
	q := strings.ToLower(strings.TrimSpace(query))
	cat := strings.ToLower(strings.TrimSpace(category))

	c.mu.RLock()
	var out []Item
	for _, it := range c.items {
		matchQ := q == "" || strings.Contains(strings.ToLower(it.Name), q) || strings.Contains(strings.ToLower(it.ID), q)
		matchCat := cat == "" || strings.ToLower(it.Category) == cat
		if matchQ && matchCat {
			out = append(out, it)
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := parseUpdatedAt(out[i].UpdatedAt), parseUpdatedAt(out[j].UpdatedAt)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func parseUpdatedAt(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}

// normalize folds s for matching; kept here so search and tests share it.
func normalize(s string) string {
	return textnorm.Clean(s)
}
