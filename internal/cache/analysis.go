package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kamilpajak/diffscope/pkg/models"
)

// Cache stores analysis records and their extracted content.
// Implementations must be safe for concurrent use across ids.
type Cache interface {
	Store(id string, record models.AnalysisRecord)
	Get(id string) (models.AnalysisRecord, bool)
	Update(id string, fn func(models.AnalysisRecord) models.AnalysisRecord) bool
	UpdateStatus(id string, status models.Status)
	StoreContent(id string, content models.CachedContent)
	GetContent(id string) (models.CachedContent, bool)
}

// AnalysisCache is the in-memory Cache.
type AnalysisCache struct {
	records *TTLCache[models.AnalysisRecord]
	content *TTLCache[models.CachedContent]
	logger  *slog.Logger
}

var _ Cache = (*AnalysisCache)(nil)

// NewAnalysisCache creates an AnalysisCache. A nil logger uses slog.Default().
func NewAnalysisCache(opts Options, logger *slog.Logger) *AnalysisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisCache{
		records: NewTTLCache[models.AnalysisRecord](opts),
		content: NewTTLCache[models.CachedContent](opts),
		logger:  logger,
	}
}

// Store inserts or replaces the record for id.
func (c *AnalysisCache) Store(id string, record models.AnalysisRecord) {
	defer c.guard("store", id)
	c.records.Set(id, record)
}

// Get returns the record for id. Access failures are reported as a miss.
func (c *AnalysisCache) Get(id string) (rec models.AnalysisRecord, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("cache lookup failed", "id", id, "error", fmt.Sprint(r))
			rec, ok = models.AnalysisRecord{}, false
		}
	}()
	return c.records.Get(id)
}

// Update applies fn to the record for id. It returns false when id is unknown.
func (c *AnalysisCache) Update(id string, fn func(models.AnalysisRecord) models.AnalysisRecord) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("cache update failed", "id", id, "error", fmt.Sprint(r))
			ok = false
		}
	}()
	return c.records.Update(id, fn)
}

// UpdateStatus moves the record for id forward to status.
func (c *AnalysisCache) UpdateStatus(id string, status models.Status) {
	updated := c.Update(id, func(r models.AnalysisRecord) models.AnalysisRecord {
		next, _ := r.Advance(status)
		return next
	})
	if !updated {
		c.logger.Warn("status update for unknown analysis", "id", id, "status", status)
	}
}

// StoreContent keeps the extracted content for id.
func (c *AnalysisCache) StoreContent(id string, content models.CachedContent) {
	defer c.guard("store content", id)
	c.content.Set(id, content)
}

// GetContent returns the extracted content for id.
func (c *AnalysisCache) GetContent(id string) (content models.CachedContent, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("content lookup failed", "id", id, "error", fmt.Sprint(r))
			content, ok = models.CachedContent{}, false
		}
	}()
	return c.content.Get(id)
}

// Len returns the number of cached records.
func (c *AnalysisCache) Len() int {
	return c.records.Len()
}

// Sweep drops expired records and content.
func (c *AnalysisCache) Sweep() int {
	return c.records.Sweep() + c.content.Sweep()
}

// StartJanitor sweeps expired entries every interval until ctx is done.
// A non-positive interval sweeps once a minute.
func (c *AnalysisCache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.logger.Debug("swept expired analyses", "count", n)
				}
			}
		}
	}()
}

func (c *AnalysisCache) guard(op, id string) {
	if r := recover(); r != nil {
		c.logger.Warn("cache "+op+" failed", "id", id, "error", fmt.Sprint(r))
	}
}
