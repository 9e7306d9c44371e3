// Package cache keeps cross-instance coordination state in Redis: the
// latest report per dataset, and the run lease that holds a dataset to at
// most one analytics run in flight.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"order-analytics-pipeline/internal/report"
)

// Cache is safe for concurrent use.
type Cache struct {
	client    *redis.Client
	reportTTL time.Duration
	leaseTTL  time.Duration
}

func New(client *redis.Client, reportTTL, leaseTTL time.Duration) *Cache {
	return &Cache{client: client, reportTTL: reportTTL, leaseTTL: leaseTTL}
}

func reportKey(dataset string) string { return "report:latest:" + dataset }
func leaseKey(dataset string) string  { return "run:lease:" + dataset }

// SetLatest stores the freshest report for a dataset.
func (c *Cache) SetLatest(ctx context.Context, dataset string, r *report.Report) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return c.client.Set(ctx, reportKey(dataset), raw, c.reportTTL).Err()
}

// Latest returns the cached report, or nil when nothing is cached.
func (c *Cache) Latest(ctx context.Context, dataset string) (*report.Report, error) {
	raw, err := c.client.Get(ctx, reportKey(dataset)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r report.Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("unmarshal cached report: %w", err)
	}
	return &r, nil
}

// AcquireLease claims the dataset's run slot for runID. The lease expires
// on its own so a crashed run cannot block the dataset forever.
func (c *Cache) AcquireLease(ctx context.Context, dataset, runID string) (bool, error) {
	return c.client.SetNX(ctx, leaseKey(dataset), runID, c.leaseTTL).Result()
}

// ReleaseLease frees the dataset's run slot.
func (c *Cache) ReleaseLease(ctx context.Context, dataset string) error {
	return c.client.Del(ctx, leaseKey(dataset)).Err()
}

// LeaseHolder reports which run holds the dataset's slot, empty when free.
func (c *Cache) LeaseHolder(ctx context.Context, dataset string) (string, error) {
	holder, err := c.client.Get(ctx, leaseKey(dataset)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return holder, err
}
