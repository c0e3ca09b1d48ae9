package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"folio/api/internal/textdiff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	kindBranch  = "branch"
	kindVersion = "version"
	kindDiff    = "diff"
)

// Metrics counts cache lookups by entry kind and outcome.
type Metrics struct {
	requests *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revision_cache_requests_total",
				Help: "Revision cache lookups by entry kind and result.",
			},
			[]string{"kind", "result"},
		),
	}
	if err := reg.Register(m.requests); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observe(kind, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind, result).Inc()
}

// RevisionCache maps branch, version and diff keys to their content. Every
// method is best-effort: backend failures are logged and reported as a
// miss, never returned. A nil *RevisionCache is a valid, always-missing
// cache.
type RevisionCache struct {
	backend Backend
	ttl     time.Duration
	logger  zerolog.Logger
	metrics *Metrics
}

func NewRevisionCache(backend Backend, ttl time.Duration, logger zerolog.Logger, metrics *Metrics) *RevisionCache {
	return &RevisionCache{backend: backend, ttl: ttl, logger: logger, metrics: metrics}
}

type branchEntry struct {
	Revision int64  `json:"rev"`
	Content  string `json:"content"`
}

func BranchKey(documentID, branchID string) string {
	return "branch:" + documentID + ":" + branchID
}

func VersionKey(documentID, versionID string) string {
	return "version:" + documentID + ":" + versionID
}

func DiffKey(documentID, baseID, compareID string) string {
	return "diff:" + documentID + ":" + baseID + ":" + compareID
}

// BranchContent returns the cached working text of a branch. An entry
// written for a different revision is treated as a miss.
func (c *RevisionCache) BranchContent(ctx context.Context, documentID, branchID string, revision int64) (string, bool) {
	var entry branchEntry
	if !c.lookup(ctx, kindBranch, BranchKey(documentID, branchID), &entry) {
		return "", false
	}
	if entry.Revision != revision {
		c.metrics.observe(kindBranch, "stale")
		return "", false
	}
	c.metrics.observe(kindBranch, "hit")
	return entry.Content, true
}

func (c *RevisionCache) PutBranchContent(ctx context.Context, documentID, branchID string, revision int64, content string) {
	c.store(ctx, BranchKey(documentID, branchID), branchEntry{Revision: revision, Content: content})
}

func (c *RevisionCache) VersionContent(ctx context.Context, documentID, versionID string) (string, bool) {
	var content string
	if !c.lookup(ctx, kindVersion, VersionKey(documentID, versionID), &content) {
		return "", false
	}
	c.metrics.observe(kindVersion, "hit")
	return content, true
}

func (c *RevisionCache) PutVersionContent(ctx context.Context, documentID, versionID, content string) {
	c.store(ctx, VersionKey(documentID, versionID), content)
}

func (c *RevisionCache) Diff(ctx context.Context, documentID, baseID, compareID string) ([]textdiff.Diff, bool) {
	var diffs []textdiff.Diff
	if !c.lookup(ctx, kindDiff, DiffKey(documentID, baseID, compareID), &diffs) {
		return nil, false
	}
	c.metrics.observe(kindDiff, "hit")
	return diffs, true
}

func (c *RevisionCache) PutDiff(ctx context.Context, documentID, baseID, compareID string, diffs []textdiff.Diff) {
	c.store(ctx, DiffKey(documentID, baseID, compareID), diffs)
}

// Evict removes the given keys.
func (c *RevisionCache) Evict(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if err := c.backend.Delete(ctx, keys...); err != nil {
		c.logger.Warn().Err(err).Strs("keys", keys).Msg("cache evict failed")
	}
}

func (c *RevisionCache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.backend.Ping(ctx)
}

func (c *RevisionCache) lookup(ctx context.Context, kind, key string, dst any) bool {
	if c == nil {
		return false
	}
	raw, err := c.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			c.metrics.observe(kind, "miss")
		} else {
			c.metrics.observe(kind, "error")
			c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.metrics.observe(kind, "error")
		c.logger.Warn().Err(err).Str("key", key).Msg("cache entry undecodable")
		c.Evict(ctx, key)
		return false
	}
	return true
}

func (c *RevisionCache) store(ctx context.Context, key string, value any) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	if err := c.backend.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Int("bytes", len(raw)).Msg("cache write failed")
	}
}
