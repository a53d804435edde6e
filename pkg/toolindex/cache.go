package toolindex

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/toolboxlabs/planner/pkg/metrics"
)

// DefaultCacheSize bounds the number of index snapshots kept across
// tenants.
const DefaultCacheSize = 128

// Cache memoizes built indexes keyed by (tenant, definitions
// fingerprint), so a run pays the build cost only when its tenant's
// authorization set changes.
type Cache struct {
	lru     *lru.Cache[string, *Index]
	metrics *metrics.Metrics
}

// NewCache creates an index cache. size <= 0 uses DefaultCacheSize.
func NewCache(size int, m *metrics.Metrics) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, *Index](size)
	if err != nil {
		return nil, fmt.Errorf("create index cache: %w", err)
	}
	return &Cache{lru: c, metrics: m}, nil
}

// GetOrBuild returns the cached index for the tenant's definition set,
// building and caching it on a miss.
func (c *Cache) GetOrBuild(userID string, defs []Definition) (*Index, error) {
	key := userID + "\x00" + FingerprintDefinitions(defs)
	if ix, ok := c.lru.Get(key); ok {
		c.metrics.RecordIndexBuild("hit")
		return ix, nil
	}

	ix, err := Build(defs)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordIndexBuild("miss")
	c.lru.Add(key, ix)
	return ix, nil
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// FingerprintDefinitions hashes a definition set independent of its
// ordering.
func FingerprintDefinitions(defs []Definition) string {
	sorted := append([]Definition(nil), defs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ToolID() < sorted[j].ToolID() })

	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, def := range sorted {
		// Encode the introspectable surface; maps marshal with sorted
		// keys, keeping the digest stable.
		_ = enc.Encode(map[string]any{
			"provider": def.Provider,
			"name":     def.Name,
			"doc":      def.Doc,
			"params":   def.Params,
			"schema":   def.OutputSchema,
			"pretty":   def.OutputSchemaPretty,
		})
	}
	return hex.EncodeToString(h.Sum(nil))
}
