package meili

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// IndexStats are the document statistics of one index.
type IndexStats struct {
	NumberOfDocuments int64            `json:"numberOfDocuments"`
	IsIndexing        bool             `json:"isIndexing"`
	FieldDistribution map[string]int64 `json:"fieldDistribution"`
}

// Stats are the instance-wide statistics.
type Stats struct {
	DatabaseSize int64                 `json:"databaseSize"`
	LastUpdate   *time.Time            `json:"lastUpdate"`
	Indexes      map[string]IndexStats `json:"indexes"`
}

// FieldCount is one entry of a field distribution.
type FieldCount struct {
	Field string
	Count int64
}

// SortedFields returns the field distribution ordered by descending count,
// then by name.
func (s IndexStats) SortedFields() []FieldCount {
	fields := make([]FieldCount, 0, len(s.FieldDistribution))
	for f, n := range s.FieldDistribution {
		fields = append(fields, FieldCount{Field: f, Count: n})
	}
	sort.Slice(fields, func(i, j int) bool {
		if fields[i].Count != fields[j].Count {
			return fields[i].Count > fields[j].Count
		}
		return fields[i].Field < fields[j].Field
	})
	return fields
}

// GetStats returns the statistics of the instance and all its indexes.
func (c *Client) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.do(ctx, http.MethodGet, "/stats", nil, &stats)
	return stats, err
}

// GetIndexStats returns the statistics of one index.
func (c *Client) GetIndexStats(ctx context.Context, uid string) (IndexStats, error) {
	var stats IndexStats
	err := c.do(ctx, http.MethodGet, indexPath(uid, "stats"), nil, &stats)
	return stats, err
}
