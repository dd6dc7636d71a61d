// Package telemetry collects in-process search statistics. Nothing is
// reported outside the daemon; the numbers are surfaced through status.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// SearchEvent is one completed search.
type SearchEvent struct {
	Index   string
	Query   string
	Hits    uint64
	Latency time.Duration
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // next write position
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// ExtractTerms splits a query into lowercased terms of at least three
// characters. Field prefixes such as "title:" are stripped.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if _, v, ok := strings.Cut(w, ":"); ok {
			w = v
		}
		w = strings.Trim(w, `+-"()*?`)
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	TotalSearches       int64                   `json:"total_searches"`
	ZeroHitCount        int64                   `json:"zero_hit_count"`
	RepeatCount         int64                   `json:"repeat_count"`
	PerIndex            map[string]int64        `json:"per_index"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroHitQueries      []string                `json:"zero_hit_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	Since               time.Time               `json:"since"`
}

// ZeroHitPercentage returns the share of searches that found nothing.
func (s *Snapshot) ZeroHitPercentage() float64 {
	if s.TotalSearches == 0 {
		return 0
	}
	return float64(s.ZeroHitCount) / float64(s.TotalSearches) * 100
}

// Config bounds the memory used by SearchMetrics.
type Config struct {
	TopTermsCapacity      int // default 100
	ZeroHitCapacity       int // default 50
	RecentQueriesCapacity int // default 500
}

// DefaultConfig returns the default capacities.
func DefaultConfig() Config {
	return Config{TopTermsCapacity: 100, ZeroHitCapacity: 50, RecentQueriesCapacity: 500}
}

// SearchMetrics aggregates SearchEvents. Safe for concurrent use.
type SearchMetrics struct {
	mu sync.Mutex

	total         int64
	zeroHits      int64
	repeats       int64
	perIndex      map[string]int64
	latencies     map[LatencyBucket]int64
	topTerms      *lru.Cache[string, int64]
	recentQueries *lru.Cache[string, struct{}]
	zeroHitRing   *CircularBuffer[string]
	since         time.Time
}

// NewSearchMetrics creates a collector. Zero capacities take defaults.
func NewSearchMetrics(cfg Config) *SearchMetrics {
	def := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroHitCapacity <= 0 {
		cfg.ZeroHitCapacity = def.ZeroHitCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)
	return &SearchMetrics{
		perIndex:      make(map[string]int64),
		latencies:     make(map[LatencyBucket]int64),
		topTerms:      topTerms,
		recentQueries: recent,
		zeroHitRing:   NewCircularBuffer[string](cfg.ZeroHitCapacity),
		since:         time.Now(),
	}
}

// Record adds one search to the aggregates.
func (m *SearchMetrics) Record(e SearchEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.perIndex[e.Index]++
	m.latencies[LatencyToBucket(e.Latency)]++

	for _, term := range ExtractTerms(e.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if e.Hits == 0 {
		m.zeroHits++
		m.zeroHitRing.Add(e.Index + ": " + e.Query)
	}

	key := hashQuery(e.Index, e.Query)
	if _, seen := m.recentQueries.Get(key); seen {
		m.repeats++
	}
	m.recentQueries.Add(key, struct{}{})
}

func hashQuery(index, query string) string {
	sum := sha256.Sum256([]byte(index + "\x00" + strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns a copy of the current aggregates. Top terms are sorted
// by count, highest first.
func (m *SearchMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	perIndex := make(map[string]int64, len(m.perIndex))
	for k, v := range m.perIndex {
		perIndex[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	terms := make([]TermCount, 0, m.topTerms.Len())
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.SliceStable(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	return &Snapshot{
		TotalSearches:       m.total,
		ZeroHitCount:        m.zeroHits,
		RepeatCount:         m.repeats,
		PerIndex:            perIndex,
		TopTerms:            terms,
		ZeroHitQueries:      m.zeroHitRing.Items(),
		LatencyDistribution: latencies,
		Since:               m.since,
	}
}
