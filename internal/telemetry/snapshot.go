package telemetry

import (
	"fmt"
	"sort"
	"time"
)

// Snapshot is one fetched set of telemetry values for a site.
//
// A Snapshot is immutable once built; NewSnapshot copies its input map.
// Values are int64, float64, bool, string, or nil for a metric the remote
// service reported without a value.
type Snapshot struct {
	SiteID     string
	ObservedAt time.Time

	metrics map[string]any
}

// NewSnapshot builds a Snapshot from a metrics map.
//
// Integer types are widened to int64 and float32 to float64. Any other value
// type is rejected so an unsupported value can never reach a topic payload.
//
// Returns:
//   - Snapshot: the immutable snapshot
//   - error: ErrUnsupportedValue for the first offending key (sorted order)
func NewSnapshot(siteID string, observedAt time.Time, metrics map[string]any) (Snapshot, error) {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	copied := make(map[string]any, len(metrics))
	for _, k := range keys {
		v, ok := normalizeValue(metrics[k])
		if !ok {
			return Snapshot{}, fmt.Errorf("%w: %s has type %T", ErrUnsupportedValue, k, metrics[k])
		}
		copied[k] = v
	}

	return Snapshot{
		SiteID:     siteID,
		ObservedAt: observedAt,
		metrics:    copied,
	}, nil
}

func normalizeValue(v any) (any, bool) {
	switch x := v.(type) {
	case nil, bool, string, int64, float64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint32:
		return int64(x), true
	case float32:
		return float64(x), true
	default:
		return nil, false
	}
}

// Len returns the number of metric keys, including keys without a value.
func (s Snapshot) Len() int {
	return len(s.metrics)
}

// Keys returns the metric keys in lexicographic order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.metrics))
	for k := range s.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Value returns the value stored under key. ok is false when the key is absent.
func (s Snapshot) Value(key string) (v any, ok bool) {
	v, ok = s.metrics[key]
	return v, ok
}
