package telemetry

import (
	"sort"
	"strconv"
	"strings"
)

// Topic is an addressable broker destination plus its payload.
type Topic struct {
	Path    string
	Payload string
	Retain  bool
}

// keySeparator splits a metric key into topic levels.
const keySeparator = "."

// Map converts a snapshot into topics under prefix.
//
// Each metric key k becomes prefix/site_id/k with "." mapped to "/". Metrics
// without a value are omitted. Topics are sorted by path.
//
// Parameters:
//   - snapshot: the snapshot to flatten
//   - prefix: topic namespace, e.g. "vrm/cloud"
//   - retain: retain flag copied onto every topic
//
// Returns:
//   - []Topic: deterministic, path-ordered topics
func Map(snapshot Snapshot, prefix string, retain bool) []Topic {
	base := append(splitSegments(prefix, "/"), splitSegments(snapshot.SiteID, "/")...)

	topics := make([]Topic, 0, snapshot.Len())
	for _, key := range snapshot.Keys() {
		value := snapshot.metrics[key]
		payload, ok := FormatValue(value)
		if !ok {
			continue
		}
		segments := splitSegments(key, keySeparator)
		if len(segments) == 0 {
			continue
		}
		topics = append(topics, Topic{
			Path:    joinSegments(base, segments),
			Payload: payload,
			Retain:  retain,
		})
	}

	// Segment rewriting can reorder paths relative to their keys.
	sort.SliceStable(topics, func(i, j int) bool {
		return topics[i].Path < topics[j].Path
	})

	return topics
}

// FormatValue renders a metric value in its canonical string form.
// ok is false for nil (a metric without a value).
func FormatValue(v any) (s string, ok bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case bool:
		return strconv.FormatBool(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case string:
		return x, true
	default:
		return "", false
	}
}

// splitSegments splits s on sep, dropping empty segments and replacing MQTT
// wildcard characters, which are not allowed in a publish topic.
func splitSegments(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = strings.NewReplacer("+", "_", "#", "_", "/", "_").Replace(p)
		out = append(out, p)
	}
	return out
}

func joinSegments(groups ...[]string) string {
	var all []string
	for _, g := range groups {
		all = append(all, g...)
	}
	return strings.Join(all, "/")
}
