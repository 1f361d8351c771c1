package mqtt

import "strings"

// Bridge status payloads.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// StatusTopic returns the bridge status topic under prefix.
//
// Example: vrm/cloud/status
func StatusTopic(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return "status"
	}
	return prefix + "/status"
}

// validTopic reports whether topic can be published to: non-empty and free
// of the subscription wildcards.
func validTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "+#")
}
