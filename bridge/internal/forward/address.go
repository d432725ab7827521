package forward

import (
	"strings"

	"riverpulse/shared/events"
)

// ParseAddress extracts the message type and device ID from a bus topic
// of the form <namespace>/<message_type>/<device_id>. Topics with fewer
// than three segments are still forwarded, addressed as unknown/unknown.
func ParseAddress(topic string) (messageType string, deviceID string) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return events.TypeUnknown, events.TypeUnknown
	}
	return parts[1], parts[2]
}

// CommandTopic is the bus topic a command for the given device is
// published on.
func CommandTopic(namespace string, deviceID string) string {
	return namespace + "/" + events.TypeCommands + "/" + deviceID
}

// SubscribeFilter covers every topic in the namespace.
func SubscribeFilter(namespace string) string {
	return namespace + "/#"
}
