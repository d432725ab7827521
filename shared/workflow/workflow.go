package workflow

import "strings"

const (
	DeviceStatusRegistered = "registered"
	DeviceStatusOnline     = "online"
	DeviceStatusOffline    = "offline"
)

const (
	DeviceEventRegistered  = "device_registered"
	DeviceEventCameOnline  = "device_online"
	DeviceEventWentOffline = "device_offline"
)

// Heartbeats move a device toward online; only the liveness sweep moves
// it to offline.
var deviceTransitions = map[string]map[string]string{
	DeviceStatusRegistered: {
		DeviceStatusOnline: DeviceEventCameOnline,
	},
	DeviceStatusOnline: {
		DeviceStatusOffline: DeviceEventWentOffline,
	},
	DeviceStatusOffline: {
		DeviceStatusOnline: DeviceEventCameOnline,
	},
}

func NormalizeDeviceStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func CanTransition(fromStatus string, toStatus string) bool {
	fromStatus = NormalizeDeviceStatus(fromStatus)
	toStatus = NormalizeDeviceStatus(toStatus)
	if fromStatus == toStatus {
		return true
	}
	next := deviceTransitions[fromStatus]
	if next == nil {
		return false
	}
	_, ok := next[toStatus]
	return ok
}

func EventTypeForTransition(fromStatus string, toStatus string) string {
	fromStatus = NormalizeDeviceStatus(fromStatus)
	toStatus = NormalizeDeviceStatus(toStatus)
	if fromStatus == toStatus {
		return ""
	}
	next := deviceTransitions[fromStatus]
	if next == nil {
		return ""
	}
	return next[toStatus]
}

// TransitionsInto lists the statuses with an explicit edge into
// toStatus, in table order. Same-status no-ops are not included.
func TransitionsInto(toStatus string) []string {
	toStatus = NormalizeDeviceStatus(toStatus)
	var from []string
	for _, s := range AllDeviceStatuses() {
		if s == toStatus {
			continue
		}
		if _, ok := deviceTransitions[s][toStatus]; ok {
			from = append(from, s)
		}
	}
	return from
}

func ValidDeviceStatus(status string) bool {
	status = NormalizeDeviceStatus(status)
	for _, s := range AllDeviceStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

func AllDeviceStatuses() []string {
	return []string{
		DeviceStatusRegistered,
		DeviceStatusOnline,
		DeviceStatusOffline,
	}
}
