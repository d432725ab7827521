package workflow

import "testing"

func TestCanTransition(t *testing.T) {
	if !CanTransition(DeviceStatusRegistered, DeviceStatusOnline) {
		t.Fatalf("expected registered -> online to be allowed")
	}
	if !CanTransition(DeviceStatusOffline, DeviceStatusOnline) {
		t.Fatalf("expected offline -> online to be allowed")
	}
	if CanTransition(DeviceStatusRegistered, DeviceStatusOffline) {
		t.Fatalf("expected registered -> offline to be blocked")
	}
}

func TestTransitionsInto(t *testing.T) {
	from := TransitionsInto(DeviceStatusOffline)
	if len(from) != 1 || from[0] != DeviceStatusOnline {
		t.Fatalf("expected only online to reach offline, got %v", from)
	}
	from = TransitionsInto(DeviceStatusOnline)
	if len(from) != 2 || from[0] != DeviceStatusRegistered || from[1] != DeviceStatusOffline {
		t.Fatalf("expected registered and offline to reach online, got %v", from)
	}
}

func TestValidDeviceStatus(t *testing.T) {
	if !ValidDeviceStatus(" Online ") {
		t.Fatalf("expected online to be a known status")
	}
	if ValidDeviceStatus("sleeping") {
		t.Fatalf("expected sleeping to be rejected")
	}
}

func TestEventTypeForTransition(t *testing.T) {
	ev := EventTypeForTransition(DeviceStatusOnline, DeviceStatusOffline)
	if ev != DeviceEventWentOffline {
		t.Fatalf("expected offline event, got %q", ev)
	}
	if ev := EventTypeForTransition(DeviceStatusOnline, DeviceStatusOnline); ev != "" {
		t.Fatalf("expected no event for a no-op transition, got %q", ev)
	}
}
