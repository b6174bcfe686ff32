package discovery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pilebones/go-udev/netlink"
)

func TestBuildMatcher(t *testing.T) {
	matcher := buildMatcher()
	cases := []struct {
		name  string
		event netlink.UEvent
		want  bool
	}{
		{"usb add", netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "usb", "DEVTYPE": "usb_device"}}, true},
		{"usb remove", netlink.UEvent{Action: netlink.REMOVE, Env: map[string]string{"SUBSYSTEM": "usb", "DEVTYPE": "usb_device"}}, true},
		{"usb interface", netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "usb", "DEVTYPE": "usb_interface"}}, false},
		{"block change", netlink.UEvent{Action: netlink.CHANGE, Env: map[string]string{"SUBSYSTEM": "block"}}, false},
	}
	for _, tc := range cases {
		if got := matcher.Evaluate(tc.event); got != tc.want {
			t.Fatalf("%s: Evaluate = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestHandleEventDebouncesTrigger(t *testing.T) {
	var calls atomic.Int32
	m := NewHotplugMonitor(nil, func() { calls.Add(1) })
	m.settle = 20 * time.Millisecond

	for i := 0; i < 5; i++ {
		m.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"PRODUCT": "ffff/1/0"}})
	}
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one debounced trigger, got %d", got)
	}
}

func TestHotplugMonitorNilSafety(t *testing.T) {
	var m *HotplugMonitor
	if m.Running() {
		t.Fatal("nil monitor should not be running")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start on nil monitor: %v", err)
	}
	m.Stop()

	unstarted := NewHotplugMonitor(nil, nil)
	unstarted.Stop()
	if unstarted.Running() {
		t.Fatal("unstarted monitor should not be running")
	}
	unstarted.handleEvent(netlink.UEvent{Action: netlink.ADD})
}
