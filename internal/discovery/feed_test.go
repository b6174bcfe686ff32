package discovery_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"printlink/internal/discovery"
	"printlink/internal/protocol"
	"printlink/internal/services"
	"printlink/internal/transport"
	"printlink/internal/transport/transporttest"
)

func TestParseDescriptor(t *testing.T) {
	desc, ok := discovery.ParseDescriptor(map[string]any{
		"uuid":        "d1",
		"name":        " Delta ",
		"serial":      "S1",
		"st_label":    "running",
		"error_label": []any{"FILAMENT_RUNOUT"},
		"password":    true,
		"ipaddr":      "10.0.0.2",
	})
	if !ok {
		t.Fatal("expected descriptor")
	}
	if desc.Name != "Delta" || desc.Status != "RUNNING" || desc.ErrorLabel != "FILAMENT_RUNOUT" || !desc.PasswordRequired || desc.Address != "10.0.0.2" {
		t.Fatalf("unexpected descriptor %+v", desc)
	}
	if _, ok := discovery.ParseDescriptor(map[string]any{"name": "anonymous"}); ok {
		t.Fatal("descriptor without uuid should be rejected")
	}
	if desc, _ := discovery.ParseDescriptor(map[string]any{"uuid": "d2"}); desc.Name != "d2" {
		t.Fatalf("expected id as fallback name, got %q", desc.Name)
	}
}

func TestNewFeedRequiresDialer(t *testing.T) {
	if _, err := discovery.NewFeed(discovery.Options{Endpoint: "ws://x/ws/discover"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type snapshots struct {
	mu   sync.Mutex
	last []protocol.Descriptor
}

func (s *snapshots) record(list []protocol.Descriptor) {
	s.mu.Lock()
	s.last = list
	s.mu.Unlock()
}

func (s *snapshots) waitFor(t *testing.T, cond func([]protocol.Descriptor) bool) []protocol.Descriptor {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		last := s.last
		s.mu.Unlock()
		if cond(last) {
			return last
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for snapshot")
	return nil
}

func TestFeedDeliversSortedSnapshotsAndRescans(t *testing.T) {
	var mu sync.Mutex
	var channels []*transporttest.Channel
	dialer := transporttest.NewDialer(func(string) (transport.Channel, error) {
		ch := transporttest.New(func(c *transporttest.Channel, frame transport.Frame) {
			if string(frame.Data) == "rescan" {
				c.EmitJSON(map[string]any{"devices": []any{
					map[string]any{"uuid": "c", "name": "Charlie"},
				}})
			}
		})
		ch.EmitJSON(map[string]any{"uuid": "b", "name": "Bravo"})
		ch.EmitJSON(map[string]any{"devices": []any{
			map[string]any{"uuid": "a", "name": "Alpha", "error_label": "HEAD_OFFLINE"},
			map[string]any{"name": "no id"},
		}})
		mu.Lock()
		channels = append(channels, ch)
		mu.Unlock()
		return ch, nil
	})
	feed, err := discovery.NewFeed(discovery.Options{Dialer: dialer, Endpoint: "ws://bridge.test/ws/discover", Interval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	got := &snapshots{}
	go func() { done <- feed.Run(ctx, got.record) }()

	list := got.waitFor(t, func(list []protocol.Descriptor) bool { return len(list) == 2 })
	if list[0].ID != "a" || list[1].ID != "b" || list[0].ErrorLabel != "HEAD_OFFLINE" {
		t.Fatalf("unexpected snapshot %+v", list)
	}

	feed.Rescan()
	list = got.waitFor(t, func(list []protocol.Descriptor) bool { return len(list) == 3 })
	if list[2].Name != "Charlie" {
		t.Fatalf("unexpected snapshot after rescan %+v", list)
	}

	mu.Lock()
	first := channels[0]
	mu.Unlock()
	_ = first.Close()
	deadline := time.Now().Add(2 * time.Second)
	for dialer.Count("ws://bridge.test/ws/discover") < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if dialer.Count("ws://bridge.test/ws/discover") < 2 {
		t.Fatal("expected feed to redial after the stream closed")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
