package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"printlink/internal/bridge"
	"printlink/internal/services"
	"printlink/internal/transport"
)

func TestEndpoints(t *testing.T) {
	endpoints, err := bridge.NewEndpoints("ws://127.0.0.1:8000/ ")
	if err != nil {
		t.Fatalf("NewEndpoints: %v", err)
	}
	cases := []struct {
		got, want string
	}{
		{endpoints.Control("abc"), "ws://127.0.0.1:8000/ws/control/abc"},
		{endpoints.Camera("abc"), "ws://127.0.0.1:8000/ws/camera/abc"},
		{endpoints.Touch(), "ws://127.0.0.1:8000/ws/touch"},
		{endpoints.Discover(), "ws://127.0.0.1:8000/ws/discover"},
		{endpoints.Slicing(), "ws://127.0.0.1:8000/ws/3dprint-slicing"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("got %q, want %q", tc.got, tc.want)
		}
	}
}

func TestNewEndpointsRejectsBadURLs(t *testing.T) {
	for _, raw := range []string{"http://localhost:8000", "ws://", "::"} {
		if _, err := bridge.NewEndpoints(raw); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%q: expected validation error, got %v", raw, err)
		}
	}
}

func newTouchServer(t *testing.T, password string) bridge.Endpoints {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/touch" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			UUID     string `json:"uuid"`
			Password string `json:"password"`
		}
		if err := json.Unmarshal(data, &req); err != nil || req.UUID == "" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"error","error":"BAD_PARAMS"}`))
			return
		}
		if req.Password != password {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"error","error":"touch: AUTH_FAILED"}`))
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"ok","uuid":"`+req.UUID+`"}`))
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(server.Close)

	endpoints, err := bridge.NewEndpoints("ws" + strings.TrimPrefix(server.URL, "http"))
	if err != nil {
		t.Fatalf("NewEndpoints: %v", err)
	}
	return endpoints
}

func TestTouchAuthenticator(t *testing.T) {
	endpoints := newTouchServer(t, "secret")
	auth := bridge.TouchAuthenticator{
		Dialer:    transport.WebsocketDialer{HandshakeTimeout: time.Second},
		Endpoints: endpoints,
		Timeout:   2 * time.Second,
	}

	if err := auth.Authenticate(context.Background(), "d1", "secret"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	err := auth.Authenticate(context.Background(), "d1", "wrong")
	if !errors.Is(err, services.ErrAuthFailed) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if services.Label(err) != "AUTH_FAILED" {
		t.Fatalf("expected AUTH_FAILED label, got %q", services.Label(err))
	}
}

func TestTouchAuthenticatorTreatsOtherErrorsAsRejection(t *testing.T) {
	endpoints := newTouchServer(t, "secret")
	auth := bridge.TouchAuthenticator{
		Dialer:    transport.WebsocketDialer{HandshakeTimeout: time.Second},
		Endpoints: endpoints,
		Timeout:   2 * time.Second,
	}
	if err := auth.Authenticate(context.Background(), "", "secret"); !errors.Is(err, services.ErrAuthFailed) {
		t.Fatalf("expected auth failure, got %v", err)
	}
}
