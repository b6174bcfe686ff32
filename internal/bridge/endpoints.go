package bridge

import (
	"fmt"
	"net/url"
	"strings"

	"printlink/internal/services"
)

// Endpoints builds bridge URLs from a base websocket URL.
type Endpoints struct {
	Base string
}

// NewEndpoints validates base and returns its endpoint set.
func NewEndpoints(base string) (Endpoints, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return Endpoints{}, services.Wrap(services.ErrValidation, "bridge", "parse url", base, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return Endpoints{}, services.Wrap(services.ErrValidation, "bridge", "parse url",
			fmt.Sprintf("unsupported scheme %q", parsed.Scheme), nil)
	}
	if parsed.Host == "" {
		return Endpoints{}, services.Wrap(services.ErrValidation, "bridge", "parse url", "missing host", nil)
	}
	return Endpoints{Base: trimmed}, nil
}

// Control returns the command channel endpoint for a device.
func (e Endpoints) Control(deviceID string) string {
	return e.join("control", deviceID)
}

// Camera returns the camera stream endpoint for a device.
func (e Endpoints) Camera(deviceID string) string {
	return e.join("camera", deviceID)
}

// Touch returns the credential exchange endpoint.
func (e Endpoints) Touch() string { return e.join("touch", "") }

// Discover returns the discovery feed endpoint.
func (e Endpoints) Discover() string { return e.join("discover", "") }

// Slicing returns the slicing backend endpoint.
func (e Endpoints) Slicing() string { return e.join("3dprint-slicing", "") }

func (e Endpoints) join(kind, id string) string {
	path := e.Base + "/ws/" + kind
	if id != "" {
		path += "/" + url.PathEscape(id)
	}
	return path
}
