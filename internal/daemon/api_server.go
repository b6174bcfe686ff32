package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"printlink/internal/config"
	"printlink/internal/logging"
	"printlink/internal/logs"
)

const (
	defaultAPILogLines = 200
	maxAPILogLines     = 5000
)

type apiStatus struct {
	Running          bool          `json:"running"`
	PID              int           `json:"pid"`
	BridgeURL        string        `json:"bridge_url"`
	DiscoveryRunning bool          `json:"discovery_running"`
	HotplugRunning   bool          `json:"hotplug_running"`
	BackendPort      int           `json:"backend_port,omitempty"`
	Selected         string        `json:"selected,omitempty"`
	Devices          []apiDeviceID `json:"devices"`
}

type apiDeviceID struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	State  string `json:"state,omitempty"`
}

type apiDevice struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	PasswordRequired bool      `json:"password_required"`
	Connection       string    `json:"connection"`
	State            string    `json:"state,omitempty"`
	Selected         bool      `json:"selected"`
	LastError        string    `json:"last_error,omitempty"`
	LastSeen         time.Time `json:"last_seen"`
}

type apiLogs struct {
	Lines []string `json:"lines"`
}

// apiServer exposes read-only daemon state over HTTP. Device control stays
// on the local socket.
type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.API.Token),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, s.handleStatus))
	mux.HandleFunc("/api/devices", authMiddleware(token, s.handleDevices))
	mux.HandleFunc("/api/logs", authMiddleware(token, s.handleLogs))
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.shutdown()
}

func (s *apiServer) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	payload := apiStatus{
		Running:          status.Running,
		PID:              status.PID,
		BridgeURL:        status.BridgeURL,
		DiscoveryRunning: status.DiscoveryRunning,
		HotplugRunning:   status.HotplugRunning,
		BackendPort:      status.BackendPort,
		Selected:         status.Selected,
		Devices:          make([]apiDeviceID, 0, len(status.Devices)),
	}
	for _, dev := range status.Devices {
		payload.Devices = append(payload.Devices, apiDeviceID{
			ID:     dev.ID,
			Name:   dev.Name,
			Status: string(dev.Status),
			State:  string(dev.State),
		})
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	views, err := s.daemon.Devices(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]apiDevice, 0, len(views))
	for _, view := range views {
		out = append(out, apiDevice{
			ID:               view.ID,
			Name:             view.Name,
			PasswordRequired: view.PasswordRequired,
			Connection:       string(view.Connection),
			State:            string(view.State),
			Selected:         view.Selected,
			LastError:        view.LastError,
			LastSeen:         view.LastSeen,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path := s.daemon.LogPath()
	if path == "" {
		s.writeJSON(w, http.StatusOK, apiLogs{Lines: []string{}})
		return
	}

	query := r.URL.Query()
	limit := defaultAPILogLines
	if raw := strings.TrimSpace(query.Get("lines")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "lines must be a positive integer")
			return
		}
		limit = min(parsed, maxAPILogLines)
	}

	chunk, err := logs.Tail(r.Context(), path, logs.Query{
		Offset: -1,
		Limit:  limit,
		Match:  strings.TrimSpace(query.Get("match")),
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	lines := chunk.Lines
	if lines == nil {
		lines = []string{}
	}
	s.writeJSON(w, http.StatusOK, apiLogs{Lines: lines})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
