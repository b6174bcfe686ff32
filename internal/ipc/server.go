package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"printlink/internal/daemon"
	"printlink/internal/logging"
	"printlink/internal/logs"
	"printlink/internal/services"
	"printlink/internal/slicing"
)

// ServiceName is the RPC receiver name registered on the socket.
const ServiceName = "Printlink"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Connections still open
// are served until their clients hang up.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun printlink stop"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

// request tags the server context with a fresh request id.
func (s *service) request() context.Context {
	return services.WithRequestID(s.ctx, uuid.NewString())
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.logger.Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.logger.Info("daemon started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	*resp = StatusResponse{
		Running:          status.Running,
		PID:              status.PID,
		LockPath:         status.LockFilePath,
		CatalogPath:      status.CatalogPath,
		BridgeURL:        status.BridgeURL,
		LogPath:          status.LogPath,
		DiscoveryRunning: status.DiscoveryRunning,
		HotplugRunning:   status.HotplugRunning,
		BackendPort:      status.BackendPort,
		APIAddress:       status.APIAddress,
		Selected:         status.Selected,
		Devices:          make([]DeviceState, 0, len(status.Devices)),
		Dependencies:     make([]DependencyStatus, 0, len(status.Dependencies)),
	}
	for _, dep := range status.Dependencies {
		resp.Dependencies = append(resp.Dependencies, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	for _, state := range status.Devices {
		resp.Devices = append(resp.Devices, DeviceState{
			ID:       state.ID,
			Name:     state.Name,
			Status:   state.Status,
			State:    state.State,
			Selected: state.Selected,
		})
	}
	return nil
}

func (s *service) Devices(_ DevicesRequest, resp *DevicesResponse) error {
	views, err := s.daemon.Devices(s.request())
	if err != nil {
		return encodeError(err)
	}
	resp.Devices = make([]DeviceInfo, 0, len(views))
	for _, view := range views {
		resp.Devices = append(resp.Devices, DeviceInfo{
			ID:               view.ID,
			Name:             view.Name,
			Serial:           view.Serial,
			Address:          view.Address,
			PasswordRequired: view.PasswordRequired,
			Connection:       view.Connection,
			State:            view.State,
			Selected:         view.Selected,
			LastError:        view.LastError,
			FirstSeen:        view.FirstSeen,
			LastSeen:         view.LastSeen,
		})
	}
	return nil
}

func (s *service) Select(req SelectRequest, resp *SelectResponse) error {
	result, err := s.daemon.Select(s.request(), req.Ref, req.Password)
	resp.ID = result.Device.ID
	resp.Name = result.Device.Name
	resp.Status = result.Status
	resp.Rejected = result.Rejected
	return encodeError(err)
}

func (s *service) Command(req CommandRequest, resp *CommandResponse) error {
	result, err := s.daemon.Command(s.request(), req.Name)
	if err != nil {
		return encodeError(err)
	}
	resp.Command = result.Command.String()
	resp.State = result.State
	resp.Report = result.Report
	return nil
}

func (s *service) ListFiles(req ListFilesRequest, resp *ListFilesResponse) error {
	listing, err := s.daemon.ListFiles(s.request(), req.Path)
	resp.Listing = listing
	return encodeError(err)
}

func (s *service) FileInfo(req FileInfoRequest, resp *FileInfoResponse) error {
	info, err := s.daemon.FileInfo(s.request(), req.Dir, req.Name)
	resp.Info = info
	return encodeError(err)
}

func (s *service) Preview(_ PreviewRequest, resp *PreviewResponse) error {
	image, err := s.daemon.Preview(s.request())
	resp.Image = image
	return encodeError(err)
}

func (s *service) Print(req PrintRequest, resp *PrintResponse) error {
	result, err := s.daemon.Print(s.request(), req.Path)
	resp.State = result.State
	resp.Bytes = result.Bytes
	return encodeError(err)
}

func (s *service) Clear(_ ClearRequest, resp *ClearResponse) error {
	state, err := s.daemon.Clear(s.request())
	resp.State = state
	return encodeError(err)
}

func (s *service) Camera(req CameraRequest, resp *CameraResponse) error {
	paths, err := s.daemon.Camera(s.request(), daemon.CameraRequest{
		Frames:  req.Frames,
		Timeout: time.Duration(req.TimeoutMillis) * time.Millisecond,
		Dir:     req.Dir,
	})
	resp.Paths = paths
	return encodeError(err)
}

func (s *service) Slice(req SliceRequest, resp *SliceResponse) error {
	settings := make([]slicing.Setting, 0, len(req.Settings))
	for _, setting := range req.Settings {
		settings = append(settings, slicing.Setting{Name: setting.Name, Value: setting.Value})
	}
	result, err := s.daemon.Slice(s.request(), daemon.SliceRequest{
		Models:   req.Models,
		Engine:   req.Engine,
		Settings: settings,
		Mode:     req.Mode,
		ViaPath:  req.ViaPath,
		Output:   req.Output,
	})
	if err != nil {
		return encodeError(err)
	}
	*resp = SliceResponse{Path: result.Path, Bytes: result.Bytes, Time: result.Time, Filament: result.Filament}
	return nil
}

func (s *service) Rescan(_ RescanRequest, resp *RescanResponse) error {
	resp.Triggered = s.daemon.Rescan()
	return nil
}

func (s *service) Prune(req PruneRequest, resp *PruneResponse) error {
	maxAge := time.Duration(req.MaxAgeHours * float64(time.Hour))
	removed, err := s.daemon.PruneCatalog(s.request(), maxAge)
	resp.Removed = removed
	if err == nil {
		s.logger.Info("catalog pruned",
			logging.String(logging.FieldEventType, "catalog_prune"),
			logging.Int64("removed_count", removed),
		)
	}
	return encodeError(err)
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	path := s.daemon.LogPath()
	if path == "" {
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	ctx := s.ctx
	if req.Follow {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	chunk, err := logs.Tail(ctx, path, logs.Query{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
		Match:  req.Match,
	})
	resp.Lines = chunk.Lines
	resp.Offset = chunk.Offset
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return encodeError(err)
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return encodeError(err)
}
