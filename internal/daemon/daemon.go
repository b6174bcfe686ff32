package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"printlink/internal/bridge"
	"printlink/internal/catalog"
	"printlink/internal/cmdqueue"
	"printlink/internal/config"
	"printlink/internal/deps"
	"printlink/internal/device"
	"printlink/internal/discovery"
	"printlink/internal/logging"
	"printlink/internal/notifications"
	"printlink/internal/protocol"
	"printlink/internal/session"
	"printlink/internal/slicing"
	"printlink/internal/transport"
)

// ErrNotRunning is returned by device operations while the daemon is stopped.
var ErrNotRunning = errors.New("daemon not running")

// Option customizes a Daemon.
type Option func(*Daemon)

// WithDialer replaces the websocket dialer used for every bridge channel.
func WithDialer(dialer transport.Dialer) Option {
	return func(d *Daemon) {
		if dialer != nil {
			d.dialer = dialer
		}
	}
}

// WithAuthenticator replaces the bridge touch authenticator.
func WithAuthenticator(auth session.Authenticator) Option {
	return func(d *Daemon) {
		if auth != nil {
			d.auth = auth
		}
	}
}

// WithLogPath records the active log file so clients can tail it.
func WithLogPath(path string) Option {
	return func(d *Daemon) { d.logPath = path }
}

// Daemon owns the device session and the background services around it.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	catalog   *catalog.Store
	notifier  notifications.Service
	endpoints bridge.Endpoints
	dialer    transport.Dialer
	auth      session.Authenticator
	queueOpts []cmdqueue.Option

	lockPath string
	lock     *flock.Flock
	logPath  string

	mu      sync.Mutex
	manager *session.Manager
	feed    *discovery.Feed
	hotplug *discovery.HotplugMonitor
	backend *slicing.Backend
	slicer  *slicing.Client
	api     *apiServer
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	sliceMu sync.Mutex
	running atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running          bool
	PID              int
	LockFilePath     string
	CatalogPath      string
	BridgeURL        string
	DiscoveryRunning bool
	HotplugRunning   bool
	BackendPort      int
	APIAddress       string
	LogPath          string
	Selected         string
	Devices          []session.DeviceState
	Dependencies     []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *catalog.Store, logger *slog.Logger, notifier notifications.Service, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and catalog store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	endpoints, err := bridge.NewEndpoints(cfg.Bridge.URL)
	if err != nil {
		return nil, fmt.Errorf("bridge endpoints: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		catalog:   store,
		notifier:  notifier,
		endpoints: endpoints,
		dialer: transport.WebsocketDialer{
			HandshakeTimeout: cfg.HandshakeTimeout(),
			Logger:           logger,
		},
		queueOpts: []cmdqueue.Option{
			cmdqueue.WithInterval(cfg.ScheduleInterval()),
			cmdqueue.WithChunkSize(cfg.Queue.ChunkSize),
			cmdqueue.WithProgressSteps(cfg.Queue.ProgressSteps),
		},
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.auth == nil {
		d.auth = bridge.TouchAuthenticator{
			Dialer:    d.dialer,
			Endpoints: endpoints,
			Timeout:   cfg.ConnectTimeout(),
			Logger:    logger,
		}
	}
	return d, nil
}

// Start acquires the daemon lock, builds the session manager, and launches
// discovery, hotplug monitoring and the slicing backend as configured.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another printlink daemon instance is already running")
	}

	manager, err := session.New(session.Options{
		Connector:     session.ConnectorFunc(d.connect),
		Authenticator: d.auth,
		Prompter:      session.PrompterFunc(promptFromContext),
		Notifier:      d.notifier,
		Logger:        d.logger,
	})
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("create session manager: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.manager = manager
	d.ctx, d.cancel = runCtx, cancel
	d.mu.Unlock()

	if d.cfg.Discovery.Enabled {
		if err := d.startDiscovery(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "discovery unavailable", "discovery_start_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the [bridge] url in config.toml"),
				logging.String(logging.FieldImpact, "device list will only contain cataloged devices"),
			)
		}
	}
	if d.cfg.Slicing.LaunchBackend {
		if err := d.startBackend(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "slicing backend launch failed", "backend_launch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check backend_binary and slicer_path in the [slicing] config"),
				logging.String(logging.FieldImpact, "slicing requests use the bridge slicing endpoint"),
			)
		}
	}

	if api := newAPIServer(d.cfg, d, d.logger); api != nil {
		if err := api.start(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "status api unavailable", "api_start_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check [api] bind in config.toml"),
				logging.String(logging.FieldImpact, "HTTP status endpoints are disabled"),
			)
		} else {
			d.mu.Lock()
			d.api = api
			d.mu.Unlock()
		}
	}

	d.running.Store(true)
	d.logger.Info("printlink daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop closes every device connection, stops background loops and releases
// the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	cancel := d.cancel
	manager := d.manager
	hotplug := d.hotplug
	backend := d.backend
	slicer := d.slicer
	api := d.api
	d.cancel, d.ctx = nil, nil
	d.manager, d.feed, d.hotplug, d.backend, d.slicer, d.api = nil, nil, nil, nil, nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	api.stop()
	if hotplug != nil {
		hotplug.Stop()
	}
	d.wg.Wait()
	if manager != nil {
		if err := manager.Close(); err != nil {
			d.logger.Debug("closing device sessions", logging.Error(err))
		}
	}
	if slicer != nil {
		_ = slicer.Close()
	}
	if backend != nil {
		if err := backend.Stop(); err != nil {
			d.logger.Debug("stopping slicing backend", logging.Error(err))
		}
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the lock file manually"),
			logging.String(logging.FieldImpact, "the next daemon start may be refused"),
		)
	}
	d.running.Store(false)
	d.logger.Info("printlink daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.catalog != nil {
		return d.catalog.Close()
	}
	return nil
}

// LogPath returns the daemon log file, or "" when logging to stderr only.
func (d *Daemon) LogPath() string { return d.logPath }

// Running reports whether Start succeeded and Stop has not run since.
func (d *Daemon) Running() bool { return d.running.Load() }

// Status returns the current daemon status.
func (d *Daemon) Status(context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		CatalogPath:  d.catalog.Path(),
		BridgeURL:    d.endpoints.Base,
		LogPath:      d.logPath,
		Dependencies: deps.CheckBinaries(Requirements(d.cfg)),
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	status.DiscoveryRunning = d.feed != nil
	status.HotplugRunning = d.hotplug != nil && d.hotplug.Running()
	if d.backend != nil {
		status.BackendPort = d.backend.Port()
	}
	status.APIAddress = d.api.addr()
	if d.manager != nil {
		if desc, ok := d.manager.Selected(); ok {
			status.Selected = desc.ID
		}
		status.Devices = d.manager.Devices()
	}
	return status
}

// Requirements lists the external binaries cfg makes the daemon launch.
// They are optional unless the daemon launches the slicing backend itself.
func Requirements(cfg *config.Config) []deps.Requirement {
	optional := !cfg.Slicing.LaunchBackend
	reqs := []deps.Requirement{{
		Name:        "Slicing backend",
		Command:     cfg.Slicing.BackendBinary,
		Description: "serves the slicing channel on a local port",
		Optional:    optional,
	}}
	if strings.TrimSpace(cfg.Slicing.SlicerPath) != "" {
		reqs = append(reqs, deps.Requirement{
			Name:        "Slicer",
			Command:     cfg.Slicing.SlicerPath,
			Description: "slicing engine passed to the backend",
			Optional:    optional,
		})
	}
	return reqs
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

func (d *Daemon) connect(ctx context.Context, desc protocol.Descriptor) (session.Device, error) {
	conn, err := device.Open(ctx, device.Options{
		Dialer:         d.dialer,
		Endpoints:      d.endpoints,
		ConnectTimeout: d.cfg.ConnectTimeout(),
		CommandTimeout: d.cfg.CommandTimeout(),
		QueueOptions:   d.queueOpts,
		Logger:         d.logger,
	}, desc)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d *Daemon) startDiscovery(ctx context.Context) error {
	feed, err := discovery.NewFeed(discovery.Options{
		Dialer:   d.dialer,
		Endpoint: d.endpoints.Discover(),
		Interval: d.cfg.DiscoveryInterval(),
		Logger:   d.logger,
	})
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.feed = feed
	manager := d.manager
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := feed.Run(ctx, func(snapshot []protocol.Descriptor) { d.observe(ctx, manager, snapshot) }); err != nil {
			d.logger.Debug("discovery feed ended", logging.Error(err))
		}
	}()

	if d.cfg.Discovery.USBHotplug {
		monitor := discovery.NewHotplugMonitor(d.logger, feed.Rescan)
		if err := monitor.Start(ctx); err != nil {
			return err
		}
		d.mu.Lock()
		d.hotplug = monitor
		d.mu.Unlock()
	}
	return nil
}

func (d *Daemon) observe(ctx context.Context, manager *session.Manager, snapshot []protocol.Descriptor) {
	if err := d.catalog.Upsert(ctx, snapshot); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(d.logger, "catalog update failed", "catalog_upsert_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state directory is writable"),
			logging.String(logging.FieldImpact, "device lookups by name may be stale"),
		)
	}
	manager.ObserveDiscovery(ctx, snapshot)
}

func (d *Daemon) startBackend(ctx context.Context) error {
	backend, err := slicing.LaunchBackend(ctx, slicing.BackendOptions{
		Binary:     d.cfg.Slicing.BackendBinary,
		SlicerPath: d.cfg.Slicing.SlicerPath,
		PortStart:  d.cfg.Slicing.PortStart,
		PortMax:    d.cfg.Slicing.PortMax,
		Dir:        d.cfg.Paths.StateDir,
		Logger:     d.logger,
	})
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.backend = backend
	d.mu.Unlock()
	return nil
}

func (d *Daemon) session() (*session.Manager, context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.manager == nil {
		return nil, nil, ErrNotRunning
	}
	return d.manager, d.ctx, nil
}

// outputPath resolves name under the configured output directory unless it is
// already absolute.
func (d *Daemon) outputPath(name, fallback string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fallback
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.cfg.Paths.OutputDir, name)
}

func timestamp() string {
	return time.Now().UTC().Format("20060102T150405")
}
