package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"printlink/internal/logging"
)

const hotplugSettle = 2 * time.Second

// HotplugMonitor listens for USB device uevents and calls trigger once the
// bus settles. Printers plugged in over USB show up on the bridge shortly
// after the kernel announces them.
type HotplugMonitor struct {
	logger  *slog.Logger
	trigger func()
	settle  time.Duration

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
	pending *time.Timer
}

// NewHotplugMonitor returns a monitor that calls trigger on USB changes.
func NewHotplugMonitor(logger *slog.Logger, trigger func()) *HotplugMonitor {
	return &HotplugMonitor{
		logger:  logging.NewComponentLogger(logger, "hotplug"),
		trigger: trigger,
		settle:  hotplugSettle,
	}
}

// Start connects to the uevent socket. Failing to connect is logged and
// leaves the monitor stopped.
func (m *HotplugMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "failed to connect to netlink socket; USB printers need a manual rescan", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open netlink sockets"),
			logging.String(logging.FieldImpact, "automatic USB rescan unavailable"),
		)
		return nil
	}
	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true
	go m.monitorLoop(ctx, conn, m.quit)

	m.logger.Info("hotplug monitor started", logging.String(logging.FieldEventType, "hotplug_started"))
	return nil
}

// Stop closes the uevent socket.
func (m *HotplugMonitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.quit)
	m.quit = nil
	_ = m.conn.Close()
	m.conn = nil
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
	m.running = false
	m.logger.Info("hotplug monitor stopped", logging.String(logging.FieldEventType, "hotplug_stopped"))
}

// Running reports whether the monitor is active.
func (m *HotplugMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *HotplugMonitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildMatcher())
	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "USB rescan may be delayed"),
			)
		}
	}
}

// buildMatcher accepts attach and detach of whole USB devices.
func buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "usb",
			"DEVTYPE":   "usb_device",
		},
	})
	return rules
}

// handleEvent debounces bursts of uevents into one trigger call.
func (m *HotplugMonitor) handleEvent(uevent netlink.UEvent) {
	m.logger.Debug("usb change",
		logging.String("action", string(uevent.Action)),
		logging.String("kobj", uevent.KObj),
		logging.String("product", uevent.Env["PRODUCT"]),
	)
	if m.trigger == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		m.pending.Reset(m.settle)
		return
	}
	m.pending = time.AfterFunc(m.settle, func() {
		m.mu.Lock()
		m.pending = nil
		m.mu.Unlock()
		m.trigger()
	})
}
