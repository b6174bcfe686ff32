package slicing

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"printlink/internal/logging"
	"printlink/internal/services"
)

const (
	// DefaultPortStart is the first port probed for the backend.
	DefaultPortStart = 8000
	maxPort          = 65535
	stopGrace        = 5 * time.Second
)

// ErrNoFreePort reports that every port in the probed range is taken.
var ErrNoFreePort = errors.New("no free port")

// FindFreePort returns the first port in [start, max] that accepts a local
// listener. Zero bounds fall back to DefaultPortStart and 65535.
func FindFreePort(start, max int) (int, error) {
	if start <= 0 {
		start = DefaultPortStart
	}
	if max <= 0 || max > maxPort {
		max = maxPort
	}
	for port := start; port <= max; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		_ = ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("%w in %d-%d", ErrNoFreePort, start, max)
}

// BackendOptions configures a backend launch.
type BackendOptions struct {
	Binary     string
	SlicerPath string
	PortStart  int
	PortMax    int
	Dir        string
	Logger     *slog.Logger
}

// Backend is a running slicing backend process.
type Backend struct {
	port   int
	cmd    *exec.Cmd
	logger *slog.Logger
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// BackendArgs builds the backend command line for port.
func BackendArgs(slicerPath string, port int) []string {
	args := make([]string, 0, 4)
	if strings.TrimSpace(slicerPath) != "" {
		args = append(args, "--slic3r", slicerPath)
	}
	return append(args, "--port", strconv.Itoa(port))
}

// LaunchBackend starts the backend binary on the first free port. The process
// is killed when ctx ends.
func LaunchBackend(ctx context.Context, opts BackendOptions) (*Backend, error) {
	logger := logging.NewComponentLogger(opts.Logger, "slicing-backend")
	binary, err := resolveBinary(opts.Binary)
	if err != nil {
		return nil, err
	}
	port, err := FindFreePort(opts.PortStart, opts.PortMax)
	if err != nil {
		return nil, services.Wrap(services.ErrResourceBusy, "slicing", "launch backend", "probe port", err)
	}

	cmd := exec.CommandContext(ctx, binary, BackendArgs(opts.SlicerPath, port)...)
	cmd.Dir = opts.Dir
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = stopGrace
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("backend stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("backend stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrProtocol, "slicing", "launch backend", binary, err)
	}

	b := &Backend{
		port:   port,
		cmd:    cmd,
		logger: logger.With(logging.Int("port", port)),
		done:   make(chan struct{}),
	}
	var pipes sync.WaitGroup
	pipes.Add(2)
	go b.relay(&pipes, stdout, slog.LevelDebug)
	go b.relay(&pipes, stderr, slog.LevelWarn)
	go func() {
		pipes.Wait()
		err := cmd.Wait()
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
		if err != nil && ctx.Err() == nil {
			logging.WarnWithContext(b.logger, "slicing backend exited", "backend_exit",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check backend_binary and slicer_path in the [slicing] config"),
				logging.String(logging.FieldImpact, "slicing commands fail until the daemon restarts"),
			)
		} else {
			b.logger.Info("slicing backend stopped")
		}
		close(b.done)
	}()
	b.logger.Info("slicing backend started", logging.String("binary", binary))
	return b, nil
}

// Port returns the port the backend listens on.
func (b *Backend) Port() int { return b.port }

// BaseURL returns the websocket base URL of the backend.
func (b *Backend) BaseURL() string {
	return "ws://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(b.port))
}

// Done is closed after the process exits.
func (b *Backend) Done() <-chan struct{} { return b.done }

// Err returns the exit error once Done is closed.
func (b *Backend) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Stop terminates the process and waits for it to exit.
func (b *Backend) Stop() error {
	select {
	case <-b.done:
		return nil
	default:
	}
	if err := b.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	select {
	case <-b.done:
	case <-time.After(stopGrace):
		_ = b.cmd.Process.Kill()
		<-b.done
	}
	return nil
}

func (b *Backend) relay(wg *sync.WaitGroup, r io.Reader, level slog.Level) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		b.logger.Log(context.Background(), level, "backend output", logging.String("line", line))
	}
}

// resolveBinary locates binary on PATH when it is not a path and checks that
// it is executable.
func resolveBinary(binary string) (string, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return "", services.Wrap(services.ErrValidation, "slicing", "launch backend", "backend binary is required", nil)
	}
	resolved := binary
	if !strings.ContainsRune(binary, '/') {
		found, err := exec.LookPath(binary)
		if err != nil {
			return "", services.Wrap(services.ErrNotFound, "slicing", "launch backend", binary, err)
		}
		resolved = found
	}
	if err := unix.Access(resolved, unix.X_OK); err != nil {
		return "", services.Wrap(services.ErrValidation, "slicing", "launch backend",
			fmt.Sprintf("%s is not executable", resolved), err)
	}
	return resolved, nil
}
