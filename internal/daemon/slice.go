package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"printlink/internal/bridge"
	"printlink/internal/cmdqueue"
	"printlink/internal/logging"
	"printlink/internal/services"
	"printlink/internal/slicing"
)

// SliceRequest describes a slicing run started over IPC.
type SliceRequest struct {
	Models   []string
	Engine   string
	Settings []slicing.Setting
	Mode     string
	ViaPath  bool
	// Output is the destination file; empty writes under the output directory.
	Output string
}

// SliceResult reports where the sliced job was written.
type SliceResult struct {
	Path     string
	Bytes    int
	Time     float64
	Filament float64
}

// Slice runs a full slicing job on the backend and writes the result. Only
// one run is active at a time.
func (d *Daemon) Slice(ctx context.Context, req SliceRequest) (SliceResult, error) {
	if len(req.Models) == 0 {
		return SliceResult{}, services.Wrap(services.ErrValidation, "daemon", "slice", "at least one model is required", nil)
	}
	d.sliceMu.Lock()
	defer d.sliceMu.Unlock()

	client, err := d.slicingClient(ctx)
	if err != nil {
		return SliceResult{}, err
	}
	engine := req.Engine
	if engine == "" {
		engine = d.cfg.Slicing.Engine
	}

	job := slicing.Job{
		Engine:   engine,
		Settings: req.Settings,
		Mode:     req.Mode,
		ViaPath:  req.ViaPath,
		OnUpload: func(name string, update cmdqueue.Progress) {
			d.logger.Debug("model upload progress", logging.String("model", name), logging.Int("percent", update.Percent))
		},
		OnProgress: func(p slicing.Progress) {
			d.logger.Debug("slicing progress", logging.String("status", p.Status), logging.Float64("percentage", p.Percentage))
		},
	}
	names := make([]string, 0, len(req.Models))
	for _, path := range req.Models {
		job.Models = append(job.Models, slicing.Model{Path: path})
		names = append(names, slicing.ModelName(path))
	}

	result, err := client.Run(ctx, job)
	if err != nil {
		return SliceResult{}, err
	}

	out := d.outputPath(req.Output, fmt.Sprintf("%s-%s.fc", names[0], timestamp()))
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return SliceResult{}, fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(out, result.Data, 0o644); err != nil {
		return SliceResult{}, fmt.Errorf("write sliced job: %w", err)
	}
	if err := d.notifier.NotifySliceCompleted(ctx, names, len(result.Data)); err != nil {
		d.logger.Debug("slice notification failed", logging.Error(err))
	}
	return SliceResult{
		Path:     out,
		Bytes:    len(result.Data),
		Time:     result.Progress.Time,
		Filament: result.Progress.Filament,
	}, nil
}

// slicingClient returns the open backend client, dialing a new one when none
// exists or the previous channel broke.
func (d *Daemon) slicingClient(ctx context.Context) (*slicing.Client, error) {
	d.mu.Lock()
	client := d.slicer
	backend := d.backend
	running := d.manager != nil
	d.mu.Unlock()
	if !running {
		return nil, ErrNotRunning
	}
	if client != nil && client.Err() == nil {
		return client, nil
	}
	if client != nil {
		_ = client.Close()
	}

	endpoint := d.endpoints.Slicing()
	if backend != nil {
		local, err := bridge.NewEndpoints(backend.BaseURL())
		if err != nil {
			return nil, err
		}
		endpoint = local.Slicing()
	}
	client, err := slicing.Dial(ctx, slicing.Options{
		Dialer:         d.dialer,
		Endpoint:       endpoint,
		CommandTimeout: d.cfg.CommandTimeout(),
		QueueOptions:   d.queueOpts,
		Logger:         d.logger,
	})
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.slicer = client
	d.mu.Unlock()
	return client, nil
}
