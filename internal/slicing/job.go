package slicing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"printlink/internal/cmdqueue"
	"printlink/internal/logging"
	"printlink/internal/services"
)

const defaultPollInterval = 500 * time.Millisecond

// Model is one model file to slice.
type Model struct {
	// Name identifies the model on the backend. Empty derives it from Path.
	Name      string
	Path      string
	Placement *Placement
}

// Setting is one advanced_setting entry.
type Setting struct {
	Name  string
	Value string
}

// Job describes a full slicing run.
type Job struct {
	Models   []Model
	Engine   string
	Settings []Setting
	Mode     string
	// ViaPath has the backend read model files itself instead of streaming them.
	ViaPath      bool
	PollInterval time.Duration
	OnUpload     func(name string, update cmdqueue.Progress)
	OnProgress   func(Progress)
}

// Result is the output of a completed run.
type Result struct {
	Data     []byte
	Progress Progress
}

// ModelName derives a backend-safe model name from a file path.
func ModelName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, base)
	if name == "" || name == "." {
		return "model"
	}
	return name
}

// Run uploads, places and slices the job's models, then downloads the result.
// A run interrupted while slicing is ended on the backend before returning.
func (c *Client) Run(ctx context.Context, job Job) (Result, error) {
	if len(job.Models) == 0 {
		return Result{}, services.Wrap(services.ErrValidation, "slicing", "run", "at least one model is required", nil)
	}
	if job.Engine != "" {
		if err := c.ChangeEngine(ctx, job.Engine); err != nil {
			return Result{}, err
		}
	}

	names := make([]string, 0, len(job.Models))
	for _, model := range job.Models {
		name, err := c.loadModel(ctx, job, model)
		if err != nil {
			return Result{}, err
		}
		names = append(names, name)
	}
	for _, setting := range job.Settings {
		if err := c.SetParameter(ctx, setting.Name, setting.Value); err != nil {
			return Result{}, err
		}
	}

	if err := c.BeginSlicing(ctx, names, job.Mode); err != nil {
		return Result{}, err
	}
	progress, err := c.poll(ctx, job)
	if err != nil {
		c.abandon()
		return Result{}, err
	}
	data, err := c.GetResult(ctx)
	if err != nil {
		return Result{}, err
	}
	c.logger.Info("slicing complete",
		logging.Int("models", len(names)),
		logging.Int("bytes", len(data)),
	)
	return Result{Data: data, Progress: progress}, nil
}

func (c *Client) loadModel(ctx context.Context, job Job, model Model) (string, error) {
	name := model.Name
	if name == "" {
		name = ModelName(model.Path)
	}
	format := FormatFromPath(model.Path)
	if job.ViaPath {
		abs, err := filepath.Abs(model.Path)
		if err != nil {
			return "", services.Wrap(services.ErrValidation, "slicing", "load model", model.Path, err)
		}
		if err := c.UploadViaPath(ctx, name, format, abs); err != nil {
			return "", err
		}
	} else {
		file, err := os.Open(model.Path)
		if err != nil {
			return "", services.Wrap(services.ErrValidation, "slicing", "open model", model.Path, err)
		}
		var onProgress func(cmdqueue.Progress)
		if job.OnUpload != nil {
			onProgress = func(update cmdqueue.Progress) { job.OnUpload(name, update) }
		}
		err = c.Upload(ctx, name, format, file, -1, onProgress)
		_ = file.Close()
		if err != nil {
			return "", fmt.Errorf("upload model %s: %w", name, err)
		}
	}
	placement := DefaultPlacement()
	if model.Placement != nil {
		placement = *model.Placement
	}
	if err := c.Set(ctx, name, placement); err != nil {
		return "", err
	}
	return name, nil
}

func (c *Client) poll(ctx context.Context, job Job) (Progress, error) {
	interval := job.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		progress, err := c.ReportSlicing(ctx)
		if err != nil {
			return Progress{}, err
		}
		if !progress.Empty && job.OnProgress != nil {
			job.OnProgress(progress)
		}
		if progress.Complete() {
			return progress, nil
		}
		select {
		case <-ctx.Done():
			return Progress{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// abandon ends a slicing run the caller no longer waits for.
func (c *Client) abandon() {
	if errors.Is(c.Err(), services.ErrQueueFatal) || errors.Is(c.Err(), services.ErrConnectionClosed) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.StopSlicing(ctx); err != nil {
		c.logger.Debug("end_slicing after interrupted run failed", logging.Error(err))
	}
}
