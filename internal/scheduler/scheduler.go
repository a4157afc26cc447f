// Package scheduler runs CLI jobs on the engine and mirrors their streams
// onto the terminal display.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/bridge"
	"github.com/tanq16/splitfetch/internal/engine"
	"github.com/tanq16/splitfetch/internal/output"
	"github.com/tanq16/splitfetch/internal/utils"
)

var ErrFailedJobs = errors.New("one or more jobs failed")

var numbered = regexp.MustCompile(`^(.*)-\((\d+)\)$`)

type Job struct {
	URL        string
	OutputPath string
}

type Runner struct {
	engine      *engine.Coordinator
	out         *output.Manager
	connections int
}

func NewRunner(c *engine.Coordinator, out *output.Manager, connections int) *Runner {
	if connections <= 0 {
		connections = utils.DefaultStreamFragments
	}
	return &Runner{engine: c, out: out, connections: connections}
}

// Fetch downloads one URL as a fragmented transfer and writes it to disk.
func (r *Runner) Fetch(ctx context.Context, job Job) (string, error) {
	path := resolveOutput(job)
	id := r.out.Register(path)
	stream, err := r.engine.StartFragmentedDownload(ctx, job.URL, r.connections)
	if err != nil {
		r.out.ReportError(id, err)
		return "", err
	}
	data, err := follow(r.out, id, stream)
	if err != nil {
		return "", err
	}
	if err := writeOutput(path, data); err != nil {
		r.out.ReportError(id, err)
		return "", err
	}
	r.out.Complete(id, fmt.Sprintf("Downloaded %s", path))
	return path, nil
}

type target struct {
	id   int
	path string
}

// Batch downloads every job as a whole file. Jobs sharing a URL are fetched
// once and written to each of their paths.
func (r *Runner) Batch(ctx context.Context, jobs []Job) error {
	urls := make([]string, 0, len(jobs))
	targets := make(map[string][]target)
	claimed := make(map[string]bool)
	for _, job := range jobs {
		path := resolveOutput(job)
		for claimed[path] {
			path = nextPath(path)
		}
		claimed[path] = true
		urls = append(urls, job.URL)
		targets[job.URL] = append(targets[job.URL], target{id: r.out.Register(path), path: path})
	}
	stream, err := r.engine.StartBatchDownload(ctx, urls)
	if err != nil {
		for _, ts := range targets {
			for _, t := range ts {
				r.out.ReportError(t.id, err)
			}
		}
		return err
	}

	failed := false
	overall := engine.NewAggregate()
	for ev := range stream.Events() {
		switch ev.Kind {
		case bridge.EventProgress:
			r.out.SetOverall(overall.Update(ev.Progress))
			for _, t := range targets[ev.URL] {
				r.out.Update(t.id, ev.Progress)
			}
		case bridge.EventFailed:
			failed = true
			for _, t := range targets[ev.URL] {
				r.out.ReportError(t.id, ev.Err)
			}
		case bridge.EventFinished:
			for _, t := range targets[ev.URL] {
				if err := writeOutput(t.path, ev.Result.Data); err != nil {
					failed = true
					r.out.ReportError(t.id, err)
					continue
				}
				r.out.Complete(t.id, fmt.Sprintf("Downloaded %s", t.path))
			}
		case bridge.EventCancelled:
			for _, ts := range targets {
				for _, t := range ts {
					r.out.Cancel(t.id)
				}
			}
			return ev.Err
		}
	}
	if failed {
		return ErrFailedJobs
	}
	return nil
}

func (r *Runner) Upload(ctx context.Context, rawURL string, files []utils.FormFile, params map[string]string) (engine.UploadResult, error) {
	id := r.out.Register(rawURL)
	stream, err := r.engine.Upload(ctx, rawURL, files, params)
	return r.followUpload(id, rawURL, stream, err)
}

// UploadBinary sends one file as the raw request body.
func (r *Runner) UploadBinary(ctx context.Context, rawURL string, file utils.FormFile) (engine.UploadResult, error) {
	id := r.out.Register(rawURL)
	stream, err := r.engine.UploadBinary(ctx, rawURL, file)
	return r.followUpload(id, rawURL, stream, err)
}

func (r *Runner) followUpload(id int, rawURL string, stream *bridge.Stream[engine.UploadResult], err error) (engine.UploadResult, error) {
	if err != nil {
		r.out.ReportError(id, err)
		return engine.UploadResult{}, err
	}
	result, err := follow(r.out, id, stream)
	if err != nil {
		return result, err
	}
	r.out.Complete(id, fmt.Sprintf("Uploaded to %s (%d)", rawURL, result.StatusCode))
	return result, nil
}

// follow mirrors a single-result stream onto one display line.
func follow[T any](out *output.Manager, id int, stream *bridge.Stream[T]) (T, error) {
	var zero T
	for ev := range stream.Events() {
		switch ev.Kind {
		case bridge.EventProgress:
			out.Update(id, ev.Progress)
		case bridge.EventFailed:
			out.ReportError(id, ev.Err)
			return zero, ev.Err
		case bridge.EventCancelled:
			out.Cancel(id)
			return zero, ev.Err
		case bridge.EventFinished:
			return ev.Result, nil
		}
	}
	return zero, bridge.ErrCancelled
}

// nextPath numbers a path the way RenewOutputPath does, without touching disk.
func nextPath(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	if m := numbered.FindStringSubmatch(base); m != nil {
		n, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%s-(%d)%s", m[1], n+1, ext)
	}
	return fmt.Sprintf("%s-(1)%s", base, ext)
}

func resolveOutput(job Job) string {
	path := job.OutputPath
	if path == "" {
		path = utils.OutputNameFromURL(job.URL)
	}
	if _, err := os.Stat(path); err == nil {
		path = utils.RenewOutputPath(path)
	}
	return path
}

func writeOutput(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	log.Debug().Str("op", "scheduler").Str("path", path).Int("bytes", len(data)).Msg("output written")
	return nil
}
